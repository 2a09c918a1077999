package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/appleboy/graceful"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/isometry/directory-auth/internal/config"
	"github.com/isometry/directory-auth/internal/ldap"
	"github.com/isometry/directory-auth/internal/metrics"
	"github.com/isometry/directory-auth/internal/middleware"
)

func main() {
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "server":
		if err := runServer(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Printf("Unknown command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Usage: %s [OPTIONS] COMMAND\n\n", os.Args[0])
	fmt.Println("LDAP / Active Directory username and password authentication service")
	fmt.Println("\nCommands:")
	fmt.Println("  server    Start the authentication server")
	fmt.Println("\nOptions:")
	fmt.Println("  -h, --help       Show this help message")
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "directory-auth",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	recorder := metrics.Init(cfg.MetricsEnabled)

	auth, err := ldap.NewAuthenticator(
		cfg.ToConnectionConfig(logger.Named("ldap")),
		ldap.WithObserver(recorder),
	)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(metrics.HTTPMetricsMiddleware(recorder))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	if cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	r.POST("/login",
		middleware.LDAPAuth(auth, middleware.LDAPAuthOptions{
			UsernameField: cfg.UsernameField,
			PasswordField: cfg.PasswordField,
			Logger:        logger.Named("http"),
		}),
		func(c *gin.Context) {
			identity, _ := middleware.GetIdentity(c)
			c.JSON(http.StatusOK, gin.H{
				"status":   middleware.StatusSuccess,
				"identity": identity,
			})
		},
	)

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	m := graceful.NewManager()
	addServerRunningJob(m, srv, logger)
	addServerShutdownJob(m, srv, logger)

	<-m.Done()
	return nil
}

// addServerRunningJob starts the HTTP listener under the graceful manager.
func addServerRunningJob(m *graceful.Manager, srv *http.Server, logger hclog.Logger) {
	m.AddRunningJob(func(ctx context.Context) error {
		go func() {
			logger.Info("server starting", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("failed to start server", "error", err)
				os.Exit(1)
			}
		}()
		<-ctx.Done()
		return nil
	})
}

func addServerShutdownJob(m *graceful.Manager, srv *http.Server, logger hclog.Logger) {
	m.AddShutdownJob(func() error {
		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("server forced to shutdown", "error", err)
			return err
		}

		logger.Info("server exited")
		return nil
	})
}
