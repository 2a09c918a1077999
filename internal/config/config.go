package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"

	"github.com/isometry/directory-auth/internal/ldap"
)

type Config struct {
	// Server settings
	ServerAddr     string `default:":8080"`
	LogLevel       string `default:"info"`
	MetricsEnabled bool   `default:"true"`

	// Request fields carrying the credentials
	UsernameField string `default:"username"`
	PasswordField string `default:"password"`

	// Directory location
	LDAPURL    string
	LDAPDomain string // SRV discovery domain, used when LDAPURL is empty
	BaseDN     string

	// Service account
	BindDN       string
	BindPassword string

	SearchFilter string `default:"(|(sAMAccountName={0})(uid={0}))"`

	// TLS
	StartTLS           bool
	InsecureSkipVerify bool
	CACertFile         string

	// Timeouts
	ConnectTimeout   time.Duration `default:"10s"`
	IdleTimeout      time.Duration
	OperationTimeout time.Duration `default:"30s"`

	// Reconnect policy
	Reconnect         bool
	RecoverableErrors []string `default:"[\"connection reset by peer\"]"`
	MaxConnections    int      `default:"10"`

	// Kerberos service bind
	KerberosRealm  string
	KerberosKeytab string
	KerberosConfig string // krb5.conf path; generated from DNS when unset and /etc/krb5.conf is missing

	FormatObjectSID bool
}

// Load reads configuration from the environment, after loading a .env file
// when one exists. Unset variables keep their struct defaults.
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}

	cfg.ServerAddr = getEnv("SERVER_ADDR", cfg.ServerAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsEnabled = getEnvBool("METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.UsernameField = getEnv("USERNAME_FIELD", cfg.UsernameField)
	cfg.PasswordField = getEnv("PASSWORD_FIELD", cfg.PasswordField)

	cfg.LDAPURL = getEnv("LDAP_URL", cfg.LDAPURL)
	cfg.LDAPDomain = getEnv("LDAP_DOMAIN", cfg.LDAPDomain)
	cfg.BaseDN = getEnv("LDAP_BASE_DN", cfg.BaseDN)
	cfg.BindDN = getEnv("LDAP_BIND_DN", cfg.BindDN)
	cfg.BindPassword = getEnv("LDAP_BIND_PASSWORD", cfg.BindPassword)
	cfg.SearchFilter = getEnv("LDAP_SEARCH_FILTER", cfg.SearchFilter)

	cfg.StartTLS = getEnvBool("LDAP_START_TLS", cfg.StartTLS)
	cfg.InsecureSkipVerify = getEnvBool("LDAP_INSECURE_SKIP_VERIFY", cfg.InsecureSkipVerify)
	cfg.CACertFile = getEnv("LDAP_CA_CERT_FILE", cfg.CACertFile)

	cfg.ConnectTimeout = getEnvDuration("LDAP_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	cfg.IdleTimeout = getEnvDuration("LDAP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.OperationTimeout = getEnvDuration("LDAP_OPERATION_TIMEOUT", cfg.OperationTimeout)

	cfg.Reconnect = getEnvBool("LDAP_RECONNECT", cfg.Reconnect)
	cfg.RecoverableErrors = getEnvSlice("LDAP_RECOVERABLE_ERRORS", cfg.RecoverableErrors)
	cfg.MaxConnections = getEnvInt("LDAP_MAX_CONNECTIONS", cfg.MaxConnections)

	cfg.KerberosRealm = getEnv("LDAP_KERBEROS_REALM", cfg.KerberosRealm)
	cfg.KerberosKeytab = getEnv("LDAP_KERBEROS_KEYTAB", cfg.KerberosKeytab)
	cfg.KerberosConfig = getEnv("LDAP_KERBEROS_CONFIG", cfg.KerberosConfig)

	cfg.FormatObjectSID = getEnvBool("LDAP_FORMAT_OBJECT_SID", cfg.FormatObjectSID)

	return cfg, nil
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.LDAPURL == "" && c.LDAPDomain == "" {
		return errors.New("either LDAP_URL or LDAP_DOMAIN must be set")
	}

	if c.BaseDN == "" {
		return errors.New("LDAP_BASE_DN is required")
	}

	if c.UsernameField == "" || c.PasswordField == "" {
		return errors.New("USERNAME_FIELD and PASSWORD_FIELD cannot be empty")
	}

	if c.UsernameField == c.PasswordField {
		return fmt.Errorf("USERNAME_FIELD and PASSWORD_FIELD must differ: %q", c.UsernameField)
	}

	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		return fmt.Errorf("invalid LOG_LEVEL value: %q", c.LogLevel)
	}

	return nil
}

// ToConnectionConfig builds the directory connection configuration.
func (c *Config) ToConnectionConfig(logger hclog.Logger) *ldap.ConnectionConfig {
	conn := ldap.DefaultConfig()

	conn.URL = c.LDAPURL
	conn.Domain = c.LDAPDomain
	conn.BaseDN = c.BaseDN
	conn.BindDN = c.BindDN
	conn.BindPassword = c.BindPassword
	conn.SearchFilter = c.SearchFilter

	conn.StartTLS = c.StartTLS
	conn.InsecureSkipVerify = c.InsecureSkipVerify
	conn.TLSCACertFile = c.CACertFile

	conn.ConnectTimeout = c.ConnectTimeout
	conn.IdleTimeout = c.IdleTimeout
	conn.OperationTimeout = c.OperationTimeout

	conn.Reconnect = c.Reconnect
	conn.RecoverableErrors = c.RecoverableErrors
	conn.MaxConnections = c.MaxConnections

	if c.KerberosRealm != "" {
		conn.KerberosRealm = c.KerberosRealm
		conn.KerberosKeytab = c.KerberosKeytab
		conn.KerberosConfig = c.KerberosConfig
	}

	conn.FormatObjectSID = c.FormatObjectSID
	conn.Logger = logger

	return conn
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if _, err := fmt.Sscanf(value, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := []string{}
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				parts = append(parts, part)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}
