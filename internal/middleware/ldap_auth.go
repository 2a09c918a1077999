package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"

	"github.com/isometry/directory-auth/internal/ldap"
	"github.com/isometry/directory-auth/internal/profile"
)

const (
	// IdentityKey holds the *profile.Identity of an authenticated request.
	IdentityKey = "identity"

	StatusSuccess = "success"
	StatusFail    = "fail"
	StatusError   = "error"
)

// Authenticator verifies a username and password against the directory.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) ldap.Outcome
}

// LDAPAuthOptions configures where credentials are read from.
type LDAPAuthOptions struct {
	UsernameField string
	PasswordField string
	Logger        hclog.Logger
}

// LDAPAuth authenticates the request credentials against the directory.
// Credentials come from a JSON body or from form fields. On success the
// identity is stored under IdentityKey and the chain continues; otherwise the
// request is aborted with 401 for rejected credentials and 500 for failures.
func LDAPAuth(auth Authenticator, opts LDAPAuthOptions) gin.HandlerFunc {
	if opts.UsernameField == "" {
		opts.UsernameField = "username"
	}
	if opts.PasswordField == "" {
		opts.PasswordField = "password"
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}

	return func(c *gin.Context) {
		username, password := credentials(c, opts.UsernameField, opts.PasswordField)

		outcome := auth.Authenticate(c.Request.Context(), username, password)

		switch outcome.Kind {
		case ldap.OutcomeAuthenticated:
			c.Set(IdentityKey, profile.FromProfile(outcome.Profile))
			c.Next()

		case ldap.OutcomeNotAuthenticated:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status":  StatusFail,
				"message": "Invalid username or password",
			})

		default:
			logFailure(opts.Logger, username, outcome.Err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"status":  StatusError,
				"message": "Authentication service unavailable",
			})
		}
	}
}

// logFailure logs a failed attempt by error category. An unreachable
// directory is a warning; anything else is an error.
func logFailure(logger hclog.Logger, username string, err error) {
	fields := []any{"username", username, "category", ldap.GetErrorCategory(err), "error", err}

	switch {
	case ldap.IsConnectionError(err):
		logger.Warn("directory unreachable", fields...)
	case ldap.IsAuthenticationError(err):
		logger.Error("directory rejected service credentials", fields...)
	default:
		logger.Error("directory authentication failed", fields...)
	}
}

// credentials extracts the configured fields from a JSON body or a form.
// Missing or non-string values read as empty.
func credentials(c *gin.Context, usernameField, passwordField string) (string, string) {
	if c.ContentType() == gin.MIMEJSON {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			return "", ""
		}
		username, _ := body[usernameField].(string)
		password, _ := body[passwordField].(string)
		return username, password
	}

	return c.PostForm(usernameField), c.PostForm(passwordField)
}

// GetIdentity returns the identity set by LDAPAuth.
func GetIdentity(c *gin.Context) (*profile.Identity, bool) {
	v, exists := c.Get(IdentityKey)
	if !exists {
		return nil, false
	}
	identity, ok := v.(*profile.Identity)
	return identity, ok
}
