package ldap

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"
)

// UsernamePlaceholder is substituted with the escaped username in a search filter template.
const UsernamePlaceholder = "{0}"

// DefaultSearchFilter matches either the Active Directory or the POSIX account name.
const DefaultSearchFilter = "(|(sAMAccountName={0})(uid={0}))"

// DefaultRecoverableErrors lists error patterns a reconnecting connection recovers from.
var DefaultRecoverableErrors = []string{"connection reset by peer"}

// ConnectionConfig holds configuration for directory connections.
// It is treated as immutable once an Authenticator has been built from it.
type ConnectionConfig struct {
	// Connection settings
	URL    string // ldap:// or ldaps:// URL of the directory
	Domain string // Domain for SRV discovery (used when URL is empty)
	BaseDN string // Base DN for user searches

	// Search settings
	SearchFilter     string   // Filter template containing UsernamePlaceholder
	SearchAttributes []string // Attributes to request, nil for all user attributes

	// Service account
	BindDN       string // Service account DN (or Kerberos principal)
	BindPassword string // Service account password

	// Kerberos settings for the service bind
	KerberosRealm  string // Kerberos realm for GSSAPI authentication
	KerberosKeytab string // Path to Kerberos keytab file
	KerberosConfig string // Path to Kerberos config file (krb5.conf)
	KerberosSPN    string // Explicit service principal, derived from host when empty

	// TLS settings
	TLSConfig          *tls.Config // Custom TLS configuration
	StartTLS           bool        // Upgrade ldap:// connections with StartTLS
	TLSCACertFile      string      // Path to CA certificate file
	InsecureSkipVerify bool        // Skip certificate verification (not recommended)

	// Timeouts, enforced by the connection itself
	ConnectTimeout   time.Duration // Dial timeout
	IdleTimeout      time.Duration // Maximum silence on the socket
	OperationTimeout time.Duration // Per-request timeout

	// Reconnect settings
	Reconnect         bool     // Tolerate resets the connection recovers from
	RecoverableErrors []string // Error substrings treated as recoverable resets

	// MaxConnections is a sizing hint only; every attempt owns one connection.
	MaxConnections int

	// FormatObjectSID renders objectSid values as S-1-5-... strings.
	FormatObjectSID bool

	Logger hclog.Logger
}

// DefaultConfig returns a secure default configuration.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		SearchFilter:      DefaultSearchFilter,
		ConnectTimeout:    10 * time.Second,
		OperationTimeout:  30 * time.Second,
		RecoverableErrors: DefaultRecoverableErrors,
		MaxConnections:    10,
	}
}

// ServerInfo contains information about an LDAP server.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string // "srv", "config", "fallback"
}

// SearchRequest encapsulates LDAP search parameters.
type SearchRequest struct {
	BaseDN       string
	Scope        SearchScope
	Filter       string
	Attributes   []string
	SizeLimit    int
	TimeLimit    time.Duration
	DerefAliases DerefAliases
}

// SearchResult holds the entries and response controls collected from a search stream.
type SearchResult struct {
	Entries  []*ldap.Entry
	Controls []ldap.Control
}

// SearchScope defines LDAP search scope.
type SearchScope int

const (
	ScopeBaseObject SearchScope = iota
	ScopeSingleLevel
	ScopeWholeSubtree
)

// String returns string representation of the scope.
func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	default:
		return "unknown"
	}
}

// DerefAliases defines alias dereferencing behavior.
type DerefAliases int

const (
	NeverDerefAliases DerefAliases = iota
	DerefInSearching
	DerefFindingBaseObj
	DerefAlways
)

// AuthMethod defines how the service account binds.
type AuthMethod int

const (
	AuthMethodSimpleBind AuthMethod = iota // DN/password bind
	AuthMethodKerberos                     // GSSAPI/Kerberos bind
)

// String returns string representation of authentication method.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodSimpleBind:
		return "simple"
	case AuthMethodKerberos:
		return "kerberos"
	default:
		return "unknown"
	}
}

// GetAuthMethod determines the service bind method from the configuration.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	// Kerberos authentication takes precedence
	if c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.BindDN != "") {
		return AuthMethodKerberos
	}
	return AuthMethodSimpleBind
}

// Validate checks that the configuration can produce working connections.
func (c *ConnectionConfig) Validate() error {
	if c == nil {
		return errors.New("configuration cannot be nil")
	}

	if c.URL == "" && c.Domain == "" {
		return errors.New("either URL or domain must be specified")
	}

	if c.URL != "" {
		if _, err := ParseLDAPURL(c.URL); err != nil {
			return fmt.Errorf("invalid LDAP URL %s: %w", c.URL, err)
		}
	}

	if c.BaseDN == "" {
		return errors.New("base DN is required")
	}

	if _, err := ldap.ParseDN(c.BaseDN); err != nil {
		return fmt.Errorf("invalid base DN %q: %w", c.BaseDN, err)
	}

	filter := c.searchFilter()
	if !strings.Contains(filter, UsernamePlaceholder) {
		return fmt.Errorf("search filter %q must contain %s", filter, UsernamePlaceholder)
	}

	if _, err := ldap.CompileFilter(strings.ReplaceAll(filter, UsernamePlaceholder, "user")); err != nil {
		return fmt.Errorf("invalid search filter %q: %w", filter, err)
	}

	if c.GetAuthMethod() == AuthMethodSimpleBind && (c.BindDN == "" || c.BindPassword == "") {
		return errors.New("service bind DN and password are required")
	}

	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections cannot be negative: %d", c.MaxConnections)
	}

	return nil
}

// IsRecoverable reports whether err is a reset the connection is configured to ride out.
func (c *ConnectionConfig) IsRecoverable(err error) bool {
	if err == nil || !c.Reconnect {
		return false
	}

	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	patterns := c.RecoverableErrors
	if patterns == nil {
		patterns = DefaultRecoverableErrors
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range patterns {
		if pattern != "" && strings.Contains(errStr, strings.ToLower(pattern)) {
			return true
		}
	}

	return false
}

// searchFilter returns the configured template or the default.
func (c *ConnectionConfig) searchFilter() string {
	if c.SearchFilter == "" {
		return DefaultSearchFilter
	}
	return c.SearchFilter
}

// logger returns the configured logger or a discarding one.
func (c *ConnectionConfig) logger() hclog.Logger {
	if c.Logger == nil {
		return hclog.NewNullLogger()
	}
	return c.Logger
}

// tlsConfigFor builds the TLS configuration used to reach server.
func (c *ConnectionConfig) tlsConfigFor(server *ServerInfo) (*tls.Config, error) {
	var cfg *tls.Config
	if c.TLSConfig != nil {
		cfg = c.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	if cfg.ServerName == "" {
		cfg.ServerName = server.Host
	}

	if c.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true
	}

	if c.TLSCACertFile != "" {
		pem, err := os.ReadFile(c.TLSCACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", c.TLSCACertFile)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}
