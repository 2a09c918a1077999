package ldap

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// kerberosCredentials are the service account credentials resolved from a configuration.
type kerberosCredentials struct {
	principal string
	realm     string
	password  string
	keytab    string
	krb5conf  string

	// discover allows a runtime krb5.conf for domain when krb5conf is absent.
	discover bool
	domain   string
}

// resolveKerberosCredentials derives the principal, realm and credential source
// from cfg without modifying it.
func resolveKerberosCredentials(cfg *ConnectionConfig) (*kerberosCredentials, error) {
	if cfg == nil {
		return nil, errors.New("configuration cannot be nil")
	}

	creds := &kerberosCredentials{
		principal: cfg.BindDN,
		realm:     cfg.KerberosRealm,
		password:  cfg.BindPassword,
		keytab:    cfg.KerberosKeytab,
		krb5conf:  cfg.KerberosConfig,
		discover:  cfg.KerberosConfig == "",
		domain:    cfg.Domain,
	}

	if creds.krb5conf == "" {
		creds.krb5conf = defaultKrb5Conf
	}

	// user@REALM carries its own realm
	if principal, realm, ok := strings.Cut(creds.principal, "@"); ok {
		creds.principal = principal
		if creds.realm == "" {
			creds.realm = realm
		}
	}

	if creds.realm == "" {
		return nil, errors.New("kerberos realm is required (set the realm or include it in the principal)")
	}

	if creds.principal == "" {
		return nil, errors.New("principal is required for Kerberos authentication")
	}

	if creds.keytab == "" && creds.password == "" {
		return nil, errors.New("no suitable Kerberos credentials found: provide a keytab or a password")
	}

	return creds, nil
}

// performKerberosAuth binds conn with GSSAPI using the service account credentials.
func performKerberosAuth(conn *ldap.Conn, cfg *ConnectionConfig, serverInfo *ServerInfo) error {
	creds, err := resolveKerberosCredentials(cfg)
	if err != nil {
		return fmt.Errorf("kerberos configuration error: %w", err)
	}

	gssapiClient, err := createGSSAPIClient(creds)
	if err != nil {
		return fmt.Errorf("failed to create GSSAPI client: %w", err)
	}
	defer func() {
		_ = gssapiClient.DeleteSecContext()
	}()

	spn, err := buildServicePrincipal(cfg, serverInfo)
	if err != nil {
		return fmt.Errorf("failed to build service principal: %w", err)
	}

	if err := conn.GSSAPIBind(gssapiClient, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind failed: %w", err)
	}

	return nil
}

// createGSSAPIClient creates a GSSAPI client. A keytab wins over a password.
// Without an installed krb5.conf and no explicit path, a runtime configuration
// relying on DNS KDC discovery is used.
func createGSSAPIClient(creds *kerberosCredentials) (*gssapi.Client, error) {
	krb5conf := creds.krb5conf

	switch {
	case fileExists(krb5conf):
	case creds.discover:
		path, cleanup, err := writeRuntimeKrb5Conf(creds.realm, creds.domain)
		if err != nil {
			return nil, err
		}
		// The configuration is parsed when the client is created.
		defer cleanup()
		krb5conf = path
	default:
		return nil, fmt.Errorf("Kerberos configuration file not found at %s. "+
			"Either create it or set the Kerberos config path. Example minimal configuration:\n%s",
			creds.krb5conf, generateExampleKrb5Conf(creds.realm))
	}

	if creds.keytab != "" {
		if !fileExists(creds.keytab) {
			return nil, fmt.Errorf("kerberos keytab not readable: %s", creds.keytab)
		}
		return gssapi.NewClientWithKeytab(creds.principal, creds.realm, creds.keytab, krb5conf, krb5client.DisablePAFXFAST(true))
	}

	return gssapi.NewClientWithPassword(creds.principal, creds.realm, creds.password, krb5conf, krb5client.DisablePAFXFAST(true))
}

// buildServicePrincipal constructs the LDAP service principal name from server info.
// If cfg.KerberosSPN is set, it overrides the automatic SPN construction.
func buildServicePrincipal(cfg *ConnectionConfig, serverInfo *ServerInfo) (string, error) {
	if cfg == nil {
		return "", errors.New("configuration is required for service principal")
	}

	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}

	if serverInfo == nil {
		return "", errors.New("server info is required for service principal")
	}

	hostname := serverInfo.Host
	if hostname == "" {
		return "", errors.New("hostname is required for service principal")
	}

	// SPN never includes the port
	if colonPos := strings.Index(hostname, ":"); colonPos != -1 {
		hostname = hostname[:colonPos]
	}

	return "ldap/" + hostname, nil
}

// fileExists checks if a file exists and is readable.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	file, err := os.Open(path)
	if err != nil {
		return false
	}
	file.Close()
	return true
}

// generateExampleKrb5Conf generates example krb5.conf content for error messages.
func generateExampleKrb5Conf(realm string) string {
	if realm == "" {
		return "[libdefaults]\n    default_realm = YOUR.REALM.COM\n\n[realms]\n    YOUR.REALM.COM = {\n        kdc = your-dc.realm.com:88\n    }"
	}

	domain := strings.ToLower(realm)
	kdcHost := "dc." + domain

	return fmt.Sprintf(`[libdefaults]
    default_realm = %s
    dns_lookup_realm = false
    dns_lookup_kdc = false

[realms]
    %s = {
        kdc = %s:88
    }

[domain_realm]
    .%s = %s
    %s = %s`,
		realm,
		realm, kdcHost,
		domain, realm,
		domain, realm)
}
