package ldap

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// generateRuntimeKrb5Conf renders a krb5.conf that locates the KDCs of realm
// through DNS SRV records and maps domain onto it.
func generateRuntimeKrb5Conf(realm, domain string) (string, error) {
	if realm == "" {
		return "", errors.New("kerberos realm is required for auto-discovery")
	}

	realm = strings.ToUpper(realm)
	if domain == "" {
		domain = realm
	}
	domain = strings.ToLower(domain)

	return fmt.Sprintf(`[libdefaults]
    default_realm = %s
    dns_lookup_kdc = true
    dns_lookup_realm = false
    rdns = false

[realms]
    %s = {
    }

[domain_realm]
    .%s = %s
    %s = %s
`,
		realm,
		realm,
		domain, realm,
		domain, realm,
	), nil
}

// writeRuntimeKrb5Conf writes a generated krb5.conf to a temporary file.
// The returned cleanup removes it.
func writeRuntimeKrb5Conf(realm, domain string) (string, func(), error) {
	content, err := generateRuntimeKrb5Conf(realm, domain)
	if err != nil {
		return "", nil, err
	}

	f, err := os.CreateTemp("", "krb5-*.conf")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create runtime krb5.conf: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write runtime krb5.conf: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write runtime krb5.conf: %w", err)
	}

	return f.Name(), cleanup, nil
}
