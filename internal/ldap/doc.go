/*
Package ldap authenticates username/password pairs against an LDAP or
Active Directory service and decodes the matched entry into a profile.

# Architecture Overview

The package is organized into several core components:

  - Authenticator: runs one authentication attempt per call
  - Dialer / DirectoryConn: per-attempt connections on top of go-ldap
  - EntryDecoder: attribute-driven projection of search entries
  - Handlers: Utility operations (GUID, SID conversion)

# Authentication Workflow

Each attempt owns a fresh connection and walks a fixed sequence:

  - bind as the service account (simple or Kerberos)
  - search the base DN for the user with the filter template
  - unbind, then bind again as the matched entry with the user's password

An unknown user and a wrong password both yield OutcomeNotAuthenticated.
Infrastructure problems yield OutcomeFailed. Connection errors and context
cancellation race the steps; whichever reaches the attempt first decides the
outcome, and the callback runs exactly once.

# Connection Management

Servers come from the configured URL or from SRV discovery on a domain:

  - SRV-based domain controller discovery
  - LDAPS or StartTLS with an optional CA file
  - Timeouts enforced by the connection (connect, idle, per operation)
  - Configurable tolerance for connection resets

# Entry Decoding

Photos stay raw bytes, objectGUID is rendered in canonical form and every
other attribute is decoded as strings. Single values collapse to scalars.
The "dn" and "controls" keys are always present.

# Error Handling

The package provides structured error handling through LDAPError:

  - Categorized errors (connection, authentication, validation, etc.)
  - Detailed context preservation
  - Server message integration

# Example Usage

	config := ldap.DefaultConfig()
	config.URL = "ldaps://dc1.example.com"
	config.BaseDN = "DC=example,DC=com"
	config.BindDN = "CN=svc-auth,OU=Service,DC=example,DC=com"
	config.BindPassword = "secret"

	auth, err := ldap.NewAuthenticator(config)
	if err != nil {
		return err
	}

	outcome := auth.Authenticate(ctx, "alice", "password")
	if outcome.Kind == ldap.OutcomeAuthenticated {
		fmt.Println(outcome.Profile.DN())
	}
*/
package ldap
