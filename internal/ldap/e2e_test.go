package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/jimlambrt/gldap"
	"github.com/jimlambrt/gldap/testdirectory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	dirBaseDN     = "ou=people,dc=example,dc=org"
	dirServiceDN  = "cn=svc-auth,ou=service,dc=example,dc=org"
	dirServicePwd = "service-secret"
)

type dirUser struct {
	dn       string
	uid      string
	password string
	attrs    map[string][]string
}

// testLDAPServer is a minimal directory: simple binds against a fixed user
// table and searches matching on the uid in the filter.
type testLDAPServer struct {
	server *gldap.Server
	host   string
	port   int
	users  []dirUser

	mu       sync.Mutex
	binds    []string
	searches []string
}

func startTestLDAPServer(t *testing.T, tlsConfig *tls.Config, users ...dirUser) *testLDAPServer {
	t.Helper()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "test-directory",
		Level: hclog.Error,
	})

	d := &testLDAPServer{
		host: "127.0.0.1",
		port: testdirectory.FreePort(t),
		users: append([]dirUser{{
			dn:       dirServiceDN,
			password: dirServicePwd,
		}}, users...),
	}

	server, err := gldap.NewServer(gldap.WithLogger(logger))
	require.NoError(t, err)

	mux, err := gldap.NewMux()
	require.NoError(t, err)
	require.NoError(t, mux.Bind(d.handleBind))
	require.NoError(t, mux.Search(d.handleSearch))
	require.NoError(t, server.Router(mux))

	var runOpts []gldap.Option
	if tlsConfig != nil {
		runOpts = append(runOpts, gldap.WithTLSConfig(tlsConfig))
	}

	go func() {
		_ = server.Run(fmt.Sprintf("%s:%d", d.host, d.port), runOpts...)
	}()
	require.Eventually(t, server.Ready, 5*time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		_ = server.Stop()
	})

	d.server = server
	return d
}

func (d *testLDAPServer) handleBind(w *gldap.ResponseWriter, r *gldap.Request) {
	resp := r.NewBindResponse(gldap.WithResponseCode(gldap.ResultInvalidCredentials))
	defer func() {
		_ = w.Write(resp)
	}()

	m, err := r.GetSimpleBindMessage()
	if err != nil {
		return
	}

	d.mu.Lock()
	d.binds = append(d.binds, m.UserName)
	d.mu.Unlock()

	for _, u := range d.users {
		if strings.EqualFold(u.dn, m.UserName) && u.password == string(m.Password) {
			resp.SetResultCode(gldap.ResultSuccess)
			return
		}
	}
}

func (d *testLDAPServer) handleSearch(w *gldap.ResponseWriter, r *gldap.Request) {
	resp := r.NewSearchDoneResponse()
	resp.SetResultCode(gldap.ResultNoSuchObject)
	defer func() {
		_ = w.Write(resp)
	}()

	m, err := r.GetSearchMessage()
	if err != nil {
		return
	}

	d.mu.Lock()
	d.searches = append(d.searches, m.Filter)
	d.mu.Unlock()

	for _, u := range d.users {
		if u.uid == "" || !strings.HasSuffix(strings.ToLower(u.dn), strings.ToLower(m.BaseDN)) {
			continue
		}
		if !strings.Contains(m.Filter, "(uid="+u.uid+")") {
			continue
		}
		_ = w.Write(r.NewSearchResponseEntry(u.dn, gldap.WithAttributes(u.attrs)))
	}

	resp.SetResultCode(gldap.ResultSuccess)
}

func (d *testLDAPServer) url(scheme string) string {
	return fmt.Sprintf("%s://%s:%d", scheme, d.host, d.port)
}

func (d *testLDAPServer) bindDNs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.binds...)
}

func (d *testLDAPServer) searchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.searches)
}

var aliceGUID = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}

func testUsers() []dirUser {
	return []dirUser{
		{
			dn:       "uid=alice," + dirBaseDN,
			uid:      "alice",
			password: "correct",
			attrs: map[string][]string{
				"uid":         {"alice"},
				"displayName": {"Alice Liddell"},
				"sn":          {"Liddell"},
				"givenName":   {"Alice"},
				"mail":        {"alice@example.org", "a.liddell@example.org"},
				"objectGUID":  {string(aliceGUID)},
			},
		},
		{
			dn:       "uid=bob," + dirBaseDN,
			uid:      "bob",
			password: "hunter2",
			attrs: map[string][]string{
				"uid":  {"bob"},
				"mail": {"bob@example.org"},
			},
		},
	}
}

func e2eConfig(url string) *ConnectionConfig {
	config := DefaultConfig()
	config.URL = url
	config.BaseDN = dirBaseDN
	config.BindDN = dirServiceDN
	config.BindPassword = dirServicePwd
	config.ConnectTimeout = 2 * time.Second
	config.OperationTimeout = 5 * time.Second
	config.Logger = hclog.NewNullLogger()
	return config
}

func authenticate(t *testing.T, auth *Authenticator, username, password string) Outcome {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return auth.Authenticate(ctx, username, password)
}

func TestAuthenticatorE2E(t *testing.T) {
	dir := startTestLDAPServer(t, nil, testUsers()...)

	auth, err := NewAuthenticator(e2eConfig(dir.url("ldap")))
	require.NoError(t, err)

	t.Run("correct password", func(t *testing.T) {
		outcome := authenticate(t, auth, "alice", "correct")

		require.Equal(t, OutcomeAuthenticated, outcome.Kind, "err: %v", outcome.Err)
		assert.Equal(t, "uid=alice,"+dirBaseDN, outcome.Profile.DN())
		assert.Equal(t, "Alice Liddell", outcome.Profile.First("displayName"))
		assert.Equal(t, []string{"alice@example.org", "a.liddell@example.org"}, outcome.Profile.Strings("mail"))
		assert.Equal(t, "04030201-0605-0807-090a-0b0c0d0e0f10", outcome.Profile.First("objectGUID"))
		assert.NotNil(t, outcome.Profile.Controls())

		binds := dir.bindDNs()
		require.GreaterOrEqual(t, len(binds), 2)
		assert.Equal(t, []string{dirServiceDN, "uid=alice," + dirBaseDN}, binds[len(binds)-2:])
	})

	t.Run("wrong password", func(t *testing.T) {
		outcome := authenticate(t, auth, "alice", "wrong")

		assert.Equal(t, OutcomeNotAuthenticated, outcome.Kind)
		assert.NoError(t, outcome.Err)
	})

	t.Run("unknown user", func(t *testing.T) {
		before := len(dir.bindDNs())

		outcome := authenticate(t, auth, "nosuchuser", "whatever")

		assert.Equal(t, OutcomeNotAuthenticated, outcome.Kind)
		// Only the service bind reaches the directory.
		assert.Equal(t, []string{dirServiceDN}, dir.bindDNs()[before:])
	})

	t.Run("empty password never reaches the directory", func(t *testing.T) {
		searches := dir.searchCount()

		outcome := authenticate(t, auth, "alice", "")

		assert.Equal(t, OutcomeNotAuthenticated, outcome.Kind)
		assert.Equal(t, searches, dir.searchCount())
	})

	t.Run("concurrent attempts", func(t *testing.T) {
		var wg sync.WaitGroup
		outcomes := make([]Outcome, 6)
		for i := range outcomes {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if i%2 == 0 {
					outcomes[i] = authenticate(t, auth, "bob", "hunter2")
				} else {
					outcomes[i] = authenticate(t, auth, "bob", "nope")
				}
			}()
		}
		wg.Wait()

		for i, outcome := range outcomes {
			if i%2 == 0 {
				assert.Equal(t, OutcomeAuthenticated, outcome.Kind, "attempt %d: %v", i, outcome.Err)
				assert.Equal(t, "bob@example.org", outcome.Profile["mail"])
			} else {
				assert.Equal(t, OutcomeNotAuthenticated, outcome.Kind, "attempt %d", i)
			}
		}
	})
}

func TestAuthenticatorE2E_BadServicePassword(t *testing.T) {
	dir := startTestLDAPServer(t, nil, testUsers()...)

	config := e2eConfig(dir.url("ldap"))
	config.BindPassword = "not-the-service-password"

	auth, err := NewAuthenticator(config)
	require.NoError(t, err)

	outcome := authenticate(t, auth, "alice", "correct")

	assert.Equal(t, OutcomeFailed, outcome.Kind)
	assert.True(t, IsAuthenticationError(outcome.Err), "err: %v", outcome.Err)
	assert.Zero(t, dir.searchCount())
}

func TestAuthenticatorE2E_Unreachable(t *testing.T) {
	port := testdirectory.FreePort(t)

	auth, err := NewAuthenticator(e2eConfig(fmt.Sprintf("ldap://127.0.0.1:%d", port)))
	require.NoError(t, err)

	outcome := authenticate(t, auth, "alice", "correct")

	assert.Equal(t, OutcomeFailed, outcome.Kind)
	assert.True(t, IsConnectionError(outcome.Err), "err: %v", outcome.Err)
}

func TestAuthenticatorE2E_LDAPS(t *testing.T) {
	serverTLS, clientTLS := testdirectory.GetTLSConfig(t, testdirectory.WithHost(t, "127.0.0.1"))
	dir := startTestLDAPServer(t, serverTLS, testUsers()...)

	t.Run("trusted certificate", func(t *testing.T) {
		config := e2eConfig(dir.url("ldaps"))
		config.TLSConfig = clientTLS

		auth, err := NewAuthenticator(config)
		require.NoError(t, err)

		outcome := authenticate(t, auth, "alice", "correct")
		assert.Equal(t, OutcomeAuthenticated, outcome.Kind, "err: %v", outcome.Err)
	})

	t.Run("untrusted certificate", func(t *testing.T) {
		auth, err := NewAuthenticator(e2eConfig(dir.url("ldaps")))
		require.NoError(t, err)

		outcome := authenticate(t, auth, "alice", "correct")
		assert.Equal(t, OutcomeFailed, outcome.Kind)
	})
}
