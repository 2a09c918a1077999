package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/go-hclog"
)

// connErrorBuffer bounds the number of unread transport errors kept per connection.
const connErrorBuffer = 4

// errConnClosed is returned by operations on a connection after Close.
var errConnClosed = errors.New("connection closed")

// DirectoryConn is a single directory connection owned by one authentication attempt.
type DirectoryConn interface {
	// Bind performs a simple bind.
	Bind(ctx context.Context, dn, password string) error

	// Search runs a search and collects the streamed entries and final controls.
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)

	// Unbind ends the bound session. The handle stays usable for further binds.
	Unbind(ctx context.Context) error

	// Close destroys the connection. Pending operations fail.
	Close() error

	// Errors reports transport failures observed outside of any request.
	Errors() <-chan error
}

// kerberosBinder is implemented by connections able to bind with GSSAPI.
type kerberosBinder interface {
	KerberosBind(ctx context.Context) error
}

// Dialer opens directory connections.
type Dialer interface {
	Dial(ctx context.Context) (DirectoryConn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (DirectoryConn, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (DirectoryConn, error) {
	return f(ctx)
}

// ldapDialer dials the servers named by a ConnectionConfig.
type ldapDialer struct {
	config    *ConnectionConfig
	discovery *SRVDiscovery
	logger    hclog.Logger
}

// NewDialer returns a Dialer for the URL or domain in config.
func NewDialer(config *ConnectionConfig) Dialer {
	logger := config.logger()
	return &ldapDialer{
		config:    config,
		discovery: NewSRVDiscovery(logger, nil),
		logger:    logger,
	}
}

// servers returns the candidate servers in preference order.
func (d *ldapDialer) servers(ctx context.Context) ([]*ServerInfo, error) {
	if d.config.URL != "" {
		server, err := ParseLDAPURL(d.config.URL)
		if err != nil {
			return nil, err
		}
		return []*ServerInfo{server}, nil
	}

	return d.discovery.DiscoverServers(ctx, d.config.Domain)
}

// Dial connects to the first reachable server.
func (d *ldapDialer) Dial(ctx context.Context) (DirectoryConn, error) {
	servers, err := d.servers(ctx)
	if err != nil {
		return nil, NewLDAPError("connect", err)
	}

	errs := make(chan error, connErrorBuffer)

	var dialErrs []error
	for _, server := range servers {
		conn, raw, err := dialServer(ctx, d.config, server, errs)
		if err != nil {
			LogConnectionEvent(d.logger, "connection_failed", map[string]any{
				"server": ServerInfoToURL(server),
				"error":  err.Error(),
			})
			dialErrs = append(dialErrs, err)
			continue
		}

		LogConnectionEvent(d.logger, "connection_established", map[string]any{
			"server": ServerInfoToURL(server),
			"source": server.Source,
		})

		return &ldapConn{
			config: d.config,
			server: server,
			logger: d.logger,
			errs:   errs,
			conn:   conn,
			raw:    raw,
		}, nil
	}

	return nil, NewLDAPError("connect", errors.Join(dialErrs...))
}

// dialServer opens a socket to server, starts the LDAP message loop and
// upgrades with StartTLS when configured.
func dialServer(ctx context.Context, config *ConnectionConfig, server *ServerInfo, errs chan<- error) (*ldap.Conn, *monitoredConn, error) {
	addr := net.JoinHostPort(server.Host, strconv.Itoa(server.Port))
	netDialer := &net.Dialer{Timeout: config.ConnectTimeout}

	var tlsConfig *tls.Config
	if server.UseTLS || config.StartTLS {
		var err error
		if tlsConfig, err = config.tlsConfigFor(server); err != nil {
			return nil, nil, err
		}
	}

	var c net.Conn
	var err error
	if server.UseTLS {
		c, err = (&tls.Dialer{NetDialer: netDialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		c, err = netDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	raw := newMonitoredConn(c, config.IdleTimeout, errs)

	conn := ldap.NewConn(raw, server.UseTLS)
	conn.Start()

	if config.OperationTimeout > 0 {
		conn.SetTimeout(config.OperationTimeout)
	}

	if !server.UseTLS && config.StartTLS {
		if err := conn.StartTLS(tlsConfig); err != nil {
			raw.silence()
			conn.Close()
			return nil, nil, fmt.Errorf("StartTLS failed: %w", err)
		}
	}

	return conn, raw, nil
}

// ldapConn is the go-ldap backed DirectoryConn. An Unbind closes the
// underlying session, so the next Bind redials the same server.
type ldapConn struct {
	config *ConnectionConfig
	server *ServerInfo
	logger hclog.Logger
	errs   chan error

	mu     sync.Mutex
	conn   *ldap.Conn
	raw    *monitoredConn
	closed bool
}

// active returns a live session, redialing after an Unbind.
func (c *ldapConn) active(ctx context.Context) (*ldap.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errConnClosed
	}

	if !c.conn.IsClosing() {
		return c.conn, nil
	}

	conn, raw, err := dialServer(ctx, c.config, c.server, c.errs)
	if err != nil {
		return nil, err
	}

	LogConnectionEvent(c.logger, "connection_redialed", map[string]any{
		"server": ServerInfoToURL(c.server),
	})

	c.conn, c.raw = conn, raw
	return conn, nil
}

func (c *ldapConn) Bind(ctx context.Context, dn, password string) error {
	conn, err := c.active(ctx)
	if err != nil {
		return err
	}
	return conn.Bind(dn, password)
}

// KerberosBind binds with GSSAPI using the configured service credentials.
func (c *ldapConn) KerberosBind(ctx context.Context) error {
	conn, err := c.active(ctx)
	if err != nil {
		return err
	}
	return performKerberosAuth(conn, c.config, c.server)
}

func (c *ldapConn) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	conn, err := c.active(ctx)
	if err != nil {
		return nil, err
	}

	ldapReq := ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		int(req.DerefAliases),
		req.SizeLimit,
		int(req.TimeLimit.Seconds()),
		false,
		req.Filter,
		req.Attributes,
		nil,
	)

	result := &SearchResult{}
	err = LogOperation(c.logger, "search", map[string]any{
		"server":  ServerInfoToURL(c.server),
		"base_dn": req.BaseDN,
	}, func() error {
		resp := conn.SearchAsync(ctx, ldapReq, 0)

		for resp.Next() {
			if entry := resp.Entry(); entry != nil {
				result.Entries = append(result.Entries, entry)
				continue
			}
			// The search-done message carries the response controls.
			if controls := resp.Controls(); len(controls) > 0 {
				result.Controls = controls
			}
		}

		if err := resp.Err(); err != nil {
			return err
		}

		// A cancelled search ends the stream without an error.
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (c *ldapConn) Unbind(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnClosed
	}

	// The server hangs up after an unbind; that is not a failure.
	c.raw.silence()
	return c.conn.Unbind()
}

func (c *ldapConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.raw.silence()
	return c.conn.Close()
}

func (c *ldapConn) Errors() <-chan error {
	return c.errs
}

// monitoredConn reports socket read and write failures to an error channel.
// go-ldap surfaces those only to the request in flight; an attempt also needs
// to learn about them between requests.
type monitoredConn struct {
	net.Conn

	idle  time.Duration
	errs  chan<- error
	quiet atomic.Bool
}

func newMonitoredConn(c net.Conn, idle time.Duration, errs chan<- error) *monitoredConn {
	return &monitoredConn{Conn: c, idle: idle, errs: errs}
}

func (m *monitoredConn) Read(b []byte) (int, error) {
	if m.idle > 0 {
		_ = m.Conn.SetReadDeadline(time.Now().Add(m.idle))
	}

	n, err := m.Conn.Read(b)
	if err != nil {
		m.report(err)
	}
	return n, err
}

func (m *monitoredConn) Write(b []byte) (int, error) {
	n, err := m.Conn.Write(b)
	if err != nil {
		m.report(err)
	}
	return n, err
}

func (m *monitoredConn) Close() error {
	m.silence()
	return m.Conn.Close()
}

// silence stops reporting; used before a deliberate hang-up.
func (m *monitoredConn) silence() {
	m.quiet.Store(true)
}

func (m *monitoredConn) report(err error) {
	if m.quiet.Load() {
		return
	}

	select {
	case m.errs <- err:
	default:
	}
}
