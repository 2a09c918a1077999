package ldap

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// Authenticator verifies username/password pairs against a directory.
// Every attempt owns a fresh connection; nothing is shared between attempts.
type Authenticator struct {
	config   *ConnectionConfig
	dialer   Dialer
	decoder  *EntryDecoder
	observer Observer
	logger   hclog.Logger
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithDialer replaces the connection factory.
func WithDialer(dialer Dialer) Option {
	return func(a *Authenticator) {
		a.dialer = dialer
	}
}

// WithObserver registers an observer for finished attempts.
func WithObserver(observer Observer) Option {
	return func(a *Authenticator) {
		a.observer = observer
	}
}

// WithDecoder replaces the entry decoder.
func WithDecoder(decoder *EntryDecoder) Option {
	return func(a *Authenticator) {
		a.decoder = decoder
	}
}

// NewAuthenticator validates config and builds an Authenticator from it.
// The configuration must not be modified afterwards.
func NewAuthenticator(config *ConnectionConfig, opts ...Option) (*Authenticator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection configuration: %w", err)
	}

	a := &Authenticator{
		config:   config,
		observer: noopObserver{},
		logger:   config.logger().Named("authenticator"),
	}

	for _, opt := range opts {
		opt(a)
	}

	if a.dialer == nil {
		a.dialer = NewDialer(config)
	}

	if a.decoder == nil {
		var decoderOpts []DecoderOption
		if config.FormatObjectSID {
			decoderOpts = append(decoderOpts, WithSIDFormatting())
		}
		a.decoder = NewEntryDecoder(decoderOpts...)
	}

	return a, nil
}

// Validate starts an attempt in the background and calls done exactly once
// with its outcome. Cancelling ctx fails the attempt.
func (a *Authenticator) Validate(ctx context.Context, username, password string, done func(Outcome)) {
	if done == nil {
		done = func(Outcome) {}
	}

	at := &attempt{
		auth:     a,
		username: username,
		password: password,
		done:     done,
		logger:   a.logger.With("attempt_id", uuid.NewString(), "username", username),
		start:    time.Now(),
		finished: make(chan struct{}),
	}

	go at.run(ctx)
}

// Authenticate runs an attempt and waits for its outcome.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) Outcome {
	result := make(chan Outcome, 1)
	a.Validate(ctx, username, password, func(o Outcome) {
		result <- o
	})
	return <-result
}

// searchRequest builds the user lookup with the username escaped into the filter.
func (a *Authenticator) searchRequest(username string) *SearchRequest {
	filter := strings.ReplaceAll(a.config.searchFilter(), UsernamePlaceholder, ldap.EscapeFilter(username))

	return &SearchRequest{
		BaseDN:       a.config.BaseDN,
		Scope:        ScopeWholeSubtree,
		Filter:       filter,
		Attributes:   a.config.SearchAttributes,
		DerefAliases: NeverDerefAliases,
	}
}

// attemptState is the step an attempt is in.
type attemptState int

const (
	stateConnecting attemptState = iota
	stateBinding
	stateSearching
	stateUnbinding
	stateVerifying
	stateCompleted
	stateFailed
)

func (s attemptState) String() string {
	switch s {
	case stateConnecting:
		return "connect"
	case stateBinding:
		return "bind"
	case stateSearching:
		return "search"
	case stateUnbinding:
		return "unbind"
	case stateVerifying:
		return "verify"
	case stateCompleted:
		return "completed"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// attempt carries one authentication from dial to outcome. The steps run in
// order on a single goroutine; watch races them with connection errors and
// cancellation. finish is the only terminal transition and fires once.
type attempt struct {
	auth     *Authenticator
	username string
	password string
	done     func(Outcome)
	logger   hclog.Logger
	start    time.Time

	completed atomic.Bool
	finished  chan struct{}

	mu    sync.Mutex
	conn  DirectoryConn
	state attemptState
}

func (a *attempt) run(ctx context.Context) {
	if a.username == "" || a.password == "" {
		a.logger.Debug("empty credentials, skipping directory")
		a.finish(notAuthenticatedOutcome())
		return
	}

	a.setState(stateConnecting)
	if ctx.Err() != nil {
		a.fail(abortedError(ctx, stateConnecting))
		return
	}

	conn, err := a.auth.dialer.Dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			a.fail(abortedError(ctx, stateConnecting))
			return
		}
		a.fail(WrapError("connect", err))
		return
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	go a.watch(ctx, conn)

	a.setState(stateBinding)
	if err := a.serviceBind(ctx, conn); err != nil {
		a.fail(WrapError("bind", err))
		return
	}
	if a.completed.Load() {
		return
	}

	a.setState(stateSearching)
	result, err := conn.Search(ctx, a.auth.searchRequest(a.username))
	if err != nil {
		a.fail(WrapError("search", err))
		return
	}
	if a.completed.Load() {
		return
	}

	// The service session ends whether or not the user was found.
	a.setState(stateUnbinding)
	if err := conn.Unbind(ctx); err != nil {
		a.logger.Warn("unbind failed", "error", err)
	}
	if a.completed.Load() {
		return
	}

	if len(result.Entries) == 0 {
		a.logger.Debug("no matching entry")
		a.finish(notAuthenticatedOutcome())
		return
	}
	if len(result.Entries) > 1 {
		a.logger.Warn("search matched multiple entries, using the first", "count", len(result.Entries))
	}
	entry := result.Entries[0]

	profile := a.auth.decoder.Decode(entry, result.Controls)

	a.setState(stateVerifying)
	if err := conn.Bind(ctx, entry.DN, a.password); err != nil {
		a.logger.Debug("verification bind rejected", "dn", entry.DN, "error", err)
		a.finish(notAuthenticatedOutcome())
		return
	}

	a.finish(authenticatedOutcome(profile))
}

// serviceBind authenticates the service account with the configured method.
func (a *attempt) serviceBind(ctx context.Context, conn DirectoryConn) error {
	cfg := a.auth.config

	if cfg.GetAuthMethod() == AuthMethodKerberos {
		binder, ok := conn.(kerberosBinder)
		if !ok {
			return ErrKerberosUnsupported
		}
		return binder.KerberosBind(ctx)
	}

	return conn.Bind(ctx, cfg.BindDN, cfg.BindPassword)
}

// watch fails the attempt on the first unrecoverable connection error or
// on cancellation, whichever comes before the attempt finishes.
func (a *attempt) watch(ctx context.Context, conn DirectoryConn) {
	for {
		select {
		case <-a.finished:
			return

		case <-ctx.Done():
			a.fail(abortedError(ctx, a.currentState()))
			return

		case err := <-conn.Errors():
			if a.auth.config.IsRecoverable(err) {
				LogConnectionEvent(a.logger, "connection_reset_ignored", map[string]any{
					"state": a.currentState().String(),
					"error": err.Error(),
				})
				continue
			}

			LogConnectionEvent(a.logger, "connection_lost", map[string]any{
				"state": a.currentState().String(),
				"error": err.Error(),
			})
			a.fail(NewLDAPError(a.currentState().String(), err))
			return
		}
	}
}

// abortedError reports cancellation of ctx during state. It wraps both
// ErrAttemptAborted and the context's cause.
func abortedError(ctx context.Context, state attemptState) error {
	return NewLDAPError(state.String(), fmt.Errorf("%w: %w", ErrAttemptAborted, context.Cause(ctx)))
}

func (a *attempt) fail(err error) {
	if a.completed.Load() {
		return
	}
	LogLDAPError(a.logger, a.currentState().String(), err, nil)
	a.finish(failedOutcome(err))
}

// finish delivers outcome and destroys the connection. Only the first call has effect.
func (a *attempt) finish(outcome Outcome) {
	if !a.completed.CompareAndSwap(false, true) {
		return
	}
	close(a.finished)

	a.mu.Lock()
	conn := a.conn
	if outcome.Kind == OutcomeFailed {
		a.state = stateFailed
	} else {
		a.state = stateCompleted
	}
	a.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			a.logger.Trace("close failed", "error", err)
		}
	}

	duration := time.Since(a.start)
	a.logger.Debug("attempt finished", "outcome", outcome.Kind.String(), "duration_ms", duration.Milliseconds())

	a.auth.observer.ObserveOutcome(outcome.Kind.String(), duration)
	a.done(outcome)
}

func (a *attempt) setState(state attemptState) {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
}

func (a *attempt) currentState() attemptState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
