package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go"

	"github.com/ArionMiles/receiptcal/pkg/api"
	"github.com/ArionMiles/receiptcal/pkg/logging"
)

// State is the gate's identity state.
type State int

// Gate states.
const (
	NoSession State = iota
	SigningIn
	Active
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "no-session"
	case SigningIn:
		return "signing-in"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// ReadyFunc is invoked whenever an identity becomes active.
type ReadyFunc func(ctx context.Context) error

// GateOptions configures a Gate.
type GateOptions struct {
	// SignInAttempts bounds anonymous sign-in attempts. Defaults to 1.
	SignInAttempts uint
	// RetryDelay is the wait between sign-in attempts.
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Gate guarantees that an identity exists before any repository access.
type Gate struct {
	provider Provider
	attempts uint
	delay    time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	state   State
	started bool
	ready   ReadyFunc
	sub     Subscription
}

// NewGate creates a Gate over provider.
func NewGate(provider Provider, opts GateOptions) *Gate {
	if opts.SignInAttempts == 0 {
		opts.SignInAttempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &Gate{
		provider: provider,
		attempts: opts.SignInAttempts,
		delay:    opts.RetryDelay,
		logger:   logging.OrDefault(opts.Logger).With("component", "session_gate", "provider", provider.Name()),
	}
}

// Start establishes an identity, reusing a persisted session or signing in
// anonymously, then calls ready. Afterwards it follows provider auth events
// until Close. A sign-in failure leaves the gate in NoSession and returns an
// api.ErrIdentity error; Start may then be called again.
func (g *Gate) Start(ctx context.Context, ready ReadyFunc) error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return errors.New("session gate already started")
	}
	g.started = true
	g.ready = ready
	g.mu.Unlock()

	sess, err := g.provider.GetSession(ctx)
	if err != nil {
		g.logger.Warn("reading persisted session failed", "error", err)
		sess = nil
	}

	if sess == nil {
		g.setState(SigningIn)
		sess, err = g.signIn(ctx)
		if err != nil {
			g.mu.Lock()
			g.state = NoSession
			g.started = false
			g.mu.Unlock()
			g.logger.Error("anonymous sign-in failed", "error", err)
			return fmt.Errorf("%w: signing in anonymously: %w", api.ErrIdentity, err)
		}
		g.logger.Info("signed in anonymously", "user_id", sess.User.ID)
	} else {
		g.logger.Debug("reusing persisted session", "user_id", sess.User.ID)
	}

	sub := g.provider.OnAuthStateChange(g.handle)

	g.mu.Lock()
	g.state = Active
	g.sub = sub
	g.mu.Unlock()

	if ready == nil {
		return nil
	}
	return ready(ctx)
}

func (g *Gate) signIn(ctx context.Context) (*Session, error) {
	var sess *Session
	err := retry.Do(
		func() error {
			s, err := g.provider.SignInAnonymously(ctx)
			if err != nil {
				return err
			}
			if s == nil || s.User.ID == "" {
				return errors.New("provider returned an empty session")
			}
			sess = s
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(g.attempts),
		retry.Delay(g.delay),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Warn("sign-in attempt failed", "attempt", n+1, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
	return sess, err
}

func (g *Gate) handle(ctx context.Context, event AuthEvent, _ *Session) {
	g.logger.Debug("auth state changed", "event", event)

	switch event {
	case SignedIn:
		g.mu.Lock()
		g.state = Active
		ready := g.ready
		g.mu.Unlock()

		if ready != nil {
			if err := ready(ctx); err != nil {
				g.logger.Error("refresh after sign-in failed", "error", err)
			}
		}
	case SignedOut:
		g.setState(NoSession)
	case TokenRefreshed:
		// Identity unchanged.
	}
}

func (g *Gate) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// User resolves the current user through the provider. It is never cached,
// so a mid-session identity change is observed by the next call.
func (g *Gate) User(ctx context.Context) (User, error) {
	if st := g.State(); st != Active {
		return User{}, fmt.Errorf("%w: session is %s", api.ErrIdentity, st)
	}

	u, err := g.provider.GetUser(ctx)
	if err != nil {
		return User{}, fmt.Errorf("%w: resolving current user: %w", api.ErrIdentity, err)
	}
	if u == nil || u.ID == "" {
		return User{}, fmt.Errorf("%w: %w", api.ErrIdentity, ErrNoUser)
	}
	return *u, nil
}

// Close stops following auth events.
func (g *Gate) Close() {
	g.mu.Lock()
	sub := g.sub
	g.sub = nil
	g.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}
