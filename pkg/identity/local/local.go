// Package local implements a device-local anonymous identity for the
// memory and sqlite stores.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ArionMiles/receiptcal/pkg/client"
	"github.com/ArionMiles/receiptcal/pkg/identity"
	"github.com/ArionMiles/receiptcal/pkg/logging"
)

// Provider mints a random device id on first sign-in and keeps it in a file.
type Provider struct {
	notifier identity.Notifier
	path     string
	logger   *slog.Logger

	mu      sync.Mutex
	session *identity.Session
}

var _ identity.Provider = (*Provider)(nil)

// New creates a provider persisting its identity at path. An empty path keeps
// the identity in memory only.
func New(path string, logger *slog.Logger) *Provider {
	return &Provider{
		path:   path,
		logger: logging.OrDefault(logger).With("component", "identity", "provider", "local"),
	}
}

// Name implements identity.Provider.
func (p *Provider) Name() string { return "local" }

// GetSession implements identity.Provider.
func (p *Provider) GetSession(_ context.Context) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session != nil || p.path == "" {
		return p.session, nil
	}

	sess, err := client.SessionFromFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("loading device identity: %w", err)
	}
	p.session = sess
	return sess, nil
}

// SignInAnonymously implements identity.Provider.
func (p *Provider) SignInAnonymously(ctx context.Context) (*identity.Session, error) {
	sess := &identity.Session{User: identity.User{ID: uuid.NewString(), Anonymous: true}}

	if p.path != "" {
		if err := client.SaveSession(p.path, sess); err != nil {
			return nil, fmt.Errorf("saving device identity: %w", err)
		}
	}

	p.mu.Lock()
	p.session = sess
	p.mu.Unlock()

	p.logger.Info("created device identity", "user_id", sess.User.ID)
	p.notifier.Emit(ctx, identity.SignedIn, sess)
	return sess, nil
}

// GetUser implements identity.Provider.
func (p *Provider) GetUser(_ context.Context) (*identity.User, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return nil, identity.ErrNoUser
	}
	u := p.session.User
	return &u, nil
}

// OnAuthStateChange implements identity.Provider.
func (p *Provider) OnAuthStateChange(l identity.Listener) identity.Subscription {
	return p.notifier.Subscribe(l)
}
