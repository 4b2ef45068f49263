package local

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ArionMiles/receiptcal/pkg/identity"
	"github.com/ArionMiles/receiptcal/pkg/logging"
)

func TestProviderPersistsIdentity(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "device.json")

	p := New(path, logging.Discard())
	sess, err := p.GetSession(ctx)
	if err != nil || sess != nil {
		t.Fatalf("fresh provider: got %v, %v", sess, err)
	}
	if _, err := p.GetUser(ctx); !errors.Is(err, identity.ErrNoUser) {
		t.Errorf("GetUser before sign-in: got %v", err)
	}

	var events []identity.AuthEvent
	p.OnAuthStateChange(func(_ context.Context, e identity.AuthEvent, _ *identity.Session) {
		events = append(events, e)
	})

	created, err := p.SignInAnonymously(ctx)
	if err != nil {
		t.Fatalf("SignInAnonymously: %v", err)
	}
	if !created.User.Anonymous || created.User.ID == "" {
		t.Errorf("unexpected user %+v", created.User)
	}
	if len(events) != 1 || events[0] != identity.SignedIn {
		t.Errorf("events: got %v", events)
	}

	// A new process on the same device sees the same identity.
	reopened := New(path, logging.Discard())
	sess, err = reopened.GetSession(ctx)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess == nil || sess.User.ID != created.User.ID {
		t.Fatalf("got %+v, want user %s", sess, created.User.ID)
	}
	u, err := reopened.GetUser(ctx)
	if err != nil || u.ID != created.User.ID {
		t.Errorf("GetUser: got %+v, %v", u, err)
	}
}

func TestProviderWithGate(t *testing.T) {
	p := New("", logging.Discard())
	g := identity.NewGate(p, identity.GateOptions{Logger: logging.Discard()})
	defer g.Close()

	if err := g.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	u, err := g.User(context.Background())
	if err != nil || u.ID == "" {
		t.Errorf("User: got %+v, %v", u, err)
	}
}
