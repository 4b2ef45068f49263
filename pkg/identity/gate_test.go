package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ArionMiles/receiptcal/pkg/api"
	"github.com/ArionMiles/receiptcal/pkg/logging"
)

type fakeProvider struct {
	Notifier

	mu          sync.Mutex
	session     *Session
	signInErrs  []error
	signInCalls int
	userCalls   int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) GetSession(context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, nil
}

func (f *fakeProvider) SignInAnonymously(context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signInCalls++
	if len(f.signInErrs) > 0 {
		err := f.signInErrs[0]
		f.signInErrs = f.signInErrs[1:]
		return nil, err
	}
	f.session = &Session{User: User{ID: "anon-1", Anonymous: true}}
	return f.session, nil
}

func (f *fakeProvider) GetUser(context.Context) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	if f.session == nil {
		return nil, ErrNoUser
	}
	u := f.session.User
	return &u, nil
}

func (f *fakeProvider) OnAuthStateChange(l Listener) Subscription {
	return f.Subscribe(l)
}

func (f *fakeProvider) switchUser(id string) {
	f.mu.Lock()
	f.session = &Session{User: User{ID: id, Anonymous: true}}
	s := f.session
	f.mu.Unlock()
	f.Emit(context.Background(), SignedIn, s)
}

func (f *fakeProvider) signOut() {
	f.mu.Lock()
	f.session = nil
	f.mu.Unlock()
	f.Emit(context.Background(), SignedOut, nil)
}

func newTestGate(p Provider, attempts uint) *Gate {
	return NewGate(p, GateOptions{SignInAttempts: attempts, RetryDelay: time.Millisecond, Logger: logging.Discard()})
}

func TestGateReusesPersistedSession(t *testing.T) {
	p := &fakeProvider{session: &Session{User: User{ID: "existing"}}}
	g := newTestGate(p, 1)
	defer g.Close()

	readyCalls := 0
	if err := g.Start(context.Background(), func(context.Context) error { readyCalls++; return nil }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if p.signInCalls != 0 {
		t.Errorf("expected no sign-in, got %d", p.signInCalls)
	}
	if readyCalls != 1 {
		t.Errorf("ready calls: got %d, want 1", readyCalls)
	}
	if g.State() != Active {
		t.Errorf("state: got %s, want active", g.State())
	}
	u, err := g.User(context.Background())
	if err != nil || u.ID != "existing" {
		t.Errorf("User: got %+v, %v", u, err)
	}
}

func TestGateSignsInAnonymously(t *testing.T) {
	p := &fakeProvider{}
	g := newTestGate(p, 1)
	defer g.Close()

	if err := g.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.signInCalls != 1 {
		t.Errorf("sign-in calls: got %d, want 1", p.signInCalls)
	}
	if p.Len() != 1 {
		t.Errorf("expected one auth listener, got %d", p.Len())
	}
}

func TestGateSignInFailure(t *testing.T) {
	p := &fakeProvider{signInErrs: []error{errors.New("network down")}}
	g := newTestGate(p, 1)

	readyCalls := 0
	err := g.Start(context.Background(), func(context.Context) error { readyCalls++; return nil })
	if !errors.Is(err, api.ErrIdentity) {
		t.Fatalf("expected identity error, got %v", err)
	}
	if g.State() != NoSession {
		t.Errorf("state: got %s, want no-session", g.State())
	}
	if readyCalls != 0 {
		t.Error("ready must not run without an identity")
	}
	if _, err := g.User(context.Background()); !errors.Is(err, api.ErrIdentity) {
		t.Errorf("User without session: got %v", err)
	}

	// Start can be retried once the provider recovers.
	if err := g.Start(context.Background(), nil); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if g.State() != Active {
		t.Errorf("state after retry: got %s", g.State())
	}
}

func TestGateRetriesSignIn(t *testing.T) {
	p := &fakeProvider{signInErrs: []error{errors.New("503"), errors.New("503")}}
	g := newTestGate(p, 3)
	defer g.Close()

	if err := g.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.signInCalls != 3 {
		t.Errorf("sign-in calls: got %d, want 3", p.signInCalls)
	}
}

func TestGateFollowsAuthEvents(t *testing.T) {
	p := &fakeProvider{session: &Session{User: User{ID: "user-a"}}}
	g := newTestGate(p, 1)

	var mu sync.Mutex
	readyCalls := 0
	ready := func(context.Context) error {
		mu.Lock()
		readyCalls++
		mu.Unlock()
		return nil
	}
	if err := g.Start(context.Background(), ready); err != nil {
		t.Fatalf("Start: %v", err)
	}

	p.switchUser("user-b")
	if readyCalls != 2 {
		t.Errorf("ready calls after SignedIn: got %d, want 2", readyCalls)
	}
	u, err := g.User(context.Background())
	if err != nil || u.ID != "user-b" {
		t.Errorf("User after switch: got %+v, %v", u, err)
	}

	p.signOut()
	if g.State() != NoSession {
		t.Errorf("state after SignedOut: got %s", g.State())
	}

	g.Close()
	if p.Len() != 0 {
		t.Errorf("listener still registered after Close")
	}
	p.switchUser("user-c")
	if readyCalls != 2 {
		t.Errorf("ready ran after Close")
	}
}

func TestGateUserIsNotCached(t *testing.T) {
	p := &fakeProvider{session: &Session{User: User{ID: "u"}}}
	g := newTestGate(p, 1)
	defer g.Close()

	if err := g.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for range 3 {
		if _, err := g.User(context.Background()); err != nil {
			t.Fatalf("User: %v", err)
		}
	}
	if p.userCalls != 3 {
		t.Errorf("GetUser calls: got %d, want 3", p.userCalls)
	}
}

func TestGateStartTwice(t *testing.T) {
	p := &fakeProvider{session: &Session{User: User{ID: "u"}}}
	g := newTestGate(p, 1)
	defer g.Close()

	if err := g.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := g.Start(context.Background(), nil); err == nil {
		t.Error("expected error on second Start")
	}
}
