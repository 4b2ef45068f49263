// Package identity establishes and tracks the anonymous per-device identity
// that scopes every expense record.
package identity

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

// ErrNoUser is returned by Provider.GetUser when there is no signed-in user.
var ErrNoUser = errors.New("no signed-in user")

// User is the identity that owns expense records.
type User struct {
	ID        string `json:"id"`
	Anonymous bool   `json:"is_anonymous"`
}

// Session is an established identity. Token is nil for providers that have
// no bearer credential (the local device identity).
type Session struct {
	User  User          `json:"user"`
	Token *oauth2.Token `json:"token,omitempty"`
}

// AuthEvent is an identity state change pushed by a Provider.
type AuthEvent int

// Auth events.
const (
	SignedIn AuthEvent = iota + 1
	SignedOut
	TokenRefreshed
)

func (e AuthEvent) String() string {
	switch e {
	case SignedIn:
		return "SIGNED_IN"
	case SignedOut:
		return "SIGNED_OUT"
	case TokenRefreshed:
		return "TOKEN_REFRESHED"
	default:
		return "UNKNOWN"
	}
}

// Listener receives auth events. Providers call listeners without holding
// their own locks, so a listener may call back into the provider.
type Listener func(ctx context.Context, event AuthEvent, session *Session)

// Subscription is returned by OnAuthStateChange.
type Subscription interface {
	Unsubscribe()
}

// Provider is the identity collaborator.
type Provider interface {
	// Name identifies the provider in logs and status output.
	Name() string
	// GetSession returns the persisted session, or nil when there is none.
	GetSession(ctx context.Context) (*Session, error)
	// SignInAnonymously creates a new anonymous identity and persists it.
	SignInAnonymously(ctx context.Context) (*Session, error)
	// GetUser resolves the current user. It returns ErrNoUser when signed out.
	GetUser(ctx context.Context) (*User, error)
	// OnAuthStateChange registers l for identity changes.
	OnAuthStateChange(l Listener) Subscription
}
