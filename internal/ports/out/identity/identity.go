package identity

import (
	"context"

	"github.com/shomaj/neighborhood-client/internal/domain"
)

// EventKind classifies a session change pushed by the identity service.
type EventKind string

const (
	EventSignedIn       EventKind = "signed_in"
	EventTokenRefreshed EventKind = "token_refreshed"
	EventSignedOut      EventKind = "signed_out"
)

// Event is a session change the identity service pushes to subscribers.
// Session is nil for EventSignedOut.
type Event struct {
	Kind    EventKind
	Session *domain.Session
}

// Service is the remote identity contract.
//
// Errors returned by implementations wrap one of the sentinels in errors.go so
// callers can read a domain.Kind without inspecting transport details.
type Service interface {
	SignIn(ctx context.Context, identifier, secret string) (domain.Session, error)
	SignUp(ctx context.Context, identifier, secret string) (domain.Session, error)
	SignOut(ctx context.Context) error

	// GetSession returns the persisted session, if any. ok=false means no session.
	GetSession(ctx context.Context) (s domain.Session, ok bool, err error)

	// Subscribe registers fn for session change events and returns an unsubscribe func.
	Subscribe(fn func(Event)) (unsubscribe func())
}
