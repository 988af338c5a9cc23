package backend

import (
	"context"
	"errors"
)

var (
	// ErrNoSession indicates no user is signed in.
	ErrNoSession = errors.New("no active session")
	// ErrSessionExpired indicates the session token is no longer valid.
	ErrSessionExpired = errors.New("session expired")
)

// Auth resolves and observes the current user session. CurrentUser is called
// fresh before every sensitive operation; callers never trust a previously
// resolved identity.
type Auth interface {
	// CurrentUser returns the signed-in user or ErrNoSession/ErrSessionExpired.
	CurrentUser(ctx context.Context) (UserRecord, error)
	// OnAuthStateChange registers fn for session transitions. Sign-out is
	// delivered as a nil user. The returned function removes the listener.
	OnAuthStateChange(fn func(user *UserRecord)) func()
	// Register creates the user record and signs the new user in.
	Register(ctx context.Context, name string) (UserRecord, error)
	// SignOut ends the active session.
	SignOut(ctx context.Context) error
}
