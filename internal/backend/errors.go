package backend

import (
	"context"
	"errors"
	"net"
)

// ErrorClass buckets a failure for presentation and recovery decisions.
// Collaborator errors are never shown verbatim; they are classified and
// mapped to a short user-appropriate message.
type ErrorClass string

const (
	// ClassAuth covers missing or expired sessions. Prompt to re-authenticate,
	// never retried automatically.
	ClassAuth ErrorClass = "auth"
	// ClassConnectivity covers transport drops and ping failures. Drives the
	// reconnect state machine instead of surfacing to the user.
	ClassConnectivity ErrorClass = "connectivity"
	// ClassTimeout covers bounded reads that neither resolved nor failed.
	// Treated as connectivity for recovery but kept distinct so callers can
	// force a cache clear and reconnect.
	ClassTimeout ErrorClass = "timeout"
	// ClassConflict covers ownership violations and writes against already
	// resolved records. Fails fast, no retry.
	ClassConflict ErrorClass = "conflict"
	// ClassPartialFailure covers multi-step workflows that stopped midway.
	ClassPartialFailure ErrorClass = "partial_failure"
	// ClassInternal covers everything else.
	ClassInternal ErrorClass = "internal"
)

// Classer lets domain errors carry their own classification.
type Classer interface {
	ErrorClass() ErrorClass
}

// Classify maps any error to its taxonomy bucket.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var classer Classer
	if errors.As(err, &classer) {
		return classer.ErrorClass()
	}
	switch {
	case errors.Is(err, ErrNoSession), errors.Is(err, ErrSessionExpired):
		return ClassAuth
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, ErrConflict):
		return ClassConflict
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassConnectivity
	}
	return ClassInternal
}

// UserMessage returns the short user-facing message for an error.
func UserMessage(err error) string {
	switch Classify(err) {
	case ClassAuth:
		return "Please sign in again."
	case ClassConnectivity:
		return "Connection lost. Reconnecting..."
	case ClassTimeout:
		return "The request took too long. Please try again."
	case ClassConflict:
		return "This action is no longer available."
	case ClassPartialFailure:
		return "Something went wrong partway through. Please check and retry."
	default:
		return "Something went wrong. Please try again."
	}
}
