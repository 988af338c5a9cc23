// Package domain implements the message query service and the invitation
// workflows. The acting user is re-resolved through the auth collaborator at
// every operation; cached identity from an earlier render is never trusted.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dubapp/dub/internal/backend"
	"github.com/dubapp/dub/internal/platform/id"
	"github.com/dubapp/dub/internal/platform/timeouts"
	"github.com/dubapp/dub/internal/services/messaging/cache"
)

var (
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("message store is not configured")
	// ErrAuthNotConfigured indicates the service is missing auth wiring.
	ErrAuthNotConfigured = errors.New("auth collaborator is not configured")
	// ErrMessageIDRequired indicates a message id is required.
	ErrMessageIDRequired = errors.New("message id is required")
	// ErrInvitationIDRequired indicates an invitation id is required.
	ErrInvitationIDRequired = errors.New("invitation id is required")
	// ErrAvailabilityRequired indicates the target availability is missing.
	ErrAvailabilityRequired = errors.New("availability is required")
)

var (
	// ErrUnauthorized indicates the acting user is not the recipient of the
	// referenced message. No writes are performed.
	ErrUnauthorized = &workflowError{msg: "not authorized to act on this message", class: backend.ClassConflict}
	// ErrInvitationResolved indicates the invitation already left pending; a
	// second response never silently succeeds.
	ErrInvitationResolved = &workflowError{msg: "invitation already resolved", class: backend.ClassConflict}
	// ErrQueryTimeout indicates a fetch neither resolved nor failed within
	// the query bound. Distinct from an ordinary fetch failure so callers can
	// force a cache clear and reconnect.
	ErrQueryTimeout = &workflowError{msg: "message query timed out", class: backend.ClassTimeout}
	// ErrPartialFailure indicates the response workflow stopped midway and
	// rollback was attempted best-effort. The user is prompted to retry.
	ErrPartialFailure = &workflowError{msg: "invitation response partially completed", class: backend.ClassPartialFailure}
	// ErrOwnAvailability indicates a user tried to invite themselves.
	ErrOwnAvailability = &workflowError{msg: "cannot send an invite to your own slot", class: backend.ClassConflict}
)

type workflowError struct {
	msg   string
	class backend.ErrorClass
}

func (e *workflowError) Error() string                  { return e.msg }
func (e *workflowError) ErrorClass() backend.ErrorClass { return e.class }

const defaultPageSize = 20

// Message is one display-ready inbox/outbox entry: the joined row plus the
// derived time string and comment shared by every display surface.
type Message struct {
	backend.MessageRow
	DisplayTime string
	Comment     string
}

// Store is the persistence boundary for message and invitation behavior.
type Store interface {
	ListInboxMessages(ctx context.Context, userID string, limit int) ([]backend.MessageRow, error)
	ListSentMessages(ctx context.Context, userID string, limit int) ([]backend.MessageRow, error)
	GetMessage(ctx context.Context, id string) (backend.MessageRecord, error)
	PutMessage(ctx context.Context, record backend.MessageRecord) error
	MarkMessageRead(ctx context.Context, id string, read bool) error
	DeleteMessage(ctx context.Context, id string) error
	PutInvitation(ctx context.Context, record backend.InvitationRecord) error
	GetInvitation(ctx context.Context, id string) (backend.InvitationRecord, error)
	ResolveInvitation(ctx context.Context, id string, status backend.InvitationStatus, at time.Time) (bool, error)
	ReopenInvitation(ctx context.Context, id string, at time.Time) error
}

// Auth resolves the acting user.
type Auth interface {
	CurrentUser(ctx context.Context) (backend.UserRecord, error)
}

// Service orchestrates message views and invitation workflows.
type Service struct {
	store        Store
	auth         Auth
	cache        *cache.Cache[[]Message]
	clock        func() time.Time
	newID        func() (string, error)
	queryTimeout time.Duration
}

// NewService constructs the messaging use-cases.
func NewService(store Store, auth Auth, viewCache *cache.Cache[[]Message], clock func() time.Time, newID func() (string, error)) *Service {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	s := &Service{
		store:        store,
		auth:         auth,
		cache:        viewCache,
		clock:        clock,
		newID:        newID,
		queryTimeout: timeouts.Query,
	}
	// Cached views belong to one session's user. Any sign-in or sign-out
	// within the TTL must not serve the previous user's rows.
	if watcher, ok := auth.(interface {
		OnAuthStateChange(fn func(user *backend.UserRecord)) func()
	}); ok {
		watcher.OnAuthStateChange(func(*backend.UserRecord) { s.InvalidateCache() })
	}
	return s
}

// FetchInbox returns the current user's inbox view, served from cache while
// fresh.
func (s *Service) FetchInbox(ctx context.Context) ([]Message, error) {
	return s.fetchView(ctx, cache.ViewInbox)
}

// FetchSent returns the current user's sent view, served from cache while
// fresh.
func (s *Service) FetchSent(ctx context.Context) ([]Message, error) {
	return s.fetchView(ctx, cache.ViewSent)
}

func (s *Service) fetchView(ctx context.Context, view cache.View) ([]Message, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	if s.auth == nil {
		return nil, ErrAuthNotConfigured
	}
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve acting user: %w", err)
	}
	if cached, ok := s.cache.Get(view); ok {
		return cached, nil
	}

	var rows []backend.MessageRow
	switch view {
	case cache.ViewInbox:
		rows, err = s.fetchRows(ctx, func(fetchCtx context.Context) ([]backend.MessageRow, error) {
			return s.store.ListInboxMessages(fetchCtx, user.ID, defaultPageSize)
		})
	case cache.ViewSent:
		rows, err = s.fetchRows(ctx, func(fetchCtx context.Context) ([]backend.MessageRow, error) {
			return s.store.ListSentMessages(fetchCtx, user.ID, defaultPageSize)
		})
	default:
		return nil, fmt.Errorf("unknown message view %q", view)
	}
	if err != nil {
		return nil, err
	}

	messages := enrich(filterView(rows, view, user.ID))
	s.cache.Set(view, messages)
	return messages, nil
}

// fetchRows runs one store read under the query watchdog. The bound holds
// even when the underlying call neither resolves nor fails: the watchdog
// gives up and reports ErrQueryTimeout while the straggler drains in the
// background.
func (s *Service) fetchRows(ctx context.Context, fetch func(context.Context) ([]backend.MessageRow, error)) ([]backend.MessageRow, error) {
	type fetchResult struct {
		rows []backend.MessageRow
		err  error
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	results := make(chan fetchResult, 1)
	go func() {
		rows, err := fetch(fetchCtx)
		results <- fetchResult{rows: rows, err: err}
	}()

	select {
	case result := <-results:
		if result.err != nil {
			return nil, fmt.Errorf("fetch messages: %w", result.err)
		}
		return result.rows, nil
	case <-fetchCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, ErrQueryTimeout
	}
}

// MarkRead marks one of the current user's inbox messages as read and
// invalidates the inbox view.
func (s *Service) MarkRead(ctx context.Context, messageID string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	if s.auth == nil {
		return ErrAuthNotConfigured
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return ErrMessageIDRequired
	}
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("resolve acting user: %w", err)
	}
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("load message: %w", err)
	}
	if message.RecipientID != user.ID {
		return ErrUnauthorized
	}
	if err := s.store.MarkMessageRead(ctx, messageID, true); err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	s.cache.Invalidate(cache.ViewInbox)
	return nil
}

// Notification resolves the full display projection for one inbox message,
// bypassing the cache. The coordinator uses this to build invitation prompts
// from realtime inserts.
func (s *Service) Notification(ctx context.Context, messageID string) (Message, error) {
	if s == nil || s.store == nil {
		return Message{}, ErrStoreNotConfigured
	}
	if s.auth == nil {
		return Message{}, ErrAuthNotConfigured
	}
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return Message{}, ErrMessageIDRequired
	}
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("resolve acting user: %w", err)
	}
	rows, err := s.fetchRows(ctx, func(fetchCtx context.Context) ([]backend.MessageRow, error) {
		return s.store.ListInboxMessages(fetchCtx, user.ID, defaultPageSize)
	})
	if err != nil {
		return Message{}, err
	}
	for _, row := range rows {
		if row.Message.ID == messageID {
			return enrichOne(row), nil
		}
	}
	return Message{}, fmt.Errorf("notification source: %w", backend.ErrNotFound)
}

// InvalidateCache clears the named cached views, or every view when none are
// named. Runtime wiring calls this on connection errors and reconnects.
func (s *Service) InvalidateCache(views ...cache.View) {
	if s == nil {
		return
	}
	s.cache.Invalidate(views...)
}
