// Package domain implements the availability lifecycle and the open-slot
// feed other users browse when looking for someone to meet.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dubapp/dub/internal/backend"
	"github.com/dubapp/dub/internal/platform/id"
)

var (
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("availability store is not configured")
	// ErrAuthNotConfigured indicates the service is missing auth wiring.
	ErrAuthNotConfigured = errors.New("auth collaborator is not configured")
	// ErrAvailabilityIDRequired indicates an availability id is required.
	ErrAvailabilityIDRequired = errors.New("availability id is required")
	// ErrInvalidDate indicates the date is not YYYY-MM-DD.
	ErrInvalidDate = errors.New("date must be YYYY-MM-DD")
	// ErrInvalidTimeRange indicates the start/end pair is malformed or inverted.
	ErrInvalidTimeRange = errors.New("start and end must be HH:MM with start before end")
)

const (
	allDayStart = "00:00"
	allDayEnd   = "23:59"
)

// Store is the persistence boundary for availability behavior.
type Store interface {
	PutAvailability(ctx context.Context, record backend.AvailabilityRecord) error
	UpdateAvailability(ctx context.Context, record backend.AvailabilityRecord) error
	DeleteAvailability(ctx context.Context, id string, ownerID string) error
	ListAvailabilitiesByDate(ctx context.Context, date string) ([]backend.AvailabilityRow, error)
	ListAvailabilitiesByOwner(ctx context.Context, ownerID string) ([]backend.AvailabilityRecord, error)
	ListInvitedAvailabilityIDs(ctx context.Context, senderID string) ([]string, error)
}

// Auth resolves the acting user.
type Auth interface {
	CurrentUser(ctx context.Context) (backend.UserRecord, error)
}

// Input carries the user-editable fields of an availability.
type Input struct {
	Date      string
	StartTime string
	EndTime   string
	Comment   string
	Genre     string
	AllDay    bool
}

// Service orchestrates availability posting and the open-slot feed.
type Service struct {
	store Store
	auth  Auth
	clock func() time.Time
	newID func() (string, error)
}

// NewService constructs the scheduling use-cases.
func NewService(store Store, auth Auth, clock func() time.Time, newID func() (string, error)) *Service {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return &Service{store: store, auth: auth, clock: clock, newID: newID}
}

// Create posts a new availability owned by the current user.
func (s *Service) Create(ctx context.Context, input Input) (backend.AvailabilityRecord, error) {
	if s == nil || s.store == nil {
		return backend.AvailabilityRecord{}, ErrStoreNotConfigured
	}
	if s.auth == nil {
		return backend.AvailabilityRecord{}, ErrAuthNotConfigured
	}
	record, err := s.normalize(input)
	if err != nil {
		return backend.AvailabilityRecord{}, err
	}
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return backend.AvailabilityRecord{}, fmt.Errorf("resolve acting user: %w", err)
	}
	newID, err := s.newID()
	if err != nil {
		return backend.AvailabilityRecord{}, fmt.Errorf("allocate availability id: %w", err)
	}
	record.ID = newID
	record.OwnerID = user.ID
	record.CreatedAt = s.clock().UTC()
	if err := s.store.PutAvailability(ctx, record); err != nil {
		return backend.AvailabilityRecord{}, fmt.Errorf("write availability: %w", err)
	}
	return record, nil
}

// Update rewrites one of the current user's availabilities. The store write
// is conditional on ownership, so a stale or foreign id reports
// backend.ErrNotFound.
func (s *Service) Update(ctx context.Context, availabilityID string, input Input) (backend.AvailabilityRecord, error) {
	if s == nil || s.store == nil {
		return backend.AvailabilityRecord{}, ErrStoreNotConfigured
	}
	if s.auth == nil {
		return backend.AvailabilityRecord{}, ErrAuthNotConfigured
	}
	availabilityID = strings.TrimSpace(availabilityID)
	if availabilityID == "" {
		return backend.AvailabilityRecord{}, ErrAvailabilityIDRequired
	}
	record, err := s.normalize(input)
	if err != nil {
		return backend.AvailabilityRecord{}, err
	}
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return backend.AvailabilityRecord{}, fmt.Errorf("resolve acting user: %w", err)
	}
	record.ID = availabilityID
	record.OwnerID = user.ID
	if err := s.store.UpdateAvailability(ctx, record); err != nil {
		return backend.AvailabilityRecord{}, fmt.Errorf("update availability: %w", err)
	}
	return record, nil
}

// Delete removes one of the current user's availabilities.
func (s *Service) Delete(ctx context.Context, availabilityID string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	if s.auth == nil {
		return ErrAuthNotConfigured
	}
	availabilityID = strings.TrimSpace(availabilityID)
	if availabilityID == "" {
		return ErrAvailabilityIDRequired
	}
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("resolve acting user: %w", err)
	}
	if err := s.store.DeleteAvailability(ctx, availabilityID, user.ID); err != nil {
		return fmt.Errorf("delete availability: %w", err)
	}
	return nil
}

// Mine lists the current user's own availabilities.
func (s *Service) Mine(ctx context.Context) ([]backend.AvailabilityRecord, error) {
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
	records, err := s.store.ListAvailabilitiesByOwner(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list availabilities: %w", err)
	}
	return records, nil
}

// OpenSlots returns the slots on a date the current user can still send an
// invite to: not their own, not already invited, not claimed by an accepted
// invitation, and not already in the past. All-day slots stay visible for
// the whole day.
func (s *Service) OpenSlots(ctx context.Context, date string) ([]backend.AvailabilityRow, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	if s.auth == nil {
		return nil, ErrAuthNotConfigured
	}
	if _, err := time.Parse("2006-01-02", strings.TrimSpace(date)); err != nil {
		return nil, ErrInvalidDate
	}
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve acting user: %w", err)
	}
	rows, err := s.store.ListAvailabilitiesByDate(ctx, strings.TrimSpace(date))
	if err != nil {
		return nil, fmt.Errorf("list availabilities: %w", err)
	}
	invitedIDs, err := s.store.ListInvitedAvailabilityIDs(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list sent invitations: %w", err)
	}
	invited := make(map[string]struct{}, len(invitedIDs))
	for _, availabilityID := range invitedIDs {
		invited[availabilityID] = struct{}{}
	}

	now := s.clock()
	open := make([]backend.AvailabilityRow, 0, len(rows))
	for _, row := range rows {
		if row.Availability.OwnerID == user.ID {
			continue
		}
		if _, ok := invited[row.Availability.ID]; ok {
			continue
		}
		if hasAccepted(row.InvitationStatuses) {
			continue
		}
		if !slotVisibleAt(row.Availability, now) {
			continue
		}
		open = append(open, row)
	}
	return open, nil
}

func hasAccepted(statuses []backend.InvitationStatus) bool {
	for _, status := range statuses {
		if status == backend.InvitationAccepted {
			return true
		}
	}
	return false
}

// slotVisibleAt reports whether a slot's start is still ahead of now. The
// all-day sentinel range is visible for its entire date.
func slotVisibleAt(record backend.AvailabilityRecord, now time.Time) bool {
	if record.StartTime == allDayStart && record.EndTime == allDayEnd {
		date, err := time.ParseInLocation("2006-01-02", record.Date, now.Location())
		if err != nil {
			return false
		}
		return date.AddDate(0, 0, 1).After(now)
	}
	start, err := time.ParseInLocation("2006-01-02 15:04", record.Date+" "+record.StartTime, now.Location())
	if err != nil {
		return false
	}
	return start.After(now)
}

func (s *Service) normalize(input Input) (backend.AvailabilityRecord, error) {
	record := backend.AvailabilityRecord{
		Date:      strings.TrimSpace(input.Date),
		StartTime: strings.TrimSpace(input.StartTime),
		EndTime:   strings.TrimSpace(input.EndTime),
		Comment:   strings.TrimSpace(input.Comment),
		Genre:     strings.TrimSpace(input.Genre),
	}
	if input.AllDay {
		record.StartTime = allDayStart
		record.EndTime = allDayEnd
	}
	if _, err := time.Parse("2006-01-02", record.Date); err != nil {
		return backend.AvailabilityRecord{}, ErrInvalidDate
	}
	start, err := time.Parse("15:04", record.StartTime)
	if err != nil {
		return backend.AvailabilityRecord{}, ErrInvalidTimeRange
	}
	end, err := time.Parse("15:04", record.EndTime)
	if err != nil {
		return backend.AvailabilityRecord{}, ErrInvalidTimeRange
	}
	if !start.Before(end) {
		return backend.AvailabilityRecord{}, ErrInvalidTimeRange
	}
	return record, nil
}
