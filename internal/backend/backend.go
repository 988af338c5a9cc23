// Package backend defines the collaborator boundary the app core depends on:
// record shapes, the datastore/auth/realtime/object-storage interfaces, and
// the error taxonomy used to map collaborator failures to user-facing
// behavior. Implementations live in the subpackages; the core never sees
// SQLite, JWT, or websocket types directly.
package backend

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a requested write conflicts with uniqueness constraints.
	ErrConflict = errors.New("record conflict")
)

// InvitationStatus identifies one invitation lifecycle state. Pending is the
// only non-terminal state.
type InvitationStatus string

const (
	// InvitationPending means the recipient has not responded yet.
	InvitationPending InvitationStatus = "pending"
	// InvitationAccepted means the recipient accepted.
	InvitationAccepted InvitationStatus = "accepted"
	// InvitationRejected means the recipient declined.
	InvitationRejected InvitationStatus = "rejected"
)

// MessageType identifies what a message row represents.
type MessageType string

const (
	// MessageTypeNote is a free-form note.
	MessageTypeNote MessageType = "message"
	// MessageTypeInvitation is an actionable invite tied to a pending invitation.
	MessageTypeInvitation MessageType = "invitation"
	// MessageTypeAcceptance notifies the original sender their invite was accepted.
	MessageTypeAcceptance MessageType = "acceptance"
	// MessageTypeRejection notifies the original sender their invite was declined.
	MessageTypeRejection MessageType = "rejection"
)

// UserRecord stores one registered user.
type UserRecord struct {
	ID        string
	Name      string
	AvatarURL string
	CreatedAt time.Time
}

// AvailabilityRecord stores one posted open time slot. Date is YYYY-MM-DD and
// the times are HH:MM; the 00:00-23:59 range marks an all-day slot.
type AvailabilityRecord struct {
	ID        string
	OwnerID   string
	Date      string
	StartTime string
	EndTime   string
	Comment   string
	Genre     string
	CreatedAt time.Time
}

// InvitationRecord stores one request to join an availability. Sender is the
// inviter, recipient the availability owner.
type InvitationRecord struct {
	ID             string
	SenderID       string
	RecipientID    string
	AvailabilityID string
	Status         InvitationStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MessageRecord stores one inbox/outbox entry.
type MessageRecord struct {
	ID           string
	SenderID     string
	RecipientID  string
	InvitationID string
	Type         MessageType
	Content      string
	IsRead       bool
	CreatedAt    time.Time
}

// MessageRow is a message joined with its related records. Related rows are
// optional: a deleted availability or user leaves the pointer nil rather than
// failing the fetch.
type MessageRow struct {
	Message      MessageRecord
	Sender       *UserRecord
	Recipient    *UserRecord
	Invitation   *InvitationRecord
	Availability *AvailabilityRecord
}

// AvailabilityRow is an availability joined with its owner and the statuses
// of invitations already targeting it.
type AvailabilityRow struct {
	Availability       AvailabilityRecord
	Owner              *UserRecord
	InvitationStatuses []InvitationStatus
}

// DataStore persists and queries app records.
type DataStore interface {
	GetUser(ctx context.Context, id string) (UserRecord, error)
	PutUser(ctx context.Context, record UserRecord) error
	UpdateUserProfile(ctx context.Context, id string, name string, avatarURL string) error

	PutAvailability(ctx context.Context, record AvailabilityRecord) error
	UpdateAvailability(ctx context.Context, record AvailabilityRecord) error
	DeleteAvailability(ctx context.Context, id string, ownerID string) error
	ListAvailabilitiesByDate(ctx context.Context, date string) ([]AvailabilityRow, error)
	ListAvailabilitiesByOwner(ctx context.Context, ownerID string) ([]AvailabilityRecord, error)
	ListInvitedAvailabilityIDs(ctx context.Context, senderID string) ([]string, error)

	PutInvitation(ctx context.Context, record InvitationRecord) error
	GetInvitation(ctx context.Context, id string) (InvitationRecord, error)
	ResolveInvitation(ctx context.Context, id string, status InvitationStatus, at time.Time) (bool, error)
	ReopenInvitation(ctx context.Context, id string, at time.Time) error

	ListInboxMessages(ctx context.Context, userID string, limit int) ([]MessageRow, error)
	ListSentMessages(ctx context.Context, userID string, limit int) ([]MessageRow, error)
	GetMessage(ctx context.Context, id string) (MessageRecord, error)
	PutMessage(ctx context.Context, record MessageRecord) error
	MarkMessageRead(ctx context.Context, id string, read bool) error
	DeleteMessage(ctx context.Context, id string) error
	CountMessages(ctx context.Context) (int, error)
}
