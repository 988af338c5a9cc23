package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dubapp/dub/internal/backend"
)

const messageRowColumns = `
m.id, m.sender_id, m.recipient_id, m.invitation_id, m.type, m.content, m.is_read, m.created_at,
u.id, u.name, u.avatar_url, u.created_at,
i.id, i.sender_id, i.recipient_id, i.availability_id, i.status, i.created_at, i.updated_at,
a.id, a.owner_id, a.date, a.start_time, a.end_time, a.comment, a.genre, a.created_at`

// ListInboxMessages lists messages addressed to one user, newest first, each
// joined with its sender and, when present, its invitation and availability.
func (s *Store) ListInboxMessages(ctx context.Context, userID string, limit int) ([]backend.MessageRow, error) {
	return s.listMessages(ctx, userID, limit, "m.recipient_id", "m.sender_id", true)
}

// ListSentMessages lists messages one user sent, newest first, each joined
// with its recipient and, when present, its invitation and availability.
func (s *Store) ListSentMessages(ctx context.Context, userID string, limit int) ([]backend.MessageRow, error) {
	return s.listMessages(ctx, userID, limit, "m.sender_id", "m.recipient_id", false)
}

func (s *Store) listMessages(ctx context.Context, userID string, limit int, filterColumn string, joinColumn string, joinIsSender bool) ([]backend.MessageRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+messageRowColumns+`
FROM messages m
LEFT JOIN users u ON u.id = `+joinColumn+`
LEFT JOIN invitations i ON i.id = m.invitation_id AND m.invitation_id != ''
LEFT JOIN availabilities a ON a.id = i.availability_id
WHERE `+filterColumn+` = ?
ORDER BY m.created_at DESC, m.id DESC
LIMIT ?
`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var results []backend.MessageRow
	for rows.Next() {
		row, scanErr := scanMessageRow(rows.Scan, joinIsSender)
		if scanErr != nil {
			return nil, fmt.Errorf("scan message row: %w", scanErr)
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return results, nil
}

// GetMessage loads one message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (backend.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return backend.MessageRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return backend.MessageRecord{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return backend.MessageRecord{}, fmt.Errorf("message id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, sender_id, recipient_id, invitation_id, type, content, is_read, created_at
FROM messages
WHERE id = ?
`, id)
	record, err := scanMessage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return backend.MessageRecord{}, backend.ErrNotFound
		}
		return backend.MessageRecord{}, fmt.Errorf("get message: %w", err)
	}
	return record, nil
}

// PutMessage persists one message row and publishes an insert change event.
func (s *Store) PutMessage(ctx context.Context, record backend.MessageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.ID = strings.TrimSpace(record.ID)
	record.SenderID = strings.TrimSpace(record.SenderID)
	record.RecipientID = strings.TrimSpace(record.RecipientID)
	record.InvitationID = strings.TrimSpace(record.InvitationID)
	if record.ID == "" {
		return fmt.Errorf("message id is required")
	}
	if record.SenderID == "" {
		return fmt.Errorf("sender id is required")
	}
	if record.RecipientID == "" {
		return fmt.Errorf("recipient id is required")
	}
	if record.Type == "" {
		return fmt.Errorf("message type is required")
	}
	if record.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	record.CreatedAt = record.CreatedAt.UTC()

	_, err := s.sqlDB.ExecContext(ctx, `
	INSERT INTO messages (id, sender_id, recipient_id, invitation_id, type, content, is_read, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.SenderID,
		record.RecipientID,
		record.InvitationID,
		record.Type,
		record.Content,
		boolToInt(record.IsRead),
		toMillis(record.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return backend.ErrConflict
		}
		return fmt.Errorf("put message: %w", err)
	}

	s.publishMessageChange(backend.ChangeInsert, record, nil)
	return nil
}

// MarkMessageRead sets the read flag on one message and publishes an update
// change event.
func (s *Store) MarkMessageRead(ctx context.Context, id string, read bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("message id is required")
	}

	before, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE messages
SET is_read = ?
WHERE id = ?
`, boolToInt(read), id)
	if err != nil {
		return fmt.Errorf("mark message read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark message read rows affected: %w", err)
	}
	if affected == 0 {
		return backend.ErrNotFound
	}

	after := before
	after.IsRead = read
	s.publishMessageChange(backend.ChangeUpdate, after, &before)
	return nil
}

// DeleteMessage removes one message row and publishes a delete change event.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("message id is required")
	}

	before, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM messages
WHERE id = ?
`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete message rows affected: %w", err)
	}
	if affected == 0 {
		return backend.ErrNotFound
	}

	s.publishMessageChange(backend.ChangeDelete, backend.MessageRecord{}, &before)
	return nil
}

// CountMessages returns the total message count. This is the minimal read the
// liveness ping issues to confirm the backend answers.
func (s *Store) CountMessages(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var count int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func (s *Store) publishMessageChange(changeType backend.ChangeType, record backend.MessageRecord, old *backend.MessageRecord) {
	evt := backend.ChangeEvent{Type: changeType, Table: "messages"}
	if record.ID != "" {
		payload, err := json.Marshal(backend.MessagePayloadFrom(record))
		if err != nil {
			return
		}
		evt.New = payload
	}
	if old != nil {
		payload, err := json.Marshal(backend.MessagePayloadFrom(*old))
		if err != nil {
			return
		}
		evt.Old = payload
	}
	s.notifyChange(evt)
}

func scanMessage(scan scanner) (backend.MessageRecord, error) {
	var record backend.MessageRecord
	var isRead int
	var createdAt int64
	if err := scan(
		&record.ID,
		&record.SenderID,
		&record.RecipientID,
		&record.InvitationID,
		&record.Type,
		&record.Content,
		&isRead,
		&createdAt,
	); err != nil {
		return backend.MessageRecord{}, err
	}
	record.IsRead = isRead != 0
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

func scanMessageRow(scan scanner, joinIsSender bool) (backend.MessageRow, error) {
	var row backend.MessageRow
	var isRead int
	var createdAt int64
	var userID, userName, userAvatar sql.NullString
	var userCreatedAt sql.NullInt64
	var invID, invSender, invRecipient, invAvailability, invStatus sql.NullString
	var invCreatedAt, invUpdatedAt sql.NullInt64
	var avID, avOwner, avDate, avStart, avEnd, avComment, avGenre sql.NullString
	var avCreatedAt sql.NullInt64

	if err := scan(
		&row.Message.ID,
		&row.Message.SenderID,
		&row.Message.RecipientID,
		&row.Message.InvitationID,
		&row.Message.Type,
		&row.Message.Content,
		&isRead,
		&createdAt,
		&userID,
		&userName,
		&userAvatar,
		&userCreatedAt,
		&invID,
		&invSender,
		&invRecipient,
		&invAvailability,
		&invStatus,
		&invCreatedAt,
		&invUpdatedAt,
		&avID,
		&avOwner,
		&avDate,
		&avStart,
		&avEnd,
		&avComment,
		&avGenre,
		&avCreatedAt,
	); err != nil {
		return backend.MessageRow{}, err
	}
	row.Message.IsRead = isRead != 0
	row.Message.CreatedAt = fromMillis(createdAt)

	if userID.Valid {
		user := &backend.UserRecord{
			ID:        userID.String,
			Name:      userName.String,
			AvatarURL: userAvatar.String,
			CreatedAt: fromMillis(userCreatedAt.Int64),
		}
		if joinIsSender {
			row.Sender = user
		} else {
			row.Recipient = user
		}
	}
	if invID.Valid {
		row.Invitation = &backend.InvitationRecord{
			ID:             invID.String,
			SenderID:       invSender.String,
			RecipientID:    invRecipient.String,
			AvailabilityID: invAvailability.String,
			Status:         backend.InvitationStatus(invStatus.String),
			CreatedAt:      fromMillis(invCreatedAt.Int64),
			UpdatedAt:      fromMillis(invUpdatedAt.Int64),
		}
	}
	if avID.Valid {
		row.Availability = &backend.AvailabilityRecord{
			ID:        avID.String,
			OwnerID:   avOwner.String,
			Date:      avDate.String,
			StartTime: avStart.String,
			EndTime:   avEnd.String,
			Comment:   avComment.String,
			Genre:     avGenre.String,
			CreatedAt: fromMillis(avCreatedAt.Int64),
		}
	}
	return row, nil
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
