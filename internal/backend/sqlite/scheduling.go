package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dubapp/dub/internal/backend"
)

// PutAvailability persists one availability row.
func (s *Store) PutAvailability(ctx context.Context, record backend.AvailabilityRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	normalized, err := normalizeAvailability(record)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(ctx, `
	INSERT INTO availabilities (id, owner_id, date, start_time, end_time, comment, genre, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		normalized.ID,
		normalized.OwnerID,
		normalized.Date,
		normalized.StartTime,
		normalized.EndTime,
		normalized.Comment,
		normalized.Genre,
		toMillis(normalized.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return backend.ErrConflict
		}
		return fmt.Errorf("put availability: %w", err)
	}
	return nil
}

// UpdateAvailability updates one availability row, conditional on ownership.
func (s *Store) UpdateAvailability(ctx context.Context, record backend.AvailabilityRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	normalized, err := normalizeAvailability(record)
	if err != nil {
		return err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE availabilities
SET date = ?, start_time = ?, end_time = ?, comment = ?, genre = ?
WHERE id = ? AND owner_id = ?
`,
		normalized.Date,
		normalized.StartTime,
		normalized.EndTime,
		normalized.Comment,
		normalized.Genre,
		normalized.ID,
		normalized.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("update availability: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update availability rows affected: %w", err)
	}
	if affected == 0 {
		return backend.ErrNotFound
	}
	return nil
}

// DeleteAvailability removes one availability row, conditional on ownership.
func (s *Store) DeleteAvailability(ctx context.Context, id string, ownerID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	ownerID = strings.TrimSpace(ownerID)
	if id == "" {
		return fmt.Errorf("availability id is required")
	}
	if ownerID == "" {
		return fmt.Errorf("owner id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM availabilities
WHERE id = ? AND owner_id = ?
`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete availability: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete availability rows affected: %w", err)
	}
	if affected == 0 {
		return backend.ErrNotFound
	}
	return nil
}

// ListAvailabilitiesByDate lists one day's slots joined with their owners and
// the statuses of invitations already targeting each slot, ordered by start
// time.
func (s *Store) ListAvailabilitiesByDate(ctx context.Context, date string) ([]backend.AvailabilityRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	date = strings.TrimSpace(date)
	if date == "" {
		return nil, fmt.Errorf("date is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT a.id, a.owner_id, a.date, a.start_time, a.end_time, a.comment, a.genre, a.created_at,
       u.id, u.name, u.avatar_url, u.created_at
FROM availabilities a
LEFT JOIN users u ON u.id = a.owner_id
WHERE a.date = ?
ORDER BY a.start_time ASC, a.id ASC
`, date)
	if err != nil {
		return nil, fmt.Errorf("list availabilities by date: %w", err)
	}
	defer rows.Close()

	var results []backend.AvailabilityRow
	var ids []string
	for rows.Next() {
		var row backend.AvailabilityRow
		var createdAt int64
		var ownerID, ownerName, ownerAvatar sql.NullString
		var ownerCreatedAt sql.NullInt64
		if err := rows.Scan(
			&row.Availability.ID,
			&row.Availability.OwnerID,
			&row.Availability.Date,
			&row.Availability.StartTime,
			&row.Availability.EndTime,
			&row.Availability.Comment,
			&row.Availability.Genre,
			&createdAt,
			&ownerID,
			&ownerName,
			&ownerAvatar,
			&ownerCreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan availability row: %w", err)
		}
		row.Availability.CreatedAt = fromMillis(createdAt)
		if ownerID.Valid {
			row.Owner = &backend.UserRecord{
				ID:        ownerID.String,
				Name:      ownerName.String,
				AvatarURL: ownerAvatar.String,
				CreatedAt: fromMillis(ownerCreatedAt.Int64),
			}
		}
		results = append(results, row)
		ids = append(ids, row.Availability.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate availability rows: %w", err)
	}
	if len(results) == 0 {
		return results, nil
	}

	statuses, err := s.invitationStatusesByAvailability(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].InvitationStatuses = statuses[results[i].Availability.ID]
	}
	return results, nil
}

// ListAvailabilitiesByOwner lists one user's slots ordered by date then start time.
func (s *Store) ListAvailabilitiesByOwner(ctx context.Context, ownerID string) ([]backend.AvailabilityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, owner_id, date, start_time, end_time, comment, genre, created_at
FROM availabilities
WHERE owner_id = ?
ORDER BY date ASC, start_time ASC
`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list availabilities by owner: %w", err)
	}
	defer rows.Close()

	var results []backend.AvailabilityRecord
	for rows.Next() {
		record, scanErr := scanAvailability(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan availability row: %w", scanErr)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate availability rows: %w", err)
	}
	return results, nil
}

// ListInvitedAvailabilityIDs lists the availability ids one user has already
// sent invitations for.
func (s *Store) ListInvitedAvailabilityIDs(ctx context.Context, senderID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return nil, fmt.Errorf("sender id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT DISTINCT availability_id
FROM invitations
WHERE sender_id = ?
`, senderID)
	if err != nil {
		return nil, fmt.Errorf("list invited availability ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan invited availability id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invited availability ids: %w", err)
	}
	return ids, nil
}

// PutInvitation persists one invitation row.
func (s *Store) PutInvitation(ctx context.Context, record backend.InvitationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.ID = strings.TrimSpace(record.ID)
	record.SenderID = strings.TrimSpace(record.SenderID)
	record.RecipientID = strings.TrimSpace(record.RecipientID)
	record.AvailabilityID = strings.TrimSpace(record.AvailabilityID)
	if record.ID == "" {
		return fmt.Errorf("invitation id is required")
	}
	if record.SenderID == "" {
		return fmt.Errorf("sender id is required")
	}
	if record.RecipientID == "" {
		return fmt.Errorf("recipient id is required")
	}
	if record.AvailabilityID == "" {
		return fmt.Errorf("availability id is required")
	}
	if record.Status == "" {
		record.Status = backend.InvitationPending
	}
	if record.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}

	_, err := s.sqlDB.ExecContext(ctx, `
	INSERT INTO invitations (id, sender_id, recipient_id, availability_id, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.SenderID,
		record.RecipientID,
		record.AvailabilityID,
		record.Status,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return backend.ErrConflict
		}
		return fmt.Errorf("put invitation: %w", err)
	}
	return nil
}

// GetInvitation loads one invitation by id.
func (s *Store) GetInvitation(ctx context.Context, id string) (backend.InvitationRecord, error) {
	if err := ctx.Err(); err != nil {
		return backend.InvitationRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return backend.InvitationRecord{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return backend.InvitationRecord{}, fmt.Errorf("invitation id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, sender_id, recipient_id, availability_id, status, created_at, updated_at
FROM invitations
WHERE id = ?
`, id)
	record, err := scanInvitation(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return backend.InvitationRecord{}, backend.ErrNotFound
		}
		return backend.InvitationRecord{}, fmt.Errorf("get invitation: %w", err)
	}
	return record, nil
}

// ResolveInvitation moves a pending invitation to a terminal status. The
// update is conditional on the row still being pending; the return value
// reports whether this call won the transition.
func (s *Store) ResolveInvitation(ctx context.Context, id string, status backend.InvitationStatus, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if s == nil || s.sqlDB == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false, fmt.Errorf("invitation id is required")
	}
	if status != backend.InvitationAccepted && status != backend.InvitationRejected {
		return false, fmt.Errorf("invitation status %q is not terminal", status)
	}
	if at.IsZero() {
		return false, fmt.Errorf("resolution time is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE invitations
SET status = ?, updated_at = ?
WHERE id = ? AND status = ?
`, status, toMillis(at), id, backend.InvitationPending)
	if err != nil {
		return false, fmt.Errorf("resolve invitation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resolve invitation rows affected: %w", err)
	}
	return affected > 0, nil
}

// ReopenInvitation moves an invitation back to pending. This exists only for
// the response workflow's compensation path after a later step fails.
func (s *Store) ReopenInvitation(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("invitation id is required")
	}
	if at.IsZero() {
		return fmt.Errorf("reopen time is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE invitations
SET status = ?, updated_at = ?
WHERE id = ?
`, backend.InvitationPending, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("reopen invitation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reopen invitation rows affected: %w", err)
	}
	if affected == 0 {
		return backend.ErrNotFound
	}
	return nil
}

func (s *Store) invitationStatusesByAvailability(ctx context.Context, availabilityIDs []string) (map[string][]backend.InvitationStatus, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(availabilityIDs)), ",")
	args := make([]any, 0, len(availabilityIDs))
	for _, id := range availabilityIDs {
		args = append(args, id)
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT availability_id, status
FROM invitations
WHERE availability_id IN (`+placeholders+`)
`, args...)
	if err != nil {
		return nil, fmt.Errorf("list invitation statuses: %w", err)
	}
	defer rows.Close()

	statuses := make(map[string][]backend.InvitationStatus)
	for rows.Next() {
		var availabilityID string
		var status backend.InvitationStatus
		if err := rows.Scan(&availabilityID, &status); err != nil {
			return nil, fmt.Errorf("scan invitation status: %w", err)
		}
		statuses[availabilityID] = append(statuses[availabilityID], status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invitation statuses: %w", err)
	}
	return statuses, nil
}

func normalizeAvailability(record backend.AvailabilityRecord) (backend.AvailabilityRecord, error) {
	record.ID = strings.TrimSpace(record.ID)
	record.OwnerID = strings.TrimSpace(record.OwnerID)
	record.Date = strings.TrimSpace(record.Date)
	record.StartTime = strings.TrimSpace(record.StartTime)
	record.EndTime = strings.TrimSpace(record.EndTime)
	if record.ID == "" {
		return backend.AvailabilityRecord{}, fmt.Errorf("availability id is required")
	}
	if record.OwnerID == "" {
		return backend.AvailabilityRecord{}, fmt.Errorf("owner id is required")
	}
	if record.Date == "" {
		return backend.AvailabilityRecord{}, fmt.Errorf("date is required")
	}
	if record.StartTime == "" || record.EndTime == "" {
		return backend.AvailabilityRecord{}, fmt.Errorf("start and end times are required")
	}
	if record.CreatedAt.IsZero() {
		return backend.AvailabilityRecord{}, fmt.Errorf("created_at is required")
	}
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}

func scanAvailability(scan scanner) (backend.AvailabilityRecord, error) {
	var record backend.AvailabilityRecord
	var createdAt int64
	if err := scan(
		&record.ID,
		&record.OwnerID,
		&record.Date,
		&record.StartTime,
		&record.EndTime,
		&record.Comment,
		&record.Genre,
		&createdAt,
	); err != nil {
		return backend.AvailabilityRecord{}, err
	}
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

func scanInvitation(scan scanner) (backend.InvitationRecord, error) {
	var record backend.InvitationRecord
	var createdAt int64
	var updatedAt int64
	if err := scan(
		&record.ID,
		&record.SenderID,
		&record.RecipientID,
		&record.AvailabilityID,
		&record.Status,
		&createdAt,
		&updatedAt,
	); err != nil {
		return backend.InvitationRecord{}, err
	}
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}
