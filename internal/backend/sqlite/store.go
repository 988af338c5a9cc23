// Package sqlite implements the datastore collaborator on an embedded SQLite
// database. Committed message writes are echoed to an optional change
// notifier, which stands in for the hosted platform's row-change feed.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dubapp/dub/internal/backend"
	"github.com/dubapp/dub/internal/backend/sqlite/migrations"
	sqlitemigrate "github.com/dubapp/dub/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for app records.
type Store struct {
	sqlDB *sql.DB

	mu     sync.Mutex
	notify func(backend.ChangeEvent)
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens the SQLite store at the provided path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := ensureForeignKeysEnabled(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	store := &Store{sqlDB: sqlDB}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SetChangeNotifier registers fn to receive change events for committed
// message writes. A nil fn disables notifications.
func (s *Store) SetChangeNotifier(fn func(backend.ChangeEvent)) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

func (s *Store) notifyChange(evt backend.ChangeEvent) {
	s.mu.Lock()
	fn := s.notify
	s.mu.Unlock()
	if fn != nil {
		fn(evt)
	}
}

func ensureForeignKeysEnabled(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("sqlite db is required")
	}
	var enabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&enabled); err != nil {
		return fmt.Errorf("check sqlite foreign key pragma: %w", err)
	}
	if enabled != 1 {
		return fmt.Errorf("sqlite foreign keys are disabled")
	}
	return nil
}

// GetUser loads one user by id.
func (s *Store) GetUser(ctx context.Context, id string) (backend.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return backend.UserRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return backend.UserRecord{}, fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return backend.UserRecord{}, fmt.Errorf("user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, name, avatar_url, created_at
FROM users
WHERE id = ?
`, id)
	record, err := scanUser(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return backend.UserRecord{}, backend.ErrNotFound
		}
		return backend.UserRecord{}, fmt.Errorf("get user: %w", err)
	}
	return record, nil
}

// PutUser upserts one user row.
func (s *Store) PutUser(ctx context.Context, record backend.UserRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	record.ID = strings.TrimSpace(record.ID)
	record.Name = strings.TrimSpace(record.Name)
	if record.ID == "" {
		return fmt.Errorf("user id is required")
	}
	if record.Name == "" {
		return fmt.Errorf("user name is required")
	}
	if record.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
	INSERT INTO users (id, name, avatar_url, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		avatar_url = excluded.avatar_url
	`,
		record.ID,
		record.Name,
		record.AvatarURL,
		toMillis(record.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return backend.ErrConflict
		}
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// UpdateUserProfile updates the mutable profile fields of one user.
func (s *Store) UpdateUserProfile(ctx context.Context, id string, name string, avatarURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	id = strings.TrimSpace(id)
	name = strings.TrimSpace(name)
	if id == "" {
		return fmt.Errorf("user id is required")
	}
	if name == "" {
		return fmt.Errorf("user name is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE users
SET name = ?, avatar_url = ?
WHERE id = ?
`, name, avatarURL, id)
	if err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user profile rows affected: %w", err)
	}
	if affected == 0 {
		return backend.ErrNotFound
	}
	return nil
}

type scanner func(dest ...any) error

func scanUser(scan scanner) (backend.UserRecord, error) {
	var record backend.UserRecord
	var createdAt int64
	if err := scan(
		&record.ID,
		&record.Name,
		&record.AvatarURL,
		&createdAt,
	); err != nil {
		return backend.UserRecord{}, err
	}
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "unique constraint failed")
}
