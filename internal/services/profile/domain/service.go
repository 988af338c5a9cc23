// Package domain implements profile updates: display name changes and avatar
// uploads through object storage.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dubapp/dub/internal/backend"
)

var (
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("profile store is not configured")
	// ErrAuthNotConfigured indicates the service is missing auth wiring.
	ErrAuthNotConfigured = errors.New("auth collaborator is not configured")
	// ErrNameRequired indicates the display name is empty.
	ErrNameRequired = errors.New("display name is required")
	// ErrAvatarDataRequired indicates the avatar upload has no bytes.
	ErrAvatarDataRequired = errors.New("avatar data is required")
)

// Store is the persistence boundary for profile behavior.
type Store interface {
	GetUser(ctx context.Context, id string) (backend.UserRecord, error)
	UpdateUserProfile(ctx context.Context, id string, name string, avatarURL string) error
}

// Auth resolves the acting user.
type Auth interface {
	CurrentUser(ctx context.Context) (backend.UserRecord, error)
}

// Service orchestrates profile updates for the current user.
type Service struct {
	store   Store
	auth    Auth
	objects backend.ObjectStore
}

// NewService constructs the profile use-cases. The object store may be nil
// when avatar uploads are disabled.
func NewService(store Store, auth Auth, objects backend.ObjectStore) *Service {
	return &Service{store: store, auth: auth, objects: objects}
}

// UpdateName changes the current user's display name.
func (s *Service) UpdateName(ctx context.Context, name string) (backend.UserRecord, error) {
	if s == nil || s.store == nil {
		return backend.UserRecord{}, ErrStoreNotConfigured
	}
	if s.auth == nil {
		return backend.UserRecord{}, ErrAuthNotConfigured
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return backend.UserRecord{}, ErrNameRequired
	}
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return backend.UserRecord{}, fmt.Errorf("resolve acting user: %w", err)
	}
	if err := s.store.UpdateUserProfile(ctx, user.ID, name, user.AvatarURL); err != nil {
		return backend.UserRecord{}, fmt.Errorf("update profile: %w", err)
	}
	user.Name = name
	return user, nil
}

// UpdateAvatar uploads the avatar bytes and persists the returned public URL
// on the current user's profile. ext names the file extension including the
// dot, for example ".png".
func (s *Service) UpdateAvatar(ctx context.Context, data []byte, ext string) (backend.UserRecord, error) {
	if s == nil || s.store == nil {
		return backend.UserRecord{}, ErrStoreNotConfigured
	}
	if s.auth == nil {
		return backend.UserRecord{}, ErrAuthNotConfigured
	}
	if s.objects == nil {
		return backend.UserRecord{}, errors.New("object store is not configured")
	}
	if len(data) == 0 {
		return backend.UserRecord{}, ErrAvatarDataRequired
	}
	user, err := s.auth.CurrentUser(ctx)
	if err != nil {
		return backend.UserRecord{}, fmt.Errorf("resolve acting user: %w", err)
	}
	ext = strings.TrimSpace(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	url, err := s.objects.Upload(ctx, "avatars/"+user.ID+ext, data)
	if err != nil {
		return backend.UserRecord{}, fmt.Errorf("upload avatar: %w", err)
	}
	if err := s.store.UpdateUserProfile(ctx, user.ID, user.Name, url); err != nil {
		return backend.UserRecord{}, fmt.Errorf("update profile: %w", err)
	}
	user.AvatarURL = url
	return user, nil
}

// Get returns another user's public profile.
func (s *Service) Get(ctx context.Context, userID string) (backend.UserRecord, error) {
	if s == nil || s.store == nil {
		return backend.UserRecord{}, ErrStoreNotConfigured
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return backend.UserRecord{}, errors.New("user id is required")
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return backend.UserRecord{}, fmt.Errorf("load user: %w", err)
	}
	return user, nil
}
