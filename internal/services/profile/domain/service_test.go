package domain

import (
	"context"
	"errors"
	"testing"

	"github.com/dubapp/dub/internal/backend"
)

type fakeAuth struct {
	user backend.UserRecord
	err  error
}

func (f *fakeAuth) CurrentUser(ctx context.Context) (backend.UserRecord, error) {
	return f.user, f.err
}

type fakeStore struct {
	users map[string]backend.UserRecord
}

func (f *fakeStore) GetUser(ctx context.Context, id string) (backend.UserRecord, error) {
	user, ok := f.users[id]
	if !ok {
		return backend.UserRecord{}, backend.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) UpdateUserProfile(ctx context.Context, id string, name string, avatarURL string) error {
	user, ok := f.users[id]
	if !ok {
		return backend.ErrNotFound
	}
	user.Name = name
	user.AvatarURL = avatarURL
	f.users[id] = user
	return nil
}

type fakeObjects struct {
	lastPath string
	lastData []byte
	err      error
}

func (f *fakeObjects) Upload(ctx context.Context, path string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.lastPath = path
	f.lastData = data
	return "http://localhost/media/" + path, nil
}

func newTestService(user backend.UserRecord) (*Service, *fakeStore, *fakeObjects) {
	store := &fakeStore{users: map[string]backend.UserRecord{user.ID: user}}
	objects := &fakeObjects{}
	return NewService(store, &fakeAuth{user: user}, objects), store, objects
}

func TestUpdateNameTrimsAndPersists(t *testing.T) {
	t.Parallel()

	svc, store, _ := newTestService(backend.UserRecord{ID: "me", Name: "Old", AvatarURL: "http://localhost/a.png"})

	user, err := svc.UpdateName(context.Background(), "  Mina  ")
	if err != nil {
		t.Fatalf("UpdateName: %v", err)
	}
	if user.Name != "Mina" {
		t.Fatalf("expected trimmed name, got %q", user.Name)
	}
	if store.users["me"].Name != "Mina" {
		t.Fatalf("expected persisted name, got %q", store.users["me"].Name)
	}
	if store.users["me"].AvatarURL != "http://localhost/a.png" {
		t.Fatal("expected avatar URL preserved")
	}
}

func TestUpdateNameRejectsEmpty(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(backend.UserRecord{ID: "me"})
	if _, err := svc.UpdateName(context.Background(), "   "); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
}

func TestUpdateAvatarUploadsAndPersistsURL(t *testing.T) {
	t.Parallel()

	svc, store, objects := newTestService(backend.UserRecord{ID: "me", Name: "Mina"})

	user, err := svc.UpdateAvatar(context.Background(), []byte{0x89, 0x50}, "png")
	if err != nil {
		t.Fatalf("UpdateAvatar: %v", err)
	}
	if objects.lastPath != "avatars/me.png" {
		t.Fatalf("unexpected upload path %q", objects.lastPath)
	}
	if user.AvatarURL != "http://localhost/media/avatars/me.png" {
		t.Fatalf("unexpected avatar URL %q", user.AvatarURL)
	}
	if store.users["me"].AvatarURL != user.AvatarURL {
		t.Fatal("expected persisted avatar URL")
	}
	if store.users["me"].Name != "Mina" {
		t.Fatal("expected name preserved")
	}
}

func TestUpdateAvatarRejectsEmptyData(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(backend.UserRecord{ID: "me"})
	if _, err := svc.UpdateAvatar(context.Background(), nil, ".png"); !errors.Is(err, ErrAvatarDataRequired) {
		t.Fatalf("expected ErrAvatarDataRequired, got %v", err)
	}
}

func TestUpdateAvatarPropagatesUploadFailure(t *testing.T) {
	t.Parallel()

	svc, store, objects := newTestService(backend.UserRecord{ID: "me"})
	objects.err = errors.New("disk full")

	if _, err := svc.UpdateAvatar(context.Background(), []byte{1}, ".png"); err == nil {
		t.Fatal("expected upload error")
	}
	if store.users["me"].AvatarURL != "" {
		t.Fatal("expected no URL persisted after failed upload")
	}
}

func TestGetReturnsPublicProfile(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(backend.UserRecord{ID: "me", Name: "Mina"})
	user, err := svc.Get(context.Background(), "me")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if user.Name != "Mina" {
		t.Fatalf("unexpected user %+v", user)
	}
}
