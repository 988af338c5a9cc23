package localauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dubapp/dub/internal/backend"
)

type fakeUserStore struct {
	backend.DataStore

	users map[string]backend.UserRecord
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]backend.UserRecord)}
}

func (f *fakeUserStore) GetUser(_ context.Context, id string) (backend.UserRecord, error) {
	user, ok := f.users[id]
	if !ok {
		return backend.UserRecord{}, backend.ErrNotFound
	}
	return user, nil
}

func (f *fakeUserStore) PutUser(_ context.Context, record backend.UserRecord) error {
	f.users[record.ID] = record
	return nil
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

func newTestService(t *testing.T, store *fakeUserStore) *Service {
	t.Helper()
	svc, err := New(store, Config{Secret: []byte("test-secret"), SessionTTL: time.Hour})
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	return svc
}

func TestNewRequiresStoreAndSecret(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, Config{Secret: []byte("x")}); err == nil {
		t.Fatal("expected missing store error")
	}
	if _, err := New(newFakeUserStore(), Config{}); err == nil {
		t.Fatal("expected missing secret error")
	}
}

func TestRegisterSignsInNewUser(t *testing.T) {
	t.Parallel()

	store := newFakeUserStore()
	svc := newTestService(t, store)
	svc.clock = fixedClock(time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	svc.newID = func() (string, error) { return "user-1", nil }

	user, err := svc.Register(context.Background(), "  Mina  ")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.ID != "user-1" || user.Name != "Mina" {
		t.Fatalf("unexpected user %+v", user)
	}

	current, err := svc.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if current.ID != "user-1" {
		t.Fatalf("unexpected current user %+v", current)
	}
}

func TestCurrentUserWithoutSession(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeUserStore())
	if _, err := svc.CurrentUser(context.Background()); !errors.Is(err, backend.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestCurrentUserExpiredSession(t *testing.T) {
	t.Parallel()

	store := newFakeUserStore()
	store.users["user-1"] = backend.UserRecord{ID: "user-1", Name: "Mina"}
	svc := newTestService(t, store)

	signInTime := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc.clock = fixedClock(signInTime)
	if _, err := svc.SignIn(context.Background(), "user-1"); err != nil {
		t.Fatalf("sign in: %v", err)
	}

	svc.clock = fixedClock(signInTime.Add(2 * time.Hour))
	if _, err := svc.CurrentUser(context.Background()); !errors.Is(err, backend.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestSignOutNotifiesListenersWithNil(t *testing.T) {
	t.Parallel()

	store := newFakeUserStore()
	store.users["user-1"] = backend.UserRecord{ID: "user-1", Name: "Mina"}
	svc := newTestService(t, store)

	var transitions []*backend.UserRecord
	unsubscribe := svc.OnAuthStateChange(func(user *backend.UserRecord) {
		transitions = append(transitions, user)
	})

	if _, err := svc.SignIn(context.Background(), "user-1"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if err := svc.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}

	if len(transitions) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(transitions))
	}
	if transitions[0] == nil || transitions[0].ID != "user-1" {
		t.Fatalf("unexpected sign-in transition %+v", transitions[0])
	}
	if transitions[1] != nil {
		t.Fatalf("expected nil user on sign-out, got %+v", transitions[1])
	}

	if _, err := svc.CurrentUser(context.Background()); !errors.Is(err, backend.ErrNoSession) {
		t.Fatalf("expected ErrNoSession after sign-out, got %v", err)
	}

	unsubscribe()
	if _, err := svc.SignIn(context.Background(), "user-1"); err != nil {
		t.Fatalf("second sign in: %v", err)
	}
	if len(transitions) != 2 {
		t.Fatalf("expected no delivery after unsubscribe, got %d", len(transitions))
	}
}

func TestSignOutWithoutSessionDoesNotNotify(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeUserStore())
	calls := 0
	svc.OnAuthStateChange(func(*backend.UserRecord) { calls++ })

	if err := svc.SignOut(context.Background()); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no notifications, got %d", calls)
	}
}
