package app

import (
	"context"
	"path/filepath"
	"testing"
)

func TestNewWiresSubsystems(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, err := New(context.Background(), Config{
		HTTPAddr:   "127.0.0.1:18090",
		DBPath:     filepath.Join(dir, "dub.db"),
		MediaDir:   filepath.Join(dir, "media"),
		AuthSecret: "test-secret",
		UserName:   "Mina",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.User.Name != "Mina" || a.User.ID == "" {
		t.Fatalf("expected signed-in user, got %+v", a.User)
	}
	if a.Messaging == nil || a.Scheduling == nil || a.Profile == nil {
		t.Fatal("expected domain services wired")
	}
	if a.Manager == nil || a.Monitor == nil || a.Coordinator == nil {
		t.Fatal("expected realtime subsystems wired")
	}

	user, err := a.Auth.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if user.ID != a.User.ID {
		t.Fatal("expected session for the registered user")
	}
}

func TestNewRequiresHTTPAddr(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for missing address")
	}
}

func TestHostport(t *testing.T) {
	t.Parallel()

	if got := hostport(":8090"); got != "localhost:8090" {
		t.Fatalf("unexpected hostport %q", got)
	}
	if got := hostport("example.test:80"); got != "example.test:80" {
		t.Fatalf("unexpected hostport %q", got)
	}
}
