package cache

import (
	"testing"
	"time"
)

func TestGetReturnsFreshEntry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := New[[]string](30*time.Second, func() time.Time { return now })

	c.Set(ViewInbox, []string{"msg-1"})
	now = now.Add(10 * time.Second)

	got, ok := c.Get(ViewInbox)
	if !ok {
		t.Fatal("expected cache hit within TTL")
	}
	if len(got) != 1 || got[0] != "msg-1" {
		t.Fatalf("unexpected cached value %v", got)
	}
}

func TestGetExpiresEntryAtTTL(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := New[int](30*time.Second, func() time.Time { return now })

	c.Set(ViewSent, 7)
	now = now.Add(30 * time.Second)

	if _, ok := c.Get(ViewSent); ok {
		t.Fatal("expected entry older than TTL to be dropped")
	}
}

func TestGetMissesUnsetView(t *testing.T) {
	t.Parallel()

	c := New[int](30*time.Second, nil)
	if _, ok := c.Get(ViewInbox); ok {
		t.Fatal("expected miss for unset view")
	}
}

func TestInvalidateSingleView(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := New[int](time.Minute, func() time.Time { return now })

	c.Set(ViewInbox, 1)
	c.Set(ViewSent, 2)
	c.Invalidate(ViewInbox)

	if _, ok := c.Get(ViewInbox); ok {
		t.Fatal("expected inbox entry cleared")
	}
	if _, ok := c.Get(ViewSent); !ok {
		t.Fatal("expected sent entry to survive")
	}
}

func TestInvalidateAllViews(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := New[int](time.Minute, func() time.Time { return now })

	c.Set(ViewInbox, 1)
	c.Set(ViewSent, 2)
	c.Invalidate()

	if _, ok := c.Get(ViewInbox); ok {
		t.Fatal("expected inbox entry cleared")
	}
	if _, ok := c.Get(ViewSent); ok {
		t.Fatal("expected sent entry cleared")
	}
}

func TestSetAfterInvalidateServesNewValue(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c := New[int](time.Minute, func() time.Time { return now })

	c.Set(ViewInbox, 1)
	c.Invalidate(ViewInbox)
	c.Set(ViewInbox, 2)

	got, ok := c.Get(ViewInbox)
	if !ok || got != 2 {
		t.Fatalf("expected repopulated value 2, got %v (hit=%v)", got, ok)
	}
}
