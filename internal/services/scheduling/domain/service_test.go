package domain

import (
	"context"
	"errors"
	"testing"
	"time"

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
	records    map[string]backend.AvailabilityRecord
	rowsByDate map[string][]backend.AvailabilityRow
	invitedIDs []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records:    make(map[string]backend.AvailabilityRecord),
		rowsByDate: make(map[string][]backend.AvailabilityRow),
	}
}

func (f *fakeStore) PutAvailability(ctx context.Context, record backend.AvailabilityRecord) error {
	f.records[record.ID] = record
	return nil
}

func (f *fakeStore) UpdateAvailability(ctx context.Context, record backend.AvailabilityRecord) error {
	existing, ok := f.records[record.ID]
	if !ok || existing.OwnerID != record.OwnerID {
		return backend.ErrNotFound
	}
	record.CreatedAt = existing.CreatedAt
	f.records[record.ID] = record
	return nil
}

func (f *fakeStore) DeleteAvailability(ctx context.Context, id string, ownerID string) error {
	existing, ok := f.records[id]
	if !ok || existing.OwnerID != ownerID {
		return backend.ErrNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeStore) ListAvailabilitiesByDate(ctx context.Context, date string) ([]backend.AvailabilityRow, error) {
	return f.rowsByDate[date], nil
}

func (f *fakeStore) ListAvailabilitiesByOwner(ctx context.Context, ownerID string) ([]backend.AvailabilityRecord, error) {
	var records []backend.AvailabilityRecord
	for _, record := range f.records {
		if record.OwnerID == ownerID {
			records = append(records, record)
		}
	}
	return records, nil
}

func (f *fakeStore) ListInvitedAvailabilityIDs(ctx context.Context, senderID string) ([]string, error) {
	return f.invitedIDs, nil
}

func newTestService(store *fakeStore, userID string, now time.Time) *Service {
	auth := &fakeAuth{user: backend.UserRecord{ID: userID}}
	ids := 0
	return NewService(store, auth, func() time.Time { return now }, func() (string, error) {
		ids++
		return "slot-" + string(rune('a'+ids-1)), nil
	})
}

func slotRow(id, ownerID, date, start, end string, statuses ...backend.InvitationStatus) backend.AvailabilityRow {
	return backend.AvailabilityRow{
		Availability: backend.AvailabilityRecord{
			ID:        id,
			OwnerID:   ownerID,
			Date:      date,
			StartTime: start,
			EndTime:   end,
		},
		InvitationStatuses: statuses,
	}
}

func TestCreateStampsOwnerAndCreatedAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	svc := newTestService(store, "me", now)

	record, err := svc.Create(context.Background(), Input{
		Date:      "2026-08-20",
		StartTime: "18:00",
		EndTime:   "21:00",
		Comment:   "  ご飯でも  ",
		Genre:     "meal",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if record.OwnerID != "me" {
		t.Fatalf("expected owner stamped, got %q", record.OwnerID)
	}
	if !record.CreatedAt.Equal(now) {
		t.Fatalf("expected creation time %v, got %v", now, record.CreatedAt)
	}
	if record.Comment != "ご飯でも" {
		t.Fatalf("expected trimmed comment, got %q", record.Comment)
	}
	if _, ok := store.records[record.ID]; !ok {
		t.Fatal("expected record persisted")
	}
}

func TestCreateAllDayUsesSentinelRange(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC)
	svc := newTestService(newFakeStore(), "me", now)

	record, err := svc.Create(context.Background(), Input{Date: "2026-08-20", AllDay: true})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if record.StartTime != "00:00" || record.EndTime != "23:59" {
		t.Fatalf("expected all-day sentinel range, got %s-%s", record.StartTime, record.EndTime)
	}
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC)
	svc := newTestService(newFakeStore(), "me", now)

	cases := []struct {
		name  string
		input Input
		want  error
	}{
		{"bad date", Input{Date: "08/20", StartTime: "10:00", EndTime: "11:00"}, ErrInvalidDate},
		{"bad start", Input{Date: "2026-08-20", StartTime: "ten", EndTime: "11:00"}, ErrInvalidTimeRange},
		{"inverted range", Input{Date: "2026-08-20", StartTime: "12:00", EndTime: "11:00"}, ErrInvalidTimeRange},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := svc.Create(context.Background(), tc.input); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestUpdateRequiresOwnership(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.records["slot-1"] = backend.AvailabilityRecord{ID: "slot-1", OwnerID: "bob"}
	svc := newTestService(store, "me", now)

	_, err := svc.Update(context.Background(), "slot-1", Input{Date: "2026-08-20", StartTime: "10:00", EndTime: "11:00"})
	if !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign slot, got %v", err)
	}
}

func TestDeleteRequiresOwnership(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 15, 9, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.records["slot-1"] = backend.AvailabilityRecord{ID: "slot-1", OwnerID: "bob"}
	svc := newTestService(store, "me", now)

	if err := svc.Delete(context.Background(), "slot-1"); !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign slot, got %v", err)
	}
	if _, ok := store.records["slot-1"]; !ok {
		t.Fatal("expected foreign slot untouched")
	}
}

func TestOpenSlotsFiltersFeed(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.rowsByDate["2026-08-15"] = []backend.AvailabilityRow{
		slotRow("own", "me", "2026-08-15", "18:00", "21:00"),
		slotRow("invited", "bob", "2026-08-15", "18:00", "21:00"),
		slotRow("claimed", "bob", "2026-08-15", "18:00", "21:00", backend.InvitationAccepted),
		slotRow("rejected-ok", "bob", "2026-08-15", "18:00", "21:00", backend.InvitationRejected),
		slotRow("past", "bob", "2026-08-15", "09:00", "11:00"),
		slotRow("all-day", "bob", "2026-08-15", "00:00", "23:59"),
	}
	store.invitedIDs = []string{"invited"}
	svc := newTestService(store, "me", now)

	open, err := svc.OpenSlots(context.Background(), "2026-08-15")
	if err != nil {
		t.Fatalf("OpenSlots: %v", err)
	}

	want := map[string]bool{"rejected-ok": true, "all-day": true}
	if len(open) != len(want) {
		t.Fatalf("expected %d open slots, got %d", len(want), len(open))
	}
	for _, row := range open {
		if !want[row.Availability.ID] {
			t.Fatalf("unexpected slot %s in feed", row.Availability.ID)
		}
	}
}

func TestOpenSlotsFutureDateUnfiltered(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 15, 23, 30, 0, 0, time.UTC)
	store := newFakeStore()
	store.rowsByDate["2026-08-16"] = []backend.AvailabilityRow{
		slotRow("morning", "bob", "2026-08-16", "06:00", "08:00"),
	}
	svc := newTestService(store, "me", now)

	open, err := svc.OpenSlots(context.Background(), "2026-08-16")
	if err != nil {
		t.Fatalf("OpenSlots: %v", err)
	}
	if len(open) != 1 || open[0].Availability.ID != "morning" {
		t.Fatalf("expected tomorrow's slot listed, got %v", open)
	}
}

func TestOpenSlotsRejectsBadDate(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeStore(), "me", time.Now())
	if _, err := svc.OpenSlots(context.Background(), "today"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}
