package lead

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *JSONLStore {
	t.Helper()
	return NewJSONLStore(filepath.Join(t.TempDir(), "leads.jsonl"), nil)
}

func TestJSONLStore_ReadAllMissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t)

	leads, err := s.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if leads == nil || len(leads) != 0 {
		t.Fatalf("expected empty slice, got %v", leads)
	}
}

func TestJSONLStore_AppendThenReadAll(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := New("+15551234567", time.Unix(1700000000, 0))
	if err := s.Append(ctx, l); err != nil {
		t.Fatalf("append: %v", err)
	}

	leads, err := s.ReadAll(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(leads) != 1 {
		t.Fatalf("expected 1 lead, got %d", len(leads))
	}
	got := leads[0]
	if got.ID != l.ID || got.PhoneNumber != l.PhoneNumber || got.CallStatus != StatusInitiated {
		t.Fatalf("lead changed on round trip: %+v", got)
	}
	if !got.CallStartedAt.Equal(l.CallStartedAt) {
		t.Fatalf("start time changed: %v vs %v", got.CallStartedAt, l.CallStartedAt)
	}
}

func TestJSONLStore_UpdateByIDMissingLeavesRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := New("+1", time.Now())
	if err := s.Append(ctx, l); err != nil {
		t.Fatalf("append: %v", err)
	}
	before, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read file: %v", err)
	}

	if _, err := s.UpdateByID(ctx, "lead_missing", StatusPatch(StatusCompleted)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	after, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("records changed on missing update")
	}
}

func TestJSONLStore_UpdateByIDMergesAndRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := New("+1", time.Now())
	b := New("+2", time.Now())
	for _, l := range []Lead{a, b} {
		if err := s.Append(ctx, l); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	company := "Acme"
	merged, err := s.UpdateByID(ctx, b.ID, Patch{Company: &company, CallStatus: ptr(StatusInProgress)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if merged.Company == nil || *merged.Company != "Acme" {
		t.Fatalf("expected merged company")
	}

	got, err := s.FindByID(ctx, b.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.CallStatus != StatusInProgress || got.Company == nil || *got.Company != "Acme" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.PhoneNumber != "+2" {
		t.Fatalf("unpatched fields must survive")
	}

	other, err := s.FindByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if other.CallStatus != StatusInitiated {
		t.Fatalf("other lead must be untouched")
	}
}

func TestJSONLStore_UpdateByIDRejectsInvalidPatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := New("+1", time.Now())
	l.CallStatus = StatusCompleted
	if err := s.Append(ctx, l); err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := s.UpdateByID(ctx, l.ID, StatusPatch(StatusInProgress)); !errors.Is(err, ErrInvalidPatch) {
		t.Fatalf("expected ErrInvalidPatch, got %v", err)
	}
	got, _ := s.FindByID(ctx, l.ID)
	if got.CallStatus != StatusCompleted {
		t.Fatalf("status regressed to %q", got.CallStatus)
	}
}

func TestJSONLStore_UpsertReplacesOrAppends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	l := New("+1", time.Now())
	if err := s.Upsert(ctx, l); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	l.CallStatus = StatusInProgress
	if err := s.Upsert(ctx, l); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	leads, err := s.ReadAll(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(leads) != 1 || leads[0].CallStatus != StatusInProgress {
		t.Fatalf("unexpected leads: %+v", leads)
	}
}

func TestJSONLStore_ConcurrentUpdatesAreNotLost(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		l := New(fmt.Sprintf("+1555000%02d", i), time.Now())
		ids[i] = l.ID
		if err := s.Append(ctx, l); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := s.UpdateByID(ctx, id, StatusPatch(StatusInProgress)); err != nil {
				t.Errorf("update %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	leads, err := s.ReadAll(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(leads) != n {
		t.Fatalf("expected %d leads, got %d", n, len(leads))
	}
	for _, l := range leads {
		if l.CallStatus != StatusInProgress {
			t.Fatalf("lost update for %s", l.ID)
		}
	}
}

func ptr[T any](v T) *T { return &v }
