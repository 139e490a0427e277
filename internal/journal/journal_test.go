package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	if err := j.RecordTransition(ctx, "unknown", "ap", "boot"); err != nil {
		t.Fatalf("RecordTransition() error = %v", err)
	}
	if err := j.RecordHealth(ctx, "ap", true, ""); err != nil {
		t.Fatalf("RecordHealth() error = %v", err)
	}
	if err := j.RecordApply(ctx, "static_ap"); err != nil {
		t.Fatalf("RecordApply() error = %v", err)
	}

	events, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Recent() returned %d events, want 3", len(events))
	}
	// Newest first.
	if events[0].Kind != KindApply {
		t.Errorf("events[0].Kind = %q, want %q", events[0].Kind, KindApply)
	}
	if events[2].Kind != KindTransition {
		t.Errorf("events[2].Kind = %q, want %q", events[2].Kind, KindTransition)
	}
	for _, e := range events {
		if e.ID == "" {
			t.Errorf("event %q has empty ID", e.Kind)
		}
		if e.CreatedAt.IsZero() {
			t.Errorf("event %q has zero CreatedAt", e.Kind)
		}
	}
}

func TestLastHealth(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	got, err := j.LastHealth(ctx)
	if err != nil {
		t.Fatalf("LastHealth() error = %v", err)
	}
	if got != nil {
		t.Fatalf("LastHealth() on empty journal = %+v, want nil", got)
	}

	if err := j.RecordHealth(ctx, "client", false, "gateway unreachable"); err != nil {
		t.Fatalf("RecordHealth() error = %v", err)
	}
	if err := j.RecordHealth(ctx, "client", true, ""); err != nil {
		t.Fatalf("RecordHealth() error = %v", err)
	}

	got, err = j.LastHealth(ctx)
	if err != nil {
		t.Fatalf("LastHealth() error = %v", err)
	}
	if got == nil {
		t.Fatal("LastHealth() = nil, want latest event")
	}
	if !got.Healthy {
		t.Errorf("LastHealth().Healthy = false, want true")
	}
	if got.Mode != "client" {
		t.Errorf("LastHealth().Mode = %q, want %q", got.Mode, "client")
	}
}

func TestPrune(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	// Insert one old row directly so Prune has something past the cutoff.
	old := time.Now().UTC().Add(-48 * time.Hour)
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO events (id, kind, mode, healthy, detail, created_at)
		VALUES ('old-event', ?, 'ap', 1, '', ?)`, KindHealth, old)
	if err != nil {
		t.Fatalf("insert old event: %v", err)
	}
	if err := j.RecordHealth(ctx, "ap", true, ""); err != nil {
		t.Fatalf("RecordHealth() error = %v", err)
	}

	n, err := j.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() removed %d rows, want 1", n)
	}

	events, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Recent() after prune returned %d events, want 1", len(events))
	}
	if events[0].ID == "old-event" {
		t.Error("pruned event still present")
	}
}
