package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", FileName))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	entries := []Entry{
		{TxID: "01A", Component: "game", FromVersion: "2.0.0", ToVersion: "2.1.0", Channel: "stable", Outcome: OutcomeCommitted, At: base},
		{TxID: "01B", Component: "launcher", FromVersion: "1.0.0", ToVersion: "1.1.0", Outcome: OutcomeRolledBack, Error: "rename: permission denied", At: base.Add(time.Minute)},
	}
	for _, e := range entries {
		if err := j.Record(ctx, e); err != nil {
			t.Fatalf("Record(%s) error: %v", e.TxID, err)
		}
	}

	got, err := j.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent() returned %d entries, want 2", len(got))
	}
	if got[0].TxID != "01B" || got[0].Outcome != OutcomeRolledBack || got[0].Error == "" {
		t.Errorf("newest entry = %+v", got[0])
	}
	if got[1].TxID != "01A" || got[1].ToVersion != "2.1.0" || !got[1].At.Equal(base) {
		t.Errorf("oldest entry = %+v", got[1])
	}
}

func TestRecordUpsertsOutcome(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	if err := j.Record(ctx, Entry{TxID: "01C", Component: "game", ToVersion: "3.0.0", Outcome: OutcomeFailed}); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	if err := j.Record(ctx, Entry{TxID: "01C", Component: "game", ToVersion: "3.0.0", Outcome: OutcomeCommitted}); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	got, err := j.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(got) != 1 || got[0].Outcome != OutcomeCommitted {
		t.Fatalf("Recent() = %+v, want one committed entry", got)
	}
}

func TestRecordRequiresTxID(t *testing.T) {
	j := openTestJournal(t)
	if err := j.Record(context.Background(), Entry{Component: "game"}); err == nil {
		t.Fatal("expected error for missing tx id")
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	ctx := context.Background()

	j, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := j.Record(ctx, Entry{TxID: "01D", Component: "game", ToVersion: "1.0.0", Outcome: OutcomeCommitted}); err != nil {
		t.Fatalf("Record() error: %v", err)
	}
	_ = j.Close()

	j2, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer func() { _ = j2.Close() }()
	got, err := j2.Recent(ctx, 5)
	if err != nil || len(got) != 1 {
		t.Fatalf("Recent() after reopen = %v, %v", got, err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
