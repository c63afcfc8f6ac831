package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRecordsRunLifecycle(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if err := store.RecordStart(ctx, "run-1", "https://cdn.example/v.m3u8", "/out/v.mp4", 42); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}

	runs, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Status != StatusRunning || runs[0].Segments != 42 || runs[0].FinishedAt != nil {
		t.Fatalf("unexpected running row: %+v", runs[0])
	}

	outcome := Outcome{Status: StatusCompleted, Bytes: 1 << 20, Backend: "ffmpeg"}
	if err := store.RecordFinish(ctx, "run-1", outcome); err != nil {
		t.Fatalf("RecordFinish: %v", err)
	}

	runs, err = store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	run := runs[0]
	if run.Status != StatusCompleted || run.Bytes != 1<<20 || run.Backend != "ffmpeg" {
		t.Fatalf("unexpected finished row: %+v", run)
	}
	if run.FinishedAt == nil || run.FinishedAt.Before(run.StartedAt) {
		t.Fatalf("finished_at not recorded sensibly: %+v", run)
	}
}

func TestStoreRecordFinishUnknownRun(t *testing.T) {
	store := openStore(t)
	err := store.RecordFinish(context.Background(), "ghost", Outcome{Status: StatusFailed})
	if err == nil {
		t.Fatal("expected error for unknown run id")
	}
}

func TestStoreRecentNewestFirst(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	for i, id := range []string{"old", "mid", "new"} {
		if err := store.RecordStart(ctx, id, "src", "out", i); err != nil {
			t.Fatalf("RecordStart %s: %v", id, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	runs, err := store.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(runs))
	}
	if runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Fatalf("unexpected order: %s, %s", runs[0].ID, runs[1].ID)
	}
}

func TestStoreSchemaMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := store.db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	store.Close()

	if _, err := Open(path); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestStoreReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.RecordStart(context.Background(), "persist", "src", "out", 1); err != nil {
		t.Fatalf("RecordStart: %v", err)
	}
	store.Close()

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	runs, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "persist" {
		t.Fatalf("expected persisted run, got %+v", runs)
	}
}
