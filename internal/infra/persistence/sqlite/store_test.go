package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gownqueue/pkg/domain"
)

func sampleSnapshot() domain.QueueSnapshot {
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	return domain.QueueSnapshot{
		SchemaVersion: domain.QueueSchemaVersion,
		Seq:           2,
		Operations: []domain.Operation{
			{ID: "op-1", EntityID: "booking-1", Type: domain.OpCheckOutGown, Seq: 1, Timestamp: at, State: domain.StatePending},
			{ID: "op-2", EntityID: "booking-2", Type: domain.OpCheckInGown, Seq: 2, Timestamp: at, State: domain.StateErrored, Error: "timeout", ErroredAt: &at},
		},
	}
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue", "state.db")
	store, err := NewStore(path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if err := store.Save(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reloaded, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = reloaded.Close() })
	snapshot, err := reloaded.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snapshot.Seq != 2 || len(snapshot.Operations) != 2 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if snapshot.Operations[1].Error != "timeout" || snapshot.Operations[1].State != domain.StateErrored {
		t.Fatalf("errored operation not preserved: %+v", snapshot.Operations[1])
	}
}

func TestSQLiteStoreSaveOverwritesSingleRow(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	for i := 0; i < 3; i++ {
		if err := store.Save(ctx, sampleSnapshot()); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	var rows int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&rows); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if rows != 1 {
		t.Fatalf("expected a single state row, got %d", rows)
	}
}

func TestSQLiteStoreLoadFreshFile(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	snapshot, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snapshot.Operations) != 0 || snapshot.SchemaVersion != domain.QueueSchemaVersion {
		t.Fatalf("unexpected fresh snapshot: %+v", snapshot)
	}
}
