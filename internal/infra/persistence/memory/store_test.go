package memory

import (
	"context"
	"testing"
	"time"

	"gownqueue/pkg/domain"
)

func TestStoreLoadEmpty(t *testing.T) {
	snapshot, err := NewStore().Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snapshot.SchemaVersion != domain.QueueSchemaVersion {
		t.Fatalf("expected schema version %d, got %d", domain.QueueSchemaVersion, snapshot.SchemaVersion)
	}
	if len(snapshot.Operations) != 0 {
		t.Fatalf("expected no operations, got %d", len(snapshot.Operations))
	}
}

func TestStoreSaveIsolatesCallerState(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	ops := []domain.Operation{{
		ID:        "op-1",
		EntityID:  "booking-1",
		Type:      domain.OpChangeGown,
		Change:    &domain.GownChange{GownID: "G-42", Size: "M"},
		Seq:       1,
		Timestamp: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		State:     domain.StatePending,
	}}
	if err := store.Save(ctx, domain.QueueSnapshot{SchemaVersion: 1, Seq: 1, Operations: ops}); err != nil {
		t.Fatalf("save: %v", err)
	}
	ops[0].Change.GownID = "mutated"

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := loaded.Operations[0].Change.GownID; got != "G-42" {
		t.Fatalf("expected stored gown G-42, got %s", got)
	}
	if store.Saves() != 1 {
		t.Fatalf("expected 1 save, got %d", store.Saves())
	}
}

func TestStoreClosedRejectsSave(t *testing.T) {
	store := NewStore()
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Save(context.Background(), domain.QueueSnapshot{}); err == nil {
		t.Fatalf("expected save on closed store to fail")
	}
	if err := store.Reopen().Save(context.Background(), domain.QueueSnapshot{}); err != nil {
		t.Fatalf("save after reopen: %v", err)
	}
}
