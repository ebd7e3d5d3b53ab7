package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"gownqueue/pkg/domain"
	"gownqueue/testutil/pgstub"
)

func openStub(t *testing.T) (*Store, *pgstub.Conn) {
	t.Helper()
	db, conn := pgstub.NewDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func TestNewStoreEnsuresStateTable(t *testing.T) {
	_, conn := openStub(t)
	var sawDDL bool
	for _, stmt := range conn.Statements() {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS STATE") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected state table DDL, got %v", conn.Statements())
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := openStub(t)

	empty, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if len(empty.Operations) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", empty)
	}

	snapshot := domain.QueueSnapshot{
		SchemaVersion: domain.QueueSchemaVersion,
		Seq:           7,
		Operations: []domain.Operation{{
			ID: "op-7", EntityID: "booking-9", Type: domain.OpUndoCheckIn, Seq: 7,
			Timestamp: time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC), State: domain.StatePending,
		}},
	}
	if err := store.Save(ctx, snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, snapshot); err != nil {
		t.Fatalf("second save: %v", err)
	}
	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Seq != 7 || len(loaded.Operations) != 1 || loaded.Operations[0].Type != domain.OpUndoCheckIn {
		t.Fatalf("unexpected snapshot: %+v", loaded)
	}
}

func TestSaveSurfacesCommitFailure(t *testing.T) {
	store, conn := openStub(t)
	conn.FailCommit = true
	err := store.Save(context.Background(), domain.QueueSnapshot{SchemaVersion: 1})
	if err == nil || !strings.Contains(err.Error(), "commit") {
		t.Fatalf("expected commit error, got %v", err)
	}
}

func TestNewStorePingFailure(t *testing.T) {
	db, conn := pgstub.NewDB()
	conn.FailPing = true
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore(context.Background(), "postgres://example"); err == nil {
		t.Fatalf("expected ping failure")
	}
}

func TestNewStoreOpenFailure(t *testing.T) {
	boom := errors.New("boom")
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, boom })
	defer restore()
	if _, err := NewStore(context.Background(), ""); !errors.Is(err, boom) {
		t.Fatalf("expected open error, got %v", err)
	}
}
