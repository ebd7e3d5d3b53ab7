package core

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"gownqueue/internal/config"
	memstore "gownqueue/internal/infra/persistence/memory"
	"gownqueue/internal/infra/persistence/postgres"
	"gownqueue/internal/infra/persistence/sqlite"
	memremote "gownqueue/internal/remote/memory"
	pgremote "gownqueue/internal/remote/postgres"
	"gownqueue/testutil/pgstub"
)

func TestOpenQueueStoreDefaultsToSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	store, err := OpenQueueStore(context.Background(), config.Storage{SQLitePath: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	s, ok := store.(*sqlite.Store)
	if !ok {
		t.Fatalf("expected *sqlite.Store, got %T", store)
	}
	if s.Path() != path {
		t.Fatalf("want path %s, got %s", path, s.Path())
	}
}

func TestOpenQueueStoreMemory(t *testing.T) {
	store, err := OpenQueueStore(context.Background(), config.Storage{Driver: config.StorageMemory})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*memstore.Store); !ok {
		t.Fatalf("expected *memory.Store, got %T", store)
	}
}

func TestOpenQueueStorePostgres(t *testing.T) {
	db, _ := pgstub.NewDB()
	restore := postgres.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	store, err := OpenQueueStore(context.Background(), config.Storage{Driver: config.StoragePostgres, PostgresDSN: "postgres://stub"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	if _, ok := store.(*postgres.Store); !ok {
		t.Fatalf("expected *postgres.Store, got %T", store)
	}
}

func TestOpenQueueStoreUnknownDriver(t *testing.T) {
	if _, err := OpenQueueStore(context.Background(), config.Storage{Driver: "bolt"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpenRemote(t *testing.T) {
	ctx := context.Background()
	remote, closeFn, err := OpenRemote(ctx, config.Remote{})
	if err != nil {
		t.Fatalf("memory remote: %v", err)
	}
	if _, ok := remote.(*memremote.Remote); !ok {
		t.Fatalf("expected memory remote, got %T", remote)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, _ := pgstub.NewDB()
	restore := pgremote.OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	remote, closeFn, err = OpenRemote(ctx, config.Remote{Driver: config.RemotePostgres, DSN: "postgres://stub"})
	if err != nil {
		t.Fatalf("postgres remote: %v", err)
	}
	if _, ok := remote.(*pgremote.Client); !ok {
		t.Fatalf("expected postgres client, got %T", remote)
	}
	_ = closeFn()

	if _, _, err := OpenRemote(ctx, config.Remote{Driver: "grpc"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
