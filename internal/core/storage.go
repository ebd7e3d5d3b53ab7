package core

import (
	"context"
	"fmt"

	"gownqueue/internal/config"
	memstore "gownqueue/internal/infra/persistence/memory"
	"gownqueue/internal/infra/persistence/postgres"
	"gownqueue/internal/infra/persistence/sqlite"
	memremote "gownqueue/internal/remote/memory"
	pgremote "gownqueue/internal/remote/postgres"
	"gownqueue/pkg/domain"
)

// Remote is the booking system: mutations plus authoritative reads.
type Remote interface {
	domain.RemoteAPI
	domain.BookingSource
}

var (
	_ Remote = (*memremote.Remote)(nil)
	_ Remote = (*pgremote.Client)(nil)
)

// OpenQueueStore selects the local queue backend. Defaults to sqlite when the
// driver is unset.
//
//	memory:   in-memory only (tests / ephemeral)
//	sqlite:   embedded sqlite file at cfg.SQLitePath
//	postgres: PostgreSQL server at cfg.PostgresDSN
func OpenQueueStore(ctx context.Context, cfg config.Storage) (domain.QueueStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = config.StorageSQLite
	}
	switch driver {
	case config.StorageMemory:
		return memstore.NewStore(), nil
	case config.StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath)
	case config.StoragePostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenRemote connects to the booking system named by cfg.Driver. The memory
// driver starts empty and exists for demos and tests.
func OpenRemote(ctx context.Context, cfg config.Remote) (Remote, func() error, error) {
	switch cfg.Driver {
	case "", config.RemoteMemory:
		return memremote.New(), func() error { return nil }, nil
	case config.RemotePostgres:
		client, err := pgremote.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown remote driver %s", cfg.Driver)
	}
}
