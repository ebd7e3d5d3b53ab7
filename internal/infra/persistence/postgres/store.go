// Package postgres provides a Postgres-backed queue store for deployments
// where several kiosks share one durable queue database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"gownqueue/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the queue store interface.
var _ domain.QueueStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenQueueStore defaults while allowing overrides via env.
	defaultDSN       = "postgres://localhost/gownqueue?sslmode=disable"
	operationsBucket = "operations"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists the queue snapshot to a JSONB `state` row.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN)
// and ensures the state table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	return nil
}

// Load reads the persisted snapshot; an empty table yields an empty snapshot.
func (s *Store) Load(ctx context.Context) (domain.QueueSnapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = $1`, operationsBucket).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(payload) == 0) {
		return domain.QueueSnapshot{SchemaVersion: domain.QueueSchemaVersion}, nil
	}
	if err != nil {
		return domain.QueueSnapshot{}, fmt.Errorf("select state: %w", err)
	}
	var snapshot domain.QueueSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return domain.QueueSnapshot{}, fmt.Errorf("decode %s: %w", operationsBucket, err)
	}
	return snapshot, nil
}

// Save upserts the snapshot in a transaction.
func (s *Store) Save(ctx context.Context, snapshot domain.QueueSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode %s: %w", operationsBucket, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`, operationsBucket, data); err != nil {
		return fmt.Errorf("upsert %s: %w", operationsBucket, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
