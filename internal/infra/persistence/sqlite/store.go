// Package sqlite persists the operation queue to an embedded SQLite file, the
// durable local storage of a staff device.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"gownqueue/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the queue store interface.
var _ domain.QueueStore = (*Store)(nil)

const (
	defaultPath      = "gownqueue.db"
	operationsBucket = "operations"
)

// Store snapshots the queue into a single `state` row keyed by bucket.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (creating when needed) the SQLite file at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Load reads the persisted snapshot; a fresh file yields an empty snapshot.
func (s *Store) Load(ctx context.Context) (domain.QueueSnapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = ?`, operationsBucket).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
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

// Save upserts the snapshot inside a transaction.
func (s *Store) Save(ctx context.Context, snapshot domain.QueueSnapshot) (retErr error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode %s: %w", operationsBucket, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, operationsBucket, data); err != nil {
		return fmt.Errorf("upsert %s: %w", operationsBucket, err)
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
