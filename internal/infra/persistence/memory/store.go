// Package memory provides an in-memory queue store used for tests and
// ephemeral environments. Snapshots are held in their serialized form so the
// store never shares state with the queue.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"gownqueue/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the queue store interface.
var _ domain.QueueStore = (*Store)(nil)

// Store keeps the latest queue snapshot in process memory.
type Store struct {
	mu      sync.RWMutex
	payload []byte
	saves   int
	closed  bool
}

// NewStore returns an empty in-memory store.
func NewStore() *Store { return &Store{} }

// Load decodes the last saved snapshot. An empty store yields an empty snapshot.
func (s *Store) Load(_ context.Context) (domain.QueueSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.payload) == 0 {
		return domain.QueueSnapshot{SchemaVersion: domain.QueueSchemaVersion}, nil
	}
	var snapshot domain.QueueSnapshot
	if err := json.Unmarshal(s.payload, &snapshot); err != nil {
		return domain.QueueSnapshot{}, fmt.Errorf("decode operations: %w", err)
	}
	return snapshot, nil
}

// Save replaces the stored snapshot.
func (s *Store) Save(_ context.Context, snapshot domain.QueueSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode operations: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store closed")
	}
	s.payload = data
	s.saves++
	return nil
}

// Saves reports how many snapshots were written.
func (s *Store) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// Reopen clears the closed flag so a test can simulate a process restart
// against the same backing memory.
func (s *Store) Reopen() *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
	return s
}

// Close marks the store closed; later saves fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
