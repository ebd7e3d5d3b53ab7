// Package queue implements the durable offline operation queue. The queue is
// the single writer of its backing store: every other component reads through
// the accessors below, which return copies.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gownqueue/internal/validation"
	"gownqueue/pkg/domain"
)

// Sentinel errors returned by queue mutations.
var (
	ErrNotFound     = errors.New("operation not found")
	ErrNotErrored   = errors.New("operation is not errored")
	ErrNotRetryable = errors.New("operation cannot be retried")
	ErrClosed       = errors.New("queue closed")
)

// unsupportedTypeReason is recorded on persisted operations whose type is no longer known.
const unsupportedTypeReason = "unsupported operation type"

// Queue holds queued operations in enqueue order.
type Queue struct {
	mu       sync.Mutex
	store    domain.QueueStore
	ops      []domain.Operation
	seq      uint64
	closed   bool
	now      func() time.Time
	newID    func() string
	validate *validation.Validator
	logger   *zap.Logger
	onChange []func(domain.Operation)
}

// Option customises a Queue.
type Option func(*Queue)

// WithLogger sets the queue logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

// WithIDGenerator overrides operation id generation.
func WithIDGenerator(fn func() string) Option {
	return func(q *Queue) {
		if fn != nil {
			q.newID = fn
		}
	}
}

// WithOnChange registers a listener invoked after every persisted mutation,
// outside the queue lock.
func WithOnChange(fn func(domain.Operation)) Option {
	return func(q *Queue) {
		if fn != nil {
			q.onChange = append(q.onChange, fn)
		}
	}
}

// Open hydrates a queue from the store. Operations left in applying state by a
// previous process return to pending; operations with an unknown type are kept
// and marked errored.
func Open(ctx context.Context, store domain.QueueStore, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, fmt.Errorf("queue store required")
	}
	q := &Queue{
		store:    store,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		validate: validation.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	snapshot, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}
	if snapshot.SchemaVersion > domain.QueueSchemaVersion {
		return nil, fmt.Errorf("queue schema version %d is newer than supported %d", snapshot.SchemaVersion, domain.QueueSchemaVersion)
	}
	q.seq = snapshot.Seq
	repaired := false
	for _, op := range snapshot.Operations {
		op = op.Clone()
		if op.Seq > q.seq {
			q.seq = op.Seq
		}
		switch {
		case !op.Type.Valid() && op.State != domain.StateErrored:
			at := q.now()
			op.State = domain.StateErrored
			op.Error = unsupportedTypeReason
			op.ErroredAt = &at
			repaired = true
		case op.State == domain.StateApplying, op.State == "":
			op.State = domain.StatePending
			repaired = true
		}
		q.ops = append(q.ops, op)
	}
	sort.SliceStable(q.ops, func(i, j int) bool { return q.ops[i].Seq < q.ops[j].Seq })
	if repaired {
		if err := q.store.Save(ctx, q.snapshotLocked()); err != nil {
			return nil, fmt.Errorf("persist repaired queue: %w", err)
		}
	}
	q.logger.Debug("queue loaded", zap.Int("operations", len(q.ops)), zap.Uint64("seq", q.seq))
	return q, nil
}

// Enqueue validates and appends an operation, returning its id. Validation
// errors are returned synchronously and nothing is queued.
func (q *Queue) Enqueue(ctx context.Context, req domain.EnqueueRequest) (string, error) {
	if err := q.validate.Struct(req); err != nil {
		return "", err
	}
	if req.Type != domain.OpChangeGown {
		req.Change = nil
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrClosed
	}
	prevOps, prevSeq := q.ops, q.seq
	op := domain.Operation{
		ID:          q.newID(),
		EntityID:    req.EntityID,
		Type:        req.Type,
		Description: req.Description,
		Timestamp:   q.now(),
		State:       domain.StatePending,
	}
	if req.Change != nil {
		c := *req.Change
		op.Change = &c
	}
	// A redo of an errored action takes the failed operation's place, so
	// operations queued behind it still replay after it.
	next := make([]domain.Operation, 0, len(q.ops)+1)
	superseded := 0
	for _, existing := range q.ops {
		if existing.EntityID == op.EntityID && existing.Type == op.Type && existing.State == domain.StateErrored {
			if superseded == 0 {
				op.Seq = existing.Seq
				next = append(next, op)
			}
			superseded++
			continue
		}
		next = append(next, existing)
	}
	if superseded == 0 {
		q.seq++
		op.Seq = q.seq
		next = append(next, op)
	}
	q.ops = next
	if err := q.store.Save(ctx, q.snapshotLocked()); err != nil {
		q.ops, q.seq = prevOps, prevSeq
		q.mu.Unlock()
		return "", fmt.Errorf("persist enqueue: %w", err)
	}
	q.mu.Unlock()

	q.logger.Info("operation enqueued",
		zap.String("operation_id", op.ID),
		zap.String("entity_id", op.EntityID),
		zap.String("type", string(op.Type)),
		zap.Int("superseded", superseded))
	q.notify(op)
	return op.ID, nil
}

// Get returns a copy of the operation with the given id.
func (q *Queue) Get(id string) (domain.Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if idx := q.indexLocked(id); idx >= 0 {
		return q.ops[idx].Clone(), true
	}
	return domain.Operation{}, false
}

// PendingForEntity returns pending and applying operations for the entity, most recent first.
func (q *Queue) PendingForEntity(entityID string) []domain.Operation {
	return q.forEntity(entityID, func(op domain.Operation) bool { return op.State.Active() })
}

// ErroredForEntity returns errored operations for the entity, most recent first.
func (q *Queue) ErroredForEntity(entityID string) []domain.Operation {
	return q.forEntity(entityID, func(op domain.Operation) bool { return op.State == domain.StateErrored })
}

func (q *Queue) forEntity(entityID string, keep func(domain.Operation) bool) []domain.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.Operation
	for i := len(q.ops) - 1; i >= 0; i-- {
		op := q.ops[i]
		if op.EntityID == entityID && keep(op) {
			out = append(out, op.Clone())
		}
	}
	return out
}

// Operations returns every queued operation in replay order.
func (q *Queue) Operations() []domain.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Operation, len(q.ops))
	for i, op := range q.ops {
		out[i] = op.Clone()
	}
	return out
}

// Remove deletes an operation. Removing an absent id is not an error and reports false.
func (q *Queue) Remove(ctx context.Context, id string) (bool, error) {
	var removed domain.Operation
	found := false
	err := q.mutate(ctx, func() error {
		idx := q.indexLocked(id)
		if idx < 0 {
			return nil
		}
		removed = q.ops[idx]
		found = true
		q.ops = append(q.ops[:idx:idx], q.ops[idx+1:]...)
		return nil
	})
	if err != nil || !found {
		return false, err
	}
	q.notify(removed)
	return true, nil
}

// MarkApplying moves a pending operation into applying and counts the attempt.
func (q *Queue) MarkApplying(ctx context.Context, id string) (domain.Operation, error) {
	return q.transition(ctx, id, func(op *domain.Operation) error {
		if op.State != domain.StatePending {
			return fmt.Errorf("operation %s is %s, not pending", id, op.State)
		}
		op.State = domain.StateApplying
		op.Attempts++
		return nil
	})
}

// MarkPending returns an applying operation to pending without recording an error.
func (q *Queue) MarkPending(ctx context.Context, id string) (domain.Operation, error) {
	return q.transition(ctx, id, func(op *domain.Operation) error {
		op.State = domain.StatePending
		return nil
	})
}

// MarkErrored records a replay failure. The operation stays queued until the
// user retries, discards or supersedes it.
func (q *Queue) MarkErrored(ctx context.Context, id, reason string) error {
	if reason == "" {
		reason = "unknown error"
	}
	_, err := q.transition(ctx, id, func(op *domain.Operation) error {
		at := q.now()
		op.State = domain.StateErrored
		op.Error = reason
		op.ErroredAt = &at
		return nil
	})
	return err
}

// Retry returns an errored operation to pending. Errored operations are never
// retried without this explicit call.
func (q *Queue) Retry(ctx context.Context, id string) (domain.Operation, error) {
	return q.transition(ctx, id, func(op *domain.Operation) error {
		if op.State != domain.StateErrored {
			return fmt.Errorf("%w: %s", ErrNotErrored, id)
		}
		if !op.Type.Valid() {
			return fmt.Errorf("%w: %s: %s", ErrNotRetryable, id, unsupportedTypeReason)
		}
		op.State = domain.StatePending
		op.Error = ""
		op.ErroredAt = nil
		return nil
	})
}

// Discard removes an errored operation at the user's request.
func (q *Queue) Discard(ctx context.Context, id string) (domain.Operation, error) {
	var removed domain.Operation
	err := q.mutate(ctx, func() error {
		idx := q.indexLocked(id)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if q.ops[idx].State != domain.StateErrored {
			return fmt.Errorf("%w: %s", ErrNotErrored, id)
		}
		removed = q.ops[idx]
		q.ops = append(q.ops[:idx:idx], q.ops[idx+1:]...)
		return nil
	})
	if err != nil {
		return domain.Operation{}, err
	}
	q.notify(removed)
	return removed.Clone(), nil
}

// ClearErrored discards every errored operation of an entity and returns how many were removed.
func (q *Queue) ClearErrored(ctx context.Context, entityID string) (int, error) {
	var cleared []domain.Operation
	err := q.mutate(ctx, func() error {
		cleared = nil
		next := q.ops[:0:0]
		for _, op := range q.ops {
			if op.EntityID == entityID && op.State == domain.StateErrored {
				cleared = append(cleared, op)
				continue
			}
			next = append(next, op)
		}
		q.ops = next
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, op := range cleared {
		q.notify(op)
	}
	return len(cleared), nil
}

// Close marks the queue closed and closes the store.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return q.store.Close()
}

func (q *Queue) transition(ctx context.Context, id string, fn func(*domain.Operation) error) (domain.Operation, error) {
	var updated domain.Operation
	err := q.mutate(ctx, func() error {
		idx := q.indexLocked(id)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		op := q.ops[idx].Clone()
		if err := fn(&op); err != nil {
			return err
		}
		q.ops[idx] = op
		updated = op
		return nil
	})
	if err != nil {
		return domain.Operation{}, err
	}
	q.notify(updated)
	return updated.Clone(), nil
}

// mutate applies fn under the lock and persists; the in-memory state is
// restored when persisting fails.
func (q *Queue) mutate(ctx context.Context, fn func() error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	prev := make([]domain.Operation, len(q.ops))
	copy(prev, q.ops)
	if err := fn(); err != nil {
		q.ops = prev
		return err
	}
	if err := q.store.Save(ctx, q.snapshotLocked()); err != nil {
		q.ops = prev
		return fmt.Errorf("persist queue: %w", err)
	}
	return nil
}

func (q *Queue) notify(op domain.Operation) {
	for _, fn := range q.onChange {
		fn(op.Clone())
	}
}

func (q *Queue) indexLocked(id string) int {
	for i := range q.ops {
		if q.ops[i].ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) snapshotLocked() domain.QueueSnapshot {
	ops := make([]domain.Operation, len(q.ops))
	for i, op := range q.ops {
		ops[i] = op.Clone()
	}
	return domain.QueueSnapshot{SchemaVersion: domain.QueueSchemaVersion, Seq: q.seq, Operations: ops}
}
