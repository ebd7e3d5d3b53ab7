// Package replay drains the offline queue against the remote API once the
// device is back online.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gownqueue/internal/observability"
	"gownqueue/internal/queue"
	"gownqueue/pkg/domain"
)

// DefaultTimeout bounds how long DrainWithin waits before returning optimistically.
const DefaultTimeout = 3 * time.Second

const defaultConcurrency = 4

// Queue is the subset of the operation queue the executor drives.
type Queue interface {
	ReplayPlan() queue.Plan
	MarkApplying(ctx context.Context, id string) (domain.Operation, error)
	MarkPending(ctx context.Context, id string) (domain.Operation, error)
	MarkErrored(ctx context.Context, id, reason string) error
	Remove(ctx context.Context, id string) (bool, error)
}

// Invalidator drops cached entity state after a successful mutation.
type Invalidator interface {
	Invalidate(entityID string)
}

// Report summarises one drain.
type Report struct {
	Applied  int           `json:"applied"`
	Errored  int           `json:"errored"`
	Blocked  []string      `json:"blocked,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Executor replays queued operations. Drains are serialized; within a drain
// entities replay concurrently and each entity's operations run in enqueue order.
type Executor struct {
	queue       Queue
	remote      domain.RemoteAPI
	invalidator Invalidator
	recorder    observability.Recorder
	logger      *zap.Logger
	concurrency int
	timeout     time.Duration

	drainMu  sync.Mutex
	kick     chan struct{}
	detached sync.WaitGroup
}

// Option customises an Executor.
type Option func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r observability.Recorder) Option {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithInvalidator sets the cache invalidated after each applied operation.
func WithInvalidator(inv Invalidator) Option {
	return func(e *Executor) { e.invalidator = inv }
}

// WithConcurrency bounds how many entities replay at once.
func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithTimeout sets the default DrainWithin timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// New builds an executor over q and remote.
func New(q Queue, remote domain.RemoteAPI, opts ...Option) (*Executor, error) {
	if q == nil {
		return nil, fmt.Errorf("queue required")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote api required")
	}
	e := &Executor{
		queue:       q,
		remote:      remote,
		recorder:    observability.NoopRecorder{},
		logger:      zap.NewNop(),
		concurrency: defaultConcurrency,
		timeout:     DefaultTimeout,
		kick:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Drain replays every pending operation that is not blocked behind an errored
// one. Remote failures are recorded on the operation and never returned; the
// error reports only local persistence failures.
func (e *Executor) Drain(ctx context.Context) (Report, error) {
	e.drainMu.Lock()
	defer e.drainMu.Unlock()

	started := time.Now()
	plan := e.queue.ReplayPlan()
	report := Report{Blocked: plan.Blocked}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for _, batch := range plan.Batches {
		g.Go(func() error {
			applied, errored, err := e.replayEntity(gctx, batch)
			mu.Lock()
			report.Applied += applied
			report.Errored += errored
			mu.Unlock()
			return err
		})
	}
	err := g.Wait()
	report.Duration = time.Since(started)

	if len(plan.Batches) > 0 || len(plan.Blocked) > 0 {
		e.logger.Info("replay drained",
			zap.Int("entities", len(plan.Batches)),
			zap.Int("applied", report.Applied),
			zap.Int("errored", report.Errored),
			zap.Strings("blocked", report.Blocked),
			zap.Duration("duration", report.Duration))
	}
	return report, err
}

// replayEntity applies one entity's operations oldest first and stops at the
// first failure so later operations never overtake it.
func (e *Executor) replayEntity(ctx context.Context, batch queue.EntityBatch) (applied, errored int, err error) {
	// queue writes after a remote call must land even if the caller gives up
	persist := context.WithoutCancel(ctx)
	for _, op := range batch.Operations {
		if ctx.Err() != nil {
			return applied, errored, nil
		}
		if _, err := e.queue.MarkApplying(persist, op.ID); err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				continue
			}
			return applied, errored, fmt.Errorf("mark %s applying: %w", op.ID, err)
		}

		started := time.Now()
		callErr := e.apply(ctx, op)
		elapsed := time.Since(started)

		switch {
		case callErr == nil:
			// drop the cached booking first so no reader pairs an empty
			// queue with the pre-mutation status
			if e.invalidator != nil {
				e.invalidator.Invalidate(op.EntityID)
			}
			if _, err := e.queue.Remove(persist, op.ID); err != nil {
				return applied, errored, fmt.Errorf("remove applied %s: %w", op.ID, err)
			}
			e.recorder.Replayed(op.Type, observability.ResultApplied, elapsed)
			applied++
			e.logger.Debug("operation applied",
				zap.String("operation_id", op.ID),
				zap.String("entity_id", op.EntityID),
				zap.String("type", string(op.Type)))
		case ctx.Err() != nil && errors.Is(callErr, ctx.Err()):
			if _, err := e.queue.MarkPending(persist, op.ID); err != nil {
				return applied, errored, fmt.Errorf("requeue %s: %w", op.ID, err)
			}
			e.recorder.Replayed(op.Type, observability.ResultCancelled, elapsed)
			return applied, errored, nil
		default:
			if err := e.queue.MarkErrored(persist, op.ID, callErr.Error()); err != nil {
				return applied, errored, fmt.Errorf("mark %s errored: %w", op.ID, err)
			}
			e.recorder.Replayed(op.Type, observability.ResultErrored, elapsed)
			errored++
			e.logger.Warn("operation failed",
				zap.String("operation_id", op.ID),
				zap.String("entity_id", op.EntityID),
				zap.String("type", string(op.Type)),
				zap.Error(callErr))
			return applied, errored, nil
		}
	}
	return applied, errored, nil
}

func (e *Executor) apply(ctx context.Context, op domain.Operation) error {
	m, err := op.Mutation()
	if err != nil {
		return err
	}
	return domain.Apply(ctx, e.remote, m)
}

// Trigger requests a drain from Run. Requests made while a drain is queued coalesce.
func (e *Executor) Trigger() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run drains once per Trigger until ctx is done.
func (e *Executor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.kick:
			if _, err := e.Drain(ctx); err != nil {
				e.logger.Error("replay drain failed", zap.Error(err))
			}
		}
	}
}

// DrainWithin runs a drain and waits at most timeout for it. When the timeout
// wins it returns completed=false and the drain keeps running detached from
// ctx, still updating the queue when it finishes. A non-positive timeout uses
// the executor default.
func (e *Executor) DrainWithin(ctx context.Context, timeout time.Duration) (report Report, completed bool, err error) {
	if timeout <= 0 {
		timeout = e.timeout
	}
	type result struct {
		report Report
		err    error
	}
	done := make(chan result, 1)
	detached := context.WithoutCancel(ctx)
	e.detached.Add(1)
	go func() {
		defer e.detached.Done()
		r, err := e.Drain(detached)
		done <- result{report: r, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.report, true, res.err
	case <-timer.C:
		e.logger.Info("replay still running, returning optimistically", zap.Duration("timeout", timeout))
		return Report{}, false, nil
	case <-ctx.Done():
		return Report{}, false, ctx.Err()
	}
}

// Wait blocks until every detached drain started by DrainWithin has finished.
func (e *Executor) Wait() { e.detached.Wait() }
