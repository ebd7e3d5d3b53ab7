// Package core wires the offline queue, booking cache, reconciler, replay
// executor and network monitor into the service used by the API and CLI.
package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gownqueue/internal/blob"
	"gownqueue/internal/cache"
	"gownqueue/internal/export"
	"gownqueue/internal/network"
	"gownqueue/internal/observability"
	"gownqueue/internal/queue"
	"gownqueue/internal/reconcile"
	"gownqueue/internal/replay"
	"gownqueue/pkg/domain"
)

var (
	// ErrOffline is returned when a replay is requested while the device is offline.
	ErrOffline = errors.New("device is offline")
	// ErrExportDisabled is returned by Export when no blob store is configured.
	ErrExportDisabled = errors.New("export storage not configured")
)

type settings struct {
	logger      *zap.Logger
	recorder    observability.Recorder
	blobs       blob.Store
	exportKeep  int
	concurrency int
	timeout     time.Duration
	grace       time.Duration
	cacheTTL    time.Duration
	cacheSize   int
	online      bool
	queueOpts   []queue.Option
}

// Option customises a Service.
type Option func(*settings)

func WithLogger(l *zap.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithRecorder(r observability.Recorder) Option {
	return func(s *settings) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithBlobStore enables exports to store.
func WithBlobStore(store blob.Store) Option {
	return func(s *settings) { s.blobs = store }
}

// WithExportRetention keeps only the newest n export runs. Zero keeps all.
func WithExportRetention(n int) Option {
	return func(s *settings) { s.exportKeep = n }
}

// WithReplay sets the replay concurrency and the optimistic timeout used by
// Replay and ExitReturnsMode.
func WithReplay(concurrency int, timeout time.Duration) Option {
	return func(s *settings) {
		s.concurrency = concurrency
		s.timeout = timeout
	}
}

func WithGraceWindow(d time.Duration) Option {
	return func(s *settings) { s.grace = d }
}

func WithCache(ttl time.Duration, size int) Option {
	return func(s *settings) {
		s.cacheTTL = ttl
		s.cacheSize = size
	}
}

// WithInitialOnline sets the connectivity assumed before any signal arrives.
func WithInitialOnline(online bool) Option {
	return func(s *settings) { s.online = online }
}

// WithQueueOptions passes options through to queue.Open.
func WithQueueOptions(opts ...queue.Option) Option {
	return func(s *settings) { s.queueOpts = append(s.queueOpts, opts...) }
}

// Service is the offline gown operation service. It owns the queue; Close
// releases it together with its store.
type Service struct {
	queue      *queue.Queue
	cache      *cache.Cache
	reconciler *reconcile.Reconciler
	executor   *replay.Executor
	monitor    *network.Monitor
	exporter   *export.Exporter
	recorder   observability.Recorder
	logger     *zap.Logger
	timeout    time.Duration
	updates    <-chan network.State

	mu          sync.Mutex
	returnsMode bool
}

// New opens the queue from store and wires it to remote.
func New(ctx context.Context, store domain.QueueStore, remote Remote, opts ...Option) (*Service, error) {
	if remote == nil {
		return nil, fmt.Errorf("remote required")
	}
	cfg := settings{
		logger:   zap.NewNop(),
		recorder: observability.NoopRecorder{},
		timeout:  replay.DefaultTimeout,
		online:   true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.timeout <= 0 {
		cfg.timeout = replay.DefaultTimeout
	}

	s := &Service{recorder: cfg.recorder, logger: cfg.logger, timeout: cfg.timeout}
	qopts := append([]queue.Option{
		queue.WithLogger(cfg.logger.Named("queue")),
		queue.WithOnChange(func(domain.Operation) { s.recordDepth() }),
	}, cfg.queueOpts...)
	q, err := queue.Open(ctx, store, qopts...)
	if err != nil {
		return nil, err
	}
	s.queue = q

	c, err := cache.New(remote, cache.Options{Size: cfg.cacheSize, TTL: cfg.cacheTTL, Logger: cfg.logger.Named("cache")})
	if err != nil {
		_ = q.Close()
		return nil, err
	}
	s.cache = c
	s.reconciler = reconcile.New(q, c)

	exec, err := replay.New(q, remote,
		replay.WithLogger(cfg.logger.Named("replay")),
		replay.WithRecorder(cfg.recorder),
		replay.WithInvalidator(c),
		replay.WithConcurrency(cfg.concurrency),
		replay.WithTimeout(cfg.timeout),
	)
	if err != nil {
		_ = q.Close()
		return nil, err
	}
	s.executor = exec

	s.monitor = network.NewMonitor(cfg.online,
		network.WithGraceWindow(cfg.grace),
		network.WithLogger(cfg.logger.Named("network")),
	)
	s.monitor.OnReconnect(exec.Trigger)
	s.updates = s.monitor.Subscribe()

	if cfg.blobs != nil {
		s.exporter = export.New(q, cfg.blobs, cfg.logger.Named("export"), export.WithRetention(cfg.exportKeep))
	}

	s.recordDepth()
	cfg.recorder.NetworkOnline(cfg.online)
	return s, nil
}

// Queue exposes the read accessors of the underlying queue.
func (s *Service) Queue() *queue.Queue { return s.queue }

func (s *Service) Monitor() *network.Monitor { return s.monitor }

func (s *Service) Executor() *replay.Executor { return s.executor }

// Run drives background replay and, when sig is non-nil, feeds connectivity
// from it. It blocks until ctx is done.
func (s *Service) Run(ctx context.Context, sig network.Signal) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.executor.Run(gctx) })
	if sig != nil {
		g.Go(func() error {
			err := s.monitor.Run(gctx, sig)
			if err != nil && gctx.Err() == nil {
				return fmt.Errorf("connectivity signal: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case st := <-s.updates:
				s.recorder.NetworkOnline(st.Online)
			}
		}
	})
	// flush whatever survived the last shutdown
	if s.monitor.Online() && s.queue.Stats().Pending > 0 {
		s.executor.Trigger()
	}
	return g.Wait()
}

// Enqueue records a staff action. It never waits on the network; when the
// device is online a background replay is requested.
func (s *Service) Enqueue(ctx context.Context, req domain.EnqueueRequest) (string, error) {
	id, err := s.queue.Enqueue(ctx, req)
	if err != nil {
		return "", err
	}
	s.recorder.Enqueued(req.Type)
	if s.monitor.Online() {
		s.executor.Trigger()
	}
	return id, nil
}

// EffectiveStatus returns the optimistic status of an entity.
func (s *Service) EffectiveStatus(ctx context.Context, entityID string) (domain.EffectiveStatus, error) {
	return s.reconciler.EffectiveStatus(ctx, entityID)
}

// Operations lists queued operations in enqueue order, optionally filtered by
// entity and state.
func (s *Service) Operations(entityID string, state domain.OperationState) []domain.Operation {
	all := s.queue.Operations()
	if entityID == "" && state == "" {
		return all
	}
	out := all[:0]
	for _, op := range all {
		if entityID != "" && op.EntityID != entityID {
			continue
		}
		if state != "" && op.State != state {
			continue
		}
		out = append(out, op)
	}
	return out
}

// Retry returns an errored operation to pending and requests a replay when online.
func (s *Service) Retry(ctx context.Context, id string) (domain.Operation, error) {
	op, err := s.queue.Retry(ctx, id)
	if err != nil {
		return domain.Operation{}, err
	}
	if s.monitor.Online() {
		s.executor.Trigger()
	}
	return op, nil
}

// Discard drops an errored operation.
func (s *Service) Discard(ctx context.Context, id string) (domain.Operation, error) {
	return s.queue.Discard(ctx, id)
}

// ClearErrored drops every errored operation of an entity.
func (s *Service) ClearErrored(ctx context.Context, entityID string) (int, error) {
	return s.queue.ClearErrored(ctx, entityID)
}

// SetOnline feeds a connectivity observation to the monitor and reports
// whether it was a transition.
func (s *Service) SetOnline(online bool) bool { return s.monitor.Observe(online) }

func (s *Service) Network() network.State { return s.monitor.State() }

// Replay drains the queue, waiting at most timeout (the configured optimistic
// timeout when non-positive). completed is false when the drain is still
// running in the background.
func (s *Service) Replay(ctx context.Context, timeout time.Duration) (report replay.Report, completed bool, err error) {
	if !s.monitor.Online() {
		return replay.Report{}, false, ErrOffline
	}
	if timeout <= 0 {
		timeout = s.timeout
	}
	return s.executor.DrainWithin(ctx, timeout)
}

// EnterReturnsMode starts a returns session and reports whether it was
// already active.
func (s *Service) EnterReturnsMode() (alreadyActive bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alreadyActive = s.returnsMode
	s.returnsMode = true
	if !alreadyActive {
		s.logger.Info("returns mode entered")
	}
	return alreadyActive
}

// ReturnsMode reports whether a returns session is active.
func (s *Service) ReturnsMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.returnsMode
}

// ExitReturnsMode ends the session and flushes the queue with the optimistic
// timeout. Offline, nothing is flushed: the queue replays on reconnect.
func (s *Service) ExitReturnsMode(ctx context.Context) (report replay.Report, completed bool, err error) {
	s.mu.Lock()
	s.returnsMode = false
	s.mu.Unlock()
	s.logger.Info("returns mode exited")
	if !s.monitor.Online() {
		return replay.Report{}, false, nil
	}
	return s.executor.DrainWithin(ctx, s.timeout)
}

// Export writes the current queue to blob storage.
func (s *Service) Export(ctx context.Context) (export.Result, error) {
	if s.exporter == nil {
		return export.Result{}, ErrExportDisabled
	}
	return s.exporter.Export(ctx)
}

// Exports lists previous exports.
func (s *Service) Exports(ctx context.Context) ([]blob.Info, error) {
	if s.exporter == nil {
		return nil, ErrExportDisabled
	}
	return s.exporter.List(ctx)
}

// OpenExport streams a previous export. The caller closes the reader.
func (s *Service) OpenExport(ctx context.Context, name string) (blob.Info, io.ReadCloser, error) {
	if s.exporter == nil {
		return blob.Info{}, nil, ErrExportDisabled
	}
	return s.exporter.Open(ctx, name)
}

func (s *Service) StatExport(ctx context.Context, name string) (blob.Info, error) {
	if s.exporter == nil {
		return blob.Info{}, ErrExportDisabled
	}
	return s.exporter.Stat(ctx, name)
}

// DeleteExport removes a previous export.
func (s *Service) DeleteExport(ctx context.Context, name string) error {
	if s.exporter == nil {
		return ErrExportDisabled
	}
	return s.exporter.Delete(ctx, name)
}

// Stats summarises the queue.
func (s *Service) Stats() queue.Stats { return s.queue.Stats() }

// Close waits for detached drains, stops the monitor and closes the queue.
func (s *Service) Close() error {
	s.executor.Wait()
	s.monitor.Stop()
	return s.queue.Close()
}

func (s *Service) recordDepth() {
	if s.queue == nil {
		return
	}
	st := s.queue.Stats()
	s.recorder.QueueDepth(domain.StatePending, st.Pending)
	s.recorder.QueueDepth(domain.StateApplying, st.Applying)
	s.recorder.QueueDepth(domain.StateErrored, st.Errored)
}
