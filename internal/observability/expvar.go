package observability

import (
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gownqueue/pkg/domain"
)

var expvarSeq uint64

// ExpvarRecorder publishes aggregate counters via expvar for deployments
// without a Prometheus scraper.
type ExpvarRecorder struct {
	name      string
	mu        sync.Mutex
	enqueued  map[string]int64
	results   map[string]map[string]int64
	durations map[string]float64
	depth     map[string]int
	online    bool
}

var _ Recorder = (*ExpvarRecorder)(nil)

// ExpvarSnapshot is a read-only view of the recorded metrics.
type ExpvarSnapshot struct {
	Enqueued    map[string]int64            `json:"enqueued_total"`
	Results     map[string]map[string]int64 `json:"replay_total"`
	DurationsMS map[string]float64          `json:"replay_duration_ms_total"`
	Depth       map[string]int              `json:"queue_operations"`
	Online      bool                        `json:"network_online"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarRecorder publishes the recorder under name. When name is empty a
// unique one is generated, since expvar panics on duplicate names.
func NewExpvarRecorder(name string) *ExpvarRecorder {
	if name == "" {
		name = fmt.Sprintf("gownqueue_metrics_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	r := &ExpvarRecorder{
		name:      name,
		enqueued:  make(map[string]int64),
		results:   make(map[string]map[string]int64),
		durations: make(map[string]float64),
		depth:     make(map[string]int),
	}
	expvar.Publish(name, expvar.Func(func() any { return r.Snapshot() }))
	return r
}

// Name returns the expvar export name.
func (r *ExpvarRecorder) Name() string { return r.name }

func (r *ExpvarRecorder) Enqueued(t domain.OperationType) {
	r.mu.Lock()
	r.enqueued[string(t)]++
	r.mu.Unlock()
}

func (r *ExpvarRecorder) Replayed(t domain.OperationType, result string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byResult, ok := r.results[string(t)]
	if !ok {
		byResult = make(map[string]int64, 3)
		r.results[string(t)] = byResult
	}
	byResult[result]++
	r.durations[string(t)] += float64(d) / float64(time.Millisecond)
}

func (r *ExpvarRecorder) QueueDepth(state domain.OperationState, n int) {
	r.mu.Lock()
	r.depth[string(state)] = n
	r.mu.Unlock()
}

func (r *ExpvarRecorder) NetworkOnline(online bool) {
	r.mu.Lock()
	r.online = online
	r.mu.Unlock()
}

// Snapshot returns a copy of the aggregated metrics.
func (r *ExpvarRecorder) Snapshot() ExpvarSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := ExpvarSnapshot{
		Enqueued:    make(map[string]int64, len(r.enqueued)),
		Results:     make(map[string]map[string]int64, len(r.results)),
		DurationsMS: make(map[string]float64, len(r.durations)),
		Depth:       make(map[string]int, len(r.depth)),
		Online:      r.online,
		RecordedAt:  time.Now().UTC(),
	}
	for k, v := range r.enqueued {
		snap.Enqueued[k] = v
	}
	for k, byResult := range r.results {
		cpy := make(map[string]int64, len(byResult))
		for result, n := range byResult {
			cpy[result] = n
		}
		snap.Results[k] = cpy
	}
	for k, v := range r.durations {
		snap.DurationsMS[k] = v
	}
	for k, v := range r.depth {
		snap.Depth[k] = v
	}
	return snap
}
