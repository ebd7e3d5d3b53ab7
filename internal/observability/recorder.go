package observability

import (
	"time"

	"gownqueue/pkg/domain"
)

// Replay outcomes reported to Recorder.Replayed.
const (
	ResultApplied   = "applied"
	ResultErrored   = "errored"
	ResultCancelled = "cancelled"
)

// Recorder receives queue and replay measurements.
type Recorder interface {
	Enqueued(t domain.OperationType)
	Replayed(t domain.OperationType, result string, d time.Duration)
	QueueDepth(state domain.OperationState, n int)
	NetworkOnline(online bool)
}

// NoopRecorder discards every measurement.
type NoopRecorder struct{}

var _ Recorder = NoopRecorder{}

func (NoopRecorder) Enqueued(domain.OperationType)                        {}
func (NoopRecorder) Replayed(domain.OperationType, string, time.Duration) {}
func (NoopRecorder) QueueDepth(domain.OperationState, int)                {}
func (NoopRecorder) NetworkOnline(bool)                                   {}

// Multi fans every measurement out to each recorder in order.
type Multi []Recorder

var _ Recorder = Multi(nil)

func (m Multi) Enqueued(t domain.OperationType) {
	for _, r := range m {
		r.Enqueued(t)
	}
}

func (m Multi) Replayed(t domain.OperationType, result string, d time.Duration) {
	for _, r := range m {
		r.Replayed(t, result, d)
	}
}

func (m Multi) QueueDepth(state domain.OperationState, n int) {
	for _, r := range m {
		r.QueueDepth(state, n)
	}
}

func (m Multi) NetworkOnline(online bool) {
	for _, r := range m {
		r.NetworkOnline(online)
	}
}
