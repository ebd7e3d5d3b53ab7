package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gownqueue/pkg/domain"
)

const namespace = "gownqueue"

// PrometheusRecorder exports measurements on its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry
	enqueued *prometheus.CounterVec
	replayed *prometheus.CounterVec
	duration *prometheus.HistogramVec
	depth    *prometheus.GaugeVec
	online   prometheus.Gauge
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers the gownqueue collectors plus the Go and
// process collectors on a fresh registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueued_total",
			Help:      "Operations accepted into the offline queue.",
		}, []string{"type"}),
		replayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_total",
			Help:      "Replay attempts by operation type and outcome.",
		}, []string{"type", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "replay_duration_seconds",
			Help:      "Latency of remote calls made during replay.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_operations",
			Help:      "Queued operations by state.",
		}, []string{"state"}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_online",
			Help:      "1 when the device is online.",
		}),
	}
	r.registry.MustRegister(
		r.enqueued, r.replayed, r.duration, r.depth, r.online,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *PrometheusRecorder) Enqueued(t domain.OperationType) {
	r.enqueued.WithLabelValues(string(t)).Inc()
}

func (r *PrometheusRecorder) Replayed(t domain.OperationType, result string, d time.Duration) {
	r.replayed.WithLabelValues(string(t), result).Inc()
	r.duration.WithLabelValues(string(t)).Observe(d.Seconds())
}

func (r *PrometheusRecorder) QueueDepth(state domain.OperationState, n int) {
	r.depth.WithLabelValues(string(state)).Set(float64(n))
}

func (r *PrometheusRecorder) NetworkOnline(online bool) {
	v := 0.0
	if online {
		v = 1
	}
	r.online.Set(v)
}

// Registry exposes the underlying registry for tests and extra collectors.
func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
