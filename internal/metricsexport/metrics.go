// Package metricsexport exposes Prometheus counters/gauges/histograms
// for SDK integrators running debug/QA builds (SPEC_FULL.md §4.14).
// Grounded on the teacher's metrics.go (ws/metrics.go): same
// prometheus.NewCounter/Gauge/HistogramVec + promhttp.Handler shape,
// adapted from connection/broadcast/Kafka metrics to the client SDK's
// connection/queue/sync/typing metrics.
package metricsexport

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/swiftim-go/core/internal/model"
)

// Metrics is the SDK's full Prometheus metric set. Build one per
// process with New and pass it down to every component that reports.
type Metrics struct {
	ConnState prometheus.Gauge

	ReconnectAttemptsTotal prometheus.Counter
	ReconnectSucceededTotal prometheus.Counter
	ReconnectMaxAttemptsTotal prometheus.Counter

	HeartbeatRTT prometheus.Histogram
	HeartbeatFailuresTotal prometheus.Counter

	QueueDepth prometheus.Gauge
	QueueRetriesTotal prometheus.Counter
	QueueFailuresTotal prometheus.Counter
	QueueAckedTotal prometheus.Counter

	StoreUpsertTotal *prometheus.CounterVec

	SyncBatchesTotal prometheus.Counter
	SyncWatermark prometheus.Gauge
	SyncFailuresTotal prometheus.Counter

	TypingEventsTotal prometheus.Counter

	registry *prometheus.Registry
}

// New builds and registers every metric against its own registry (not
// the global default) so multiple Sessions in one process, or repeated
// test construction, never collide on a double-registration panic.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		ConnState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swiftim_conn_state",
			Help: "Current connection state (0=Disconnected,1=Connecting,2=Connected,3=Disconnecting,4=Reconnecting)",
		}),
		ReconnectAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swiftim_reconnect_attempts_total",
			Help: "Total reconnect attempts scheduled",
		}),
		ReconnectSucceededTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swiftim_reconnect_succeeded_total",
			Help: "Total reconnect attempts that resulted in a connected session",
		}),
		ReconnectMaxAttemptsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swiftim_reconnect_max_attempts_total",
			Help: "Total times the reconnect attempt budget was exhausted",
		}),
		HeartbeatRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "swiftim_heartbeat_rtt_seconds",
			Help:    "Heartbeat request/response round-trip time",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		HeartbeatFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swiftim_heartbeat_failures_total",
			Help: "Total heartbeat probe failures/timeouts",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swiftim_queue_depth",
			Help: "Current outbound queue depth",
		}),
		QueueRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swiftim_queue_retries_total",
			Help: "Total outbound message resend attempts",
		}),
		QueueFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swiftim_queue_failures_total",
			Help: "Total outbound messages that exhausted retries",
		}),
		QueueAckedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swiftim_queue_acked_total",
			Help: "Total outbound messages acknowledged by the server",
		}),
		StoreUpsertTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swiftim_store_upsert_total",
			Help: "Total store upsert outcomes by kind",
		}, []string{"outcome"}),
		SyncBatchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swiftim_sync_batches_total",
			Help: "Total incremental sync batches applied",
		}),
		SyncWatermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swiftim_sync_watermark",
			Help: "Current last_sync_seq watermark",
		}),
		SyncFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swiftim_sync_failures_total",
			Help: "Total sync runs that ended in StateFailed",
		}),
		TypingEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swiftim_typing_events_total",
			Help: "Total typing push notifications processed",
		}),
	}

	reg.MustRegister(
		m.ConnState,
		m.ReconnectAttemptsTotal, m.ReconnectSucceededTotal, m.ReconnectMaxAttemptsTotal,
		m.HeartbeatRTT, m.HeartbeatFailuresTotal,
		m.QueueDepth, m.QueueRetriesTotal, m.QueueFailuresTotal, m.QueueAckedTotal,
		m.StoreUpsertTotal,
		m.SyncBatchesTotal, m.SyncWatermark, m.SyncFailuresTotal,
		m.TypingEventsTotal,
	)
	m.registry = reg
	return m
}

// RecordStoreUpsert increments StoreUpsertTotal for a single
// SaveMessage outcome, labeled by outcome kind.
func (m *Metrics) RecordStoreUpsert(outcome model.UpsertOutcome) {
	m.StoreUpsertTotal.WithLabelValues(outcome.String()).Inc()
}

// RecordBatchUpsert increments StoreUpsertTotal once per outcome kind
// present in a SaveMessages batch result.
func (m *Metrics) RecordBatchUpsert(r model.BatchResult) {
	m.StoreUpsertTotal.WithLabelValues(model.Inserted.String()).Add(float64(r.Inserted))
	m.StoreUpsertTotal.WithLabelValues(model.Updated.String()).Add(float64(r.Updated))
	m.StoreUpsertTotal.WithLabelValues(model.Skipped.String()).Add(float64(r.Skipped))
}

// Server serves /metrics for local debug builds.
type Server struct {
	httpServer *http.Server
}

// NewServer builds (but does not start) an HTTP server exposing m's
// registry at /metrics on addr.
func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return &Server{httpServer: &http.Server{Addr: addr, Handler: mux}}
}

// Start runs the metrics HTTP server in the background. The returned
// error channel receives ListenAndServe's terminal error, if any.
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown gracefully stops the metrics HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
