// Package metrics exposes ingestion counters and listener state to
// Prometheus. Metrics live on their own registry so tests and embedders
// never collide with the global default.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/nexlytix-core/internal/ingest"
)

const namespace = "nexlytix"

// Metrics implements ingest.Observer and ingest.ListenerObserver.
type Metrics struct {
	registry *prometheus.Registry

	received       prometheus.Counter
	accepted       prometheus.Counter
	rejected       *prometheus.CounterVec
	storeWrite     prometheus.Histogram
	listenerState  prometheus.Gauge
	listenerResets prometheus.Counter
}

var (
	_ ingest.Observer         = (*Metrics)(nil)
	_ ingest.ListenerObserver = (*Metrics)(nil)
)

// New creates the metric set on a fresh registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Telemetry messages delivered by the broker.",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_accepted_total",
			Help:      "Readings that passed every check and were stored.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_rejected_total",
			Help:      "Messages dropped, by the stage that rejected them.",
		}, []string{"reason"}),
		storeWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_write_duration_seconds",
			Help:      "Latency of time-series store writes.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		listenerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listener_state",
			Help:      "Broker connection state: 0 disconnected, 1 connecting, 2 connected.",
		}),
		listenerResets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_restarts_total",
			Help:      "Full listener restarts after a dial or subscribe failure.",
		}),
	}

	// Pre-create every reason so dashboards see zeros rather than gaps.
	for _, reason := range []string{
		ingest.ReasonDecode,
		ingest.ReasonIdentity,
		ingest.ReasonIntegrity,
		ingest.ReasonReplay,
		ingest.ReasonRange,
		ingest.ReasonStore,
	} {
		m.rejected.WithLabelValues(reason)
	}

	m.registry.MustRegister(
		m.received,
		m.accepted,
		m.rejected,
		m.storeWrite,
		m.listenerState,
		m.listenerResets,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// TrackReplayDevices registers a gauge reporting guard.Len at scrape time.
func (m *Metrics) TrackReplayDevices(guard *ingest.ReplayGuard) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "replay_tracked_devices",
		Help:      "Devices with a recorded last sequence number.",
	}, func() float64 {
		return float64(guard.Len())
	}))
}

// TrackAuditDrops registers a counter reporting dropped() at scrape time.
func (m *Metrics) TrackAuditDrops(dropped func() uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_dropped_total",
		Help:      "Rejections not written to the audit trail because its queue was full.",
	}, func() float64 {
		return float64(dropped())
	}))
}

func (m *Metrics) MessageReceived() { m.received.Inc() }
func (m *Metrics) ReadingAccepted() { m.accepted.Inc() }

func (m *Metrics) ReadingRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveStoreWrite(d time.Duration) {
	m.storeWrite.Observe(d.Seconds())
}

func (m *Metrics) ObserveListenerState(s ingest.State) {
	m.listenerState.Set(float64(s))
}

func (m *Metrics) ListenerRestarted() { m.listenerResets.Inc() }

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
