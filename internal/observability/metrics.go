package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "explorer"

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// eventBuckets covers sub-millisecond slices up to multi-second clusterings.
var eventBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}

// Metrics holds the Prometheus instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	events        *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	sessions      prometheus.Gauge
	subscribers   prometheus.Gauge
	loadDuration  prometheus.Gauge
	loadedRows    *prometheus.GaugeVec
}

// NewMetrics registers all instruments plus the Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selection_events_total",
			Help:      "Selection events applied to sessions.",
		}, []string{"kind", "status"}),
		eventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "selection_event_duration_seconds",
			Help:      "Time to compute the replacement data for a selection event.",
			Buckets:   eventBuckets,
		}, []string{"kind"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Dashboard sessions currently held in memory.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Open server-sent event streams.",
		}),
		loadDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      "Duration of the last dataset load.",
		}),
		loadedRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sampler_rows",
			Help:      "Rows held in each sampler's reference dataset.",
		}, []string{"sampler"}),
	}
	reg.MustRegister(
		m.events, m.eventDuration, m.sessions, m.subscribers, m.loadDuration, m.loadedRows,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveEvent records one applied selection event.
func (m *Metrics) ObserveEvent(kind string, err error, d time.Duration) {
	status := StatusOK
	if err != nil {
		status = StatusError
	}
	m.events.WithLabelValues(kind, status).Inc()
	m.eventDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) SetSessions(n int)    { m.sessions.Set(float64(n)) }
func (m *Metrics) SetSubscribers(n int) { m.subscribers.Set(float64(n)) }

// ObserveLoad records a finished dataset load.
func (m *Metrics) ObserveLoad(d time.Duration, rows map[string]int) {
	m.loadDuration.Set(d.Seconds())
	for sampler, n := range rows {
		m.loadedRows.WithLabelValues(sampler).Set(float64(n))
	}
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
