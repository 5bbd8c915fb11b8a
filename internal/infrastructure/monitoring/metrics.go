package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turtacn/abuseguard/internal/domain/service"
)

const namespace = "abuseguard"

// Metrics manages the Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	Decisions        *prometheus.CounterVec
	StoreUnavailable *prometheus.CounterVec
	Dispatches       *prometheus.CounterVec
	EvaluationTime   *prometheus.HistogramVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	EventsPruned     prometheus.Counter
}

var _ service.Metrics = (*Metrics)(nil)

// NewMetrics creates the metrics on a private registry, together with the Go
// runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Guard decisions by action, true outcome, reason and mode.",
			},
			[]string{"action", "outcome", "reason", "mode"},
		),
		StoreUnavailable: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_unavailable_total",
				Help:      "Counter store operations that failed open.",
			},
			[]string{"operation"},
		),
		Dispatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_dispatch_total",
				Help:      "Abuse event persistence attempts by result.",
			},
			[]string{"result"},
		),
		EvaluationTime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Latency of decision engine evaluations.",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"action"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route, method and status.",
			},
			[]string{"route", "method", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Latency of HTTP requests.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		EventsPruned: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_pruned_total",
				Help:      "Abuse events deleted by the retention job.",
			},
		),
	}
}

// Registry exposes the registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordDecision(action, outcome, reason, mode string) {
	m.Decisions.WithLabelValues(action, outcome, reason, mode).Inc()
}

func (m *Metrics) RecordStoreUnavailable(operation string) {
	m.StoreUnavailable.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordDispatch(result string) {
	m.Dispatches.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveEvaluation(action string, duration time.Duration) {
	m.EvaluationTime.WithLabelValues(action).Observe(duration.Seconds())
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route, method string, status int, duration time.Duration) {
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordPruned counts abuse events removed by retention.
func (m *Metrics) RecordPruned(n int64) {
	m.EventsPruned.Add(float64(n))
}
