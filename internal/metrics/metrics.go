// Package metrics holds the Prometheus collectors of the planner.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tazhate/weatherplanner/internal/domain"
)

// Metrics groups all collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	storeOps        *prometheus.CounterVec
	storeLatency    *prometheus.HistogramVec
	storeConflicts  prometheus.Counter
	interpretations *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	remindersSent   prometheus.Counter
	syncFailures    prometheus.Counter
}

// New registers the collectors on reg under namespace.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		storeOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Event store operations, labelled by operation and result.",
		}, []string{"op", "result"}),
		storeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Event store operation latency.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
		storeConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_version_conflicts_total",
			Help:      "Writes retried because another writer changed the collection.",
		}),
		interpretations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interpretations_total",
			Help:      "Chat instructions interpreted, labelled by kind and success.",
		}, []string{"kind", "success"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests, labelled by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		remindersSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Event reminders delivered to chat.",
		}),
		syncFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calendar_sync_failures_total",
			Help:      "Failed pushes to the remote calendar.",
		}),
	}
}

// ObserveStore records one store operation.
func (m *Metrics) ObserveStore(op string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.storeOps.WithLabelValues(op, resultLabel(err)).Inc()
	m.storeLatency.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) StoreConflict() {
	if m == nil {
		return
	}
	m.storeConflicts.Inc()
}

func (m *Metrics) Interpretation(kind string, success bool) {
	if m == nil {
		return
	}
	m.interpretations.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *Metrics) ReminderSent() {
	if m == nil {
		return
	}
	m.remindersSent.Inc()
}

func (m *Metrics) SyncFailure() {
	if m == nil {
		return
	}
	m.syncFailures.Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
