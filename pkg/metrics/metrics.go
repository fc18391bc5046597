package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Workflow metrics
	RecommendationsGenerated  *prometheus.CounterVec
	RecommendationTransitions *prometheus.CounterVec
	EscalationsOpened         *prometheus.CounterVec
	OpenEscalations           *prometheus.GaugeVec
	PainAlerts                *prometheus.CounterVec
	DosesRecorded             *prometheus.CounterVec

	// Sweep metrics
	SweepRuns     *prometheus.CounterVec
	SweepFailures *prometheus.CounterVec
	SweepDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsSent      *prometheus.CounterVec
	NotificationsFailed    *prometheus.CounterVec
	NotificationsThrottled *prometheus.CounterVec

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
	OutboxQueueSize         prometheus.Gauge
	OutboxRetries           *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec
}

// NewMetrics creates all application metrics and registers them with reg.
// A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		RecommendationsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendations_generated_total",
			Help:      "Recommendations produced by the protocol matcher",
		}, []string{"outcome"}),
		RecommendationTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recommendation_transitions_total",
			Help:      "Recommendation status transitions",
		}, []string{"from", "to"}),
		EscalationsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_opened_total",
			Help:      "Escalations opened by priority and source",
		}, []string{"priority", "source"}),
		OpenEscalations: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_escalations",
			Help:      "Open escalations by priority at the last summary",
		}, []string{"priority"}),
		PainAlerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pain_alerts_total",
			Help:      "Pain escalations detected by priority",
		}, []string{"priority"}),
		DosesRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "doses_total",
			Help:      "Dose registration attempts by outcome",
		}, []string{"outcome"}),

		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Completed periodic sweeps",
		}, []string{"sweep"}),
		SweepFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_patient_failures_total",
			Help:      "Per-patient failures inside periodic sweeps",
		}, []string{"sweep"}),
		SweepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of periodic sweeps",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"sweep"}),

		NotificationsSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Notifications delivered by transport",
		}, []string{"transport", "type"}),
		NotificationsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_failed_total",
			Help:      "Notifications whose delivery failed",
		}, []string{"transport", "type"}),
		NotificationsThrottled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_throttled_total",
			Help:      "Duplicate notifications suppressed",
		}, []string{"type"}),

		OutboxEventsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxQueueSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_queue_size",
			Help:      "Current number of events in the outbox queue",
		}),
		OutboxRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_retry_attempts_total",
			Help:      "Total number of retry attempts for outbox events",
		}, []string{"channel"}),

		DatabaseOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "path", "status"}),
		HTTPLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (m *Metrics) RecommendationGenerated(failed bool) {
	if m == nil {
		return
	}
	outcome := "generated"
	if failed {
		outcome = "failed"
	}
	m.RecommendationsGenerated.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.RecommendationTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) EscalationOpened(priority, source string) {
	if m == nil {
		return
	}
	m.EscalationsOpened.WithLabelValues(priority, source).Inc()
}

func (m *Metrics) SetOpenEscalations(byPriority map[string]int) {
	if m == nil {
		return
	}
	for p, n := range byPriority {
		m.OpenEscalations.WithLabelValues(p).Set(float64(n))
	}
}

func (m *Metrics) PainAlert(priority string) {
	if m == nil {
		return
	}
	m.PainAlerts.WithLabelValues(priority).Inc()
}

func (m *Metrics) Dose(outcome string) {
	if m == nil {
		return
	}
	m.DosesRecorded.WithLabelValues(outcome).Inc()
}

// Sweep records a finished sweep run and the number of patients that failed.
func (m *Metrics) Sweep(name string, started time.Time, failures int) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(name).Inc()
	m.SweepDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())
	if failures > 0 {
		m.SweepFailures.WithLabelValues(name).Add(float64(failures))
	}
}

func (m *Metrics) NotificationSent(transport, typ string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(transport, typ).Inc()
}

func (m *Metrics) NotificationFailed(transport, typ string) {
	if m == nil {
		return
	}
	m.NotificationsFailed.WithLabelValues(transport, typ).Inc()
}

func (m *Metrics) NotificationThrottled(typ string) {
	if m == nil {
		return
	}
	m.NotificationsThrottled.WithLabelValues(typ).Inc()
}

func (m *Metrics) DBOperation(operation string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.DatabaseOperations.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) HTTPRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPLatency.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
