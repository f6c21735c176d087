package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors of the delivery subsystem.
type Metrics struct {
	attempts       *prometheus.CounterVec
	submissions    *prometheus.CounterVec
	duration       prometheus.Histogram
	escalations    *prometheus.CounterVec
	registrations  *prometheus.CounterVec
	invalidations  *prometheus.CounterVec
	queueDepth     prometheus.Gauge
	dispatchDrops  prometheus.Counter
	probedTokens   *prometheus.CounterVec
	staleTransited prometheus.Counter
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "push_delivery_attempts_total",
			Help: "Delivery attempts by platform, outcome and error kind.",
		}, []string{"platform", "outcome", "kind"}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "push_submissions_total",
			Help: "Terminal submission outcomes.",
		}, []string{"status", "kind"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "push_delivery_duration_seconds",
			Help:    "Time from dequeue to terminal state, including retries.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		escalations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "push_escalations_total",
			Help: "Fallback escalations by result.",
		}, []string{"result"}),
		registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "push_token_registrations_total",
			Help: "Token registrations by result.",
		}, []string{"result"}),
		invalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "push_token_invalidations_total",
			Help: "Token invalidations by error kind.",
		}, []string{"kind"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "push_dispatch_queue_depth",
			Help: "Submissions waiting for a worker.",
		}),
		dispatchDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "push_dispatch_dropped_total",
			Help: "Submissions rejected because the queue was full or shutting down.",
		}),
		probedTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "push_probe_tokens_total",
			Help: "Silent refresh probe results.",
		}, []string{"result"}),
		staleTransited: factory.NewCounter(prometheus.CounterOpts{
			Name: "push_tokens_marked_stale_total",
			Help: "Tokens moved from active to stale.",
		}),
	}
}

func (m *Metrics) observeAttempt(a DeliveryAttempt) {
	m.attempts.WithLabelValues(string(a.Platform), string(a.Outcome), string(a.Kind)).Inc()
}

func (m *Metrics) observeResult(r Result, elapsed time.Duration) {
	m.submissions.WithLabelValues(string(r.Status), string(r.Kind)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) observeEscalation(handedOff bool) {
	if handedOff {
		m.escalations.WithLabelValues("handed_off").Inc()
		return
	}
	m.escalations.WithLabelValues("not_handed_off").Inc()
}

func (m *Metrics) observeRegistration(result string) {
	m.registrations.WithLabelValues(result).Inc()
}

func (m *Metrics) observeInvalidation(kind ErrorKind) {
	m.invalidations.WithLabelValues(string(kind)).Inc()
}
