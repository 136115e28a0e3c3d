package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Verdict-Labs/verdict/internal/domain/action"
	"github.com/Verdict-Labs/verdict/internal/domain/escalation"
)

// namespace prefixes every metric name.
const namespace = "verdict"

// Metrics holds the Prometheus instruments for the evaluation pipeline
// and its surrounding services. Create one per registry and share it.
type Metrics struct {
	DecisionsTotal     *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	LayerDuration      *prometheus.HistogramVec
	EscalationsTotal   *prometheus.CounterVec
	FeeChargesTotal    prometheus.Counter
}

// NewMetrics creates and registers all instruments with the registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		DecisionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total evaluations by final decision",
			},
			[]string{"decision"},
		),
		EvaluationDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Whole-pipeline evaluation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		LayerDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "layer_duration_seconds",
				Help:      "Per-layer evaluation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"layer"},
		),
		EscalationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalations_total",
				Help:      "Escalations raised by severity",
			},
			[]string{"severity"},
		),
		FeeChargesTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wallet_deductions_total",
				Help:      "Evaluations that charged a wallet fee",
			},
		),
	}
}

// ObserveDecision records one completed evaluation. Pass it to the
// engine as its decision observer.
func (m *Metrics) ObserveDecision(a action.Action, elapsed time.Duration) {
	m.DecisionsTotal.WithLabelValues(a.Decision.String()).Inc()
	m.EvaluationDuration.Observe(elapsed.Seconds())
	for _, step := range a.Trace {
		m.LayerDuration.WithLabelValues(step.Name).Observe(float64(step.DurationMS) / 1000)
	}
	if a.FeeMilli > 0 {
		m.FeeChargesTotal.Inc()
	}
}

// BusStats is the read surface of the event bus the collectors poll.
type BusStats interface {
	SubscriberCount() int
	TotalDropped() int64
}

// RegisterBusStats registers pull-through collectors over the event
// bus counters.
func RegisterBusStats(reg prometheus.Registerer, bus BusStats) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_bus_subscribers",
			Help:      "Attached event bus subscribers",
		},
		func() float64 { return float64(bus.SubscriberCount()) },
	))
	reg.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_bus_dropped_total",
			Help:      "Events discarded because a subscriber buffer was full",
		},
		func() float64 { return float64(bus.TotalDropped()) },
	))
}

// EscalationCounter is a notifier that counts raised escalations by
// severity. Resolution notifications pass through uncounted, so the
// counter tracks raises rather than deliveries.
type EscalationCounter struct {
	metrics *Metrics
}

// NewEscalationCounter wraps the metrics set as an escalation sink.
func NewEscalationCounter(m *Metrics) *EscalationCounter {
	return &EscalationCounter{metrics: m}
}

// Name identifies the sink in logs.
func (c *EscalationCounter) Name() string { return "metrics" }

// Notify counts the event when it is a fresh raise.
func (c *EscalationCounter) Notify(_ context.Context, ev escalation.Event) error {
	if ev.Status == escalation.StatusPending {
		c.metrics.EscalationsTotal.WithLabelValues(string(ev.Severity)).Inc()
	}
	return nil
}

var _ escalation.Notifier = (*EscalationCounter)(nil)
