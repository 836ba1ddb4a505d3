package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
)

const (
	OutcomeApplied = "applied"
	OutcomeFailed  = "failed"
)

// BillingMetrics captures dispatcher and engine health signals.
type BillingMetrics struct {
	eventsProcessed *prometheus.CounterVec
	eventsPoisoned  prometheus.Counter
	applyDuration   *prometheus.HistogramVec
	pendingFetched  prometheus.Histogram
}

func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func NewBillingMetrics(reg *prometheus.Registry) *BillingMetrics {
	m := &BillingMetrics{
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "guardbill_events_processed_total",
			Help: "Change events handled by the dispatcher, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		eventsPoisoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "guardbill_events_poisoned_total",
			Help: "Change events rejected as unclassifiable.",
		}),
		applyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guardbill_engine_apply_seconds",
			Help:    "Latency of one engine application, by event kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		pendingFetched: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "guardbill_dispatcher_batch_size",
			Help:    "Unpublished events fetched per poll.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250},
		}),
	}

	reg.MustRegister(m.eventsProcessed, m.eventsPoisoned, m.applyDuration, m.pendingFetched)
	return m
}

func (m *BillingMetrics) ObserveApply(kind string, outcome string, elapsed time.Duration) {
	m.eventsProcessed.WithLabelValues(kind, outcome).Inc()
	m.applyDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (m *BillingMetrics) ObservePoisoned() {
	m.eventsPoisoned.Inc()
}

func (m *BillingMetrics) ObserveBatch(fetched int) {
	m.pendingFetched.Observe(float64(fetched))
}

// Module provides the process registry and billing metrics.
var Module = fx.Module("observability.metrics",
	fx.Provide(NewRegistry),
	fx.Provide(NewBillingMetrics),
)
