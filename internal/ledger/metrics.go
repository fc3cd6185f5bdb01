package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records engine activity. A nil *Metrics is valid and records nothing.
type Metrics struct {
	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	replaysTotal       *prometheus.CounterVec
	conflictRetries    prometheus.Counter
	settlementDuration *prometheus.HistogramVec
}

// NewMetrics registers the ledger collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "microsave",
				Subsystem: "ledger",
				Name:      "operations_total",
				Help:      "Total ledger operations partitioned by type and outcome.",
			},
			[]string{"type", "outcome"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "microsave",
				Subsystem: "ledger",
				Name:      "operation_duration_seconds",
				Help:      "Wall time of ledger operations including retries and settlement.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		replaysTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "microsave",
				Subsystem: "ledger",
				Name:      "idempotent_replays_total",
				Help:      "Requests answered from an existing record by idempotency key.",
			},
			[]string{"type"},
		),
		conflictRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "microsave",
				Subsystem: "ledger",
				Name:      "serialization_retries_total",
				Help:      "Units of work retried after a serialization conflict.",
			},
		),
		settlementDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "microsave",
				Subsystem: "settlement",
				Name:      "duration_seconds",
				Help:      "Latency of external settlement calls by result.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) observeOperation(typ Type, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(string(typ), outcome).Inc()
	m.operationDuration.WithLabelValues(string(typ)).Observe(time.Since(started).Seconds())
}

func (m *Metrics) observeReplay(typ Type) {
	if m == nil {
		return
	}
	m.replaysTotal.WithLabelValues(string(typ)).Inc()
}

func (m *Metrics) observeRetry() {
	if m == nil {
		return
	}
	m.conflictRetries.Inc()
}

func (m *Metrics) observeSettlement(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.settlementDuration.WithLabelValues(result).Observe(took.Seconds())
}
