// Package metrics defines the Prometheus collectors of the ledger.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Ledger outcomes.
const (
	OutcomeApplied      = "applied"
	OutcomeInsufficient = "insufficient_stock"
	OutcomeNotFound     = "lot_not_found"
	OutcomeConflict     = "conflict"
	OutcomeError        = "error"
)

type Metrics struct {
	LedgerDeltas      *prometheus.CounterVec
	TxRetries         *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests rely on.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LedgerDeltas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medeasy",
			Subsystem: "ledger",
			Name:      "deltas_total",
			Help:      "Stock deltas by outcome.",
		}, []string{"outcome"}),
		TxRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "medeasy",
			Subsystem: "ledger",
			Name:      "transaction_retries_total",
			Help:      "Atomic units re-run after a write conflict.",
		}, []string{"operation"}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "medeasy",
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Duration of orchestrated operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.LedgerDeltas, m.TxRetries, m.OperationDuration)
	}
	return m
}

// Delta counts one ledger outcome.
func (m *Metrics) Delta(outcome string) {
	if m == nil {
		return
	}
	m.LedgerDeltas.WithLabelValues(outcome).Inc()
}

// Retry counts one conflict retry of operation.
func (m *Metrics) Retry(operation string) {
	if m == nil {
		return
	}
	m.TxRetries.WithLabelValues(operation).Inc()
}

// Observe records how long operation took and whether it failed.
func (m *Metrics) Observe(operation string, started time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.OperationDuration.WithLabelValues(operation, result).Observe(time.Since(started).Seconds())
}
