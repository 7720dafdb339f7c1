package revenue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for report building and backfill.
type Metrics struct {
	ReportDuration    *prometheus.HistogramVec
	ReportFailures    *prometheus.CounterVec
	BackfillRows      *prometheus.CounterVec
	BackfillRuns      *prometheus.CounterVec
	LedgerRowsCreated prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ReportDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "revenue_report_duration_seconds",
			Help:    "Time to assemble a report.",
			Buckets: prometheus.DefBuckets,
		}, []string{"report"}),
		ReportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "revenue_report_failures_total",
			Help: "Reports that failed, by report and cause.",
		}, []string{"report", "cause"}),
		BackfillRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "revenue_backfill_rows_total",
			Help: "Ledger rows visited by the backfill pass, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		BackfillRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "revenue_backfill_runs_total",
			Help: "Backfill passes, by mode and status.",
		}, []string{"mode", "status"}),
		LedgerRowsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "revenue_ledger_rows_created_total",
			Help: "Daily ledger rows created lazily.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ReportDuration, m.ReportFailures, m.BackfillRows, m.BackfillRuns, m.LedgerRowsCreated)
	}
	return m
}
