package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "healthwatch"

var (
	// ScanCycles counts scan cycles by result: ok, error or skipped.
	ScanCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scan_cycles_total",
		Help:      "Scan cycles by result",
	}, []string{"result"})

	ScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scan_duration_seconds",
		Help:      "Wall time of one scan cycle",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	})

	LastCycle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_cycle_timestamp_seconds",
		Help:      "Unix time the last scan cycle finished",
	})

	PositionsEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "positions_evaluated_total",
		Help:      "Positions evaluated by chain",
	}, []string{"chain"})

	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_errors_total",
		Help:      "Provider failures by chain and kind",
	}, []string{"chain", "kind"})

	// Alerts counts alert decisions by severity and outcome: sent, suppressed,
	// persist_failed or notify_failed.
	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_total",
		Help:      "Alert decisions by severity and outcome",
	}, []string{"severity", "outcome"})

	// QuotaDecisions counts lookup gate results: allowed, rejected or fail_open.
	QuotaDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "quota_decisions_total",
		Help:      "Lookup quota decisions by query type and result",
	}, []string{"query_type", "result"})

	QueriesPurged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queries_purged_total",
		Help:      "Query ledger rows removed by retention",
	})
)
