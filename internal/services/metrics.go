package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var SyncAttemptsCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "testcasecraft",
	Subsystem: "issue_sync",
	Name:      "attempts_total",
	Help:      "Count of sync attempts by outcome (synced, failed, abandoned)",
}, []string{"outcome"})

var SyncSweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "testcasecraft",
	Subsystem: "issue_sync",
	Name:      "sweep_duration_seconds",
	Help:      "Duration of sync sweeps",
	Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
}, []string{"kind"})

var SyncTimeoutsRecovered = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "testcasecraft",
	Subsystem: "issue_sync",
	Name:      "timeouts_recovered_total",
	Help:      "Count of records reset from IN_PROGRESS to FAILED by the timeout sweep",
})

var SyncRecordsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "testcasecraft",
	Subsystem: "issue_sync",
	Name:      "records",
	Help:      "Number of linked test results per sync status",
}, []string{"status"})

var TrackerLookupsCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "testcasecraft",
	Subsystem: "issue_status",
	Name:      "snapshot_lookups_total",
	Help:      "Issue snapshot lookups by source (cache, remote, missing)",
}, []string{"source"})
