package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterlog_ingests_total",
			Help: "Total number of ingest requests per source and outcome",
		},
		[]string{"source", "outcome"},
	)

	ReadingCorrectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterlog_reading_corrections_total",
			Help: "Total number of digit-corrected readings per utility",
		},
		[]string{"utility"},
	)

	ReadingFlagsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterlog_reading_flags_total",
			Help: "Total number of readings flagged for manual review per utility",
		},
		[]string{"utility"},
	)

	DedupRemovalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterlog_dedup_removals_total",
			Help: "Total number of billed-usage entries dropped as redundant per utility",
		},
		[]string{"utility"},
	)

	SeriesRebuildSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "meterlog_series_rebuild_seconds",
			Help:    "Daily series rebuild duration in seconds per utility",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"utility"},
	)

	RequestErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterlog_request_errors_total",
			Help: "Total number of error responses per path and category",
		},
		[]string{"path", "category"},
	)
)

var (
	DBPoolTotalConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meterlog_db_pool_total_conns",
			Help: "Total number of connections in the DB pool per driver",
		},
		[]string{"driver"},
	)

	DBPoolIdleConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meterlog_db_pool_idle_conns",
			Help: "Idle connections in the DB pool per driver",
		},
		[]string{"driver"},
	)

	DBPoolAcquiredConns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meterlog_db_pool_acquired_conns",
			Help: "Currently acquired (in-use) connections per driver",
		},
		[]string{"driver"},
	)

	DBPoolAcquiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterlog_db_pool_acquires_total",
			Help: "Total number of connection acquires per driver",
		},
		[]string{"driver"},
	)
)

func UpdateDBPoolMetrics(driver string, total, idle, acquired float64, acquires uint64) {
	DBPoolTotalConns.WithLabelValues(driver).Set(total)
	DBPoolIdleConns.WithLabelValues(driver).Set(idle)
	DBPoolAcquiredConns.WithLabelValues(driver).Set(acquired)
	DBPoolAcquiresTotal.WithLabelValues(driver).Add(float64(acquires))
}

var (
	ScheduledJobLastRun = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meterlog_job_last_run_timestamp",
			Help: "Unix timestamp of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobLastDurationSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "meterlog_job_last_duration_seconds",
			Help: "Duration of the last completed run for a job",
		},
		[]string{"job"},
	)

	ScheduledJobFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meterlog_job_failures_total",
			Help: "Total number of failed executions per job",
		},
		[]string{"job"},
	)
)

func UpdateJobMetrics(job string, startedAt time.Time, err error) {
	dur := time.Since(startedAt).Seconds()
	ScheduledJobLastDurationSeconds.WithLabelValues(job).Set(dur)
	ScheduledJobLastRun.WithLabelValues(job).Set(float64(time.Now().Unix()))
	if err != nil {
		ScheduledJobFailuresTotal.WithLabelValues(job).Inc()
	}
}
