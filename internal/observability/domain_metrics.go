package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	RunStatusSuccess = "success"
	RunStatusFailure = "failure"

	DownloadOutcomeDownloaded = "downloaded"
	DownloadOutcomeSkipped    = "skipped"
	DownloadOutcomeFailed     = "failed"
)

var (
	reportRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recreport_report_runs_total",
			Help: "Total number of report runs by final status.",
		},
		[]string{"status"},
	)
	reportRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recreport_report_rows_total",
			Help: "Total number of report rows written across runs.",
		},
	)
	reportLastRows = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recreport_report_last_rows",
			Help: "Row count of the most recent successful report run.",
		},
	)
	reportLastSuccessUnix = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "recreport_report_last_success_unixtime",
			Help: "Unix time of the most recent successful report run.",
		},
	)
	reportQueryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recreport_report_query_duration_seconds",
			Help:    "Wall time of the warehouse report query including row streaming.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)
	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recreport_downloads_total",
			Help: "Recordings processed by the downloader by outcome.",
		},
		[]string{"outcome"},
	)
	downloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recreport_download_bytes_total",
			Help: "Total bytes of recording media written to disk.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		reportRunsTotal,
		reportRowsTotal,
		reportLastRows,
		reportLastSuccessUnix,
		reportQueryDurationSeconds,
		downloadsTotal,
		downloadBytesTotal,
	)
}

func ObserveReportRun(status string, rows int64, queryElapsed time.Duration, finishedAt time.Time) {
	reportRunsTotal.WithLabelValues(status).Inc()
	if status != RunStatusSuccess {
		return
	}
	if rows > 0 {
		reportRowsTotal.Add(float64(rows))
	}
	reportLastRows.Set(float64(rows))
	reportLastSuccessUnix.Set(float64(finishedAt.Unix()))
	reportQueryDurationSeconds.Observe(queryElapsed.Seconds())
}

func ObserveDownload(outcome string, bytes int64) {
	downloadsTotal.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		downloadBytesTotal.Add(float64(bytes))
	}
}
