package zohobooks

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRunsTotal counts module runs by outcome (success, failed, partial, skipped).
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoho_sync_runs_total",
			Help: "Total number of Zoho Books module sync runs",
		},
		[]string{"module", "mode", "status"},
	)

	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "zoho_sync_run_duration_seconds",
			Help:    "Duration of Zoho Books module sync runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"module", "mode"},
	)

	SyncRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoho_sync_records_total",
			Help: "Records written by the bulk upsert writer",
		},
		[]string{"module", "outcome"},
	)

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoho_api_requests_total",
			Help: "Zoho Books API requests by HTTP status class",
		},
		[]string{"status"},
	)

	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "zoho_token_refreshes_total",
			Help: "OAuth token refresh calls by outcome",
		},
		[]string{"outcome"},
	)

	// LastSuccessTimestamp is the unix time of each module's last successful run.
	LastSuccessTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "zoho_sync_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful sync per module",
		},
		[]string{"module"},
	)
)

func statusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status < 300:
		return "2xx"
	case status == 401:
		return "401"
	case status == 429:
		return "429"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
