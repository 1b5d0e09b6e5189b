package application

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/cleeistaken/vcf-credential-manager/internal/domain/model"
)

var (
	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vcfcred_sync_runs_total",
			Help: "Total number of sync runs by overall status",
		},
		[]string{"status"},
	)

	syncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vcfcred_sync_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"scope"},
	)

	syncChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vcfcred_sync_changes_total",
			Help: "Total credential changes applied by sync runs",
		},
		[]string{"change"},
	)

	scheduledJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vcfcred_scheduled_jobs",
			Help: "Number of recurring sync jobs currently scheduled",
		},
	)

	skippedFirings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vcfcred_scheduler_skipped_firings_total",
			Help: "Scheduled firings skipped because a run was in flight or the misfire grace elapsed",
		},
		[]string{"reason"},
	)
)

func observeSyncRun(scope model.SyncScope, status model.SyncStatus, counts model.SyncCounts, elapsed time.Duration) {
	syncRunsTotal.WithLabelValues(string(status)).Inc()
	syncDuration.WithLabelValues(string(scope)).Observe(elapsed.Seconds())
	syncChangesTotal.WithLabelValues("new").Add(float64(counts.New))
	syncChangesTotal.WithLabelValues("updated").Add(float64(counts.Updated))
	syncChangesTotal.WithLabelValues("removed").Add(float64(counts.Removed))
	syncChangesTotal.WithLabelValues("password_change").Add(float64(counts.PasswordChanges))
}
