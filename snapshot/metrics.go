package snapshot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	totalSnapshotDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snapshot_total_seconds",
			Help:    "Time spent producing one snapshot package, from bank snapshot to catalog entry.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
	)
	addSnapshotDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snapshot_add_snapshot_seconds",
			Help:    "Time spent writing the bank snapshot file.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
	)
	packageFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snapshot_package_failed_count",
			Help: "Snapshot packages that failed to be written.",
		},
	)
	lastPackagedSlot = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapshot_last_packaged_slot",
			Help: "Slot of the most recent snapshot archive.",
		},
	)
	archiveSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapshot_archive_bytes",
			Help: "Size of the most recent snapshot archive.",
		},
	)
)
