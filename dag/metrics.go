package dag

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	setRootDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bank_forks_set_root_seconds",
			Help:    "Time spent advancing the root, including squash and pruning.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)
	setRootTxCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bank_forks_set_root_tx_count",
			Help: "Transactions between the previous and the new root.",
		},
	)
	retainedBanks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bank_forks_num_banks_retained",
			Help: "Checkpoints left in the fork table after pruning.",
		},
	)
	rootSlot = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bank_forks_root_slot",
			Help: "The current root slot.",
		},
	)
	accountsHashSlot = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bank_forks_last_accounts_hash_slot",
			Help: "The last slot whose accounts hash was computed.",
		},
	)
	snapshotRequestFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bank_forks_snapshot_request_failed_count",
			Help: "Snapshot requests the package sink did not accept.",
		},
	)
)
