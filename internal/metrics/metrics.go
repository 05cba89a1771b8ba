// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "custody"

// Deposits
var (
	DepositIntentsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_intents_created_total",
			Help:      "Deposit intents created",
		},
	)

	DepositIntentCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_intent_collisions_total",
			Help:      "Fingerprint salts rejected because an open intent held the same amount",
		},
	)

	DepositTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deposit_transitions_total",
			Help:      "Deposit intent state transitions",
		},
		[]string{"status"},
	)

	TransfersFlagged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_flagged_total",
			Help:      "Incoming transfers left for manual review",
		},
		[]string{"reason"},
	)

	ScannerHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scanner_last_processed_block",
			Help:      "Persisted scanner watermark",
		},
	)

	ScanErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_errors_total",
			Help:      "Aborted scanner ticks",
		},
		[]string{"phase"},
	)

	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Duration of a scanner tick",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30},
		},
	)
)

// Withdrawals
var (
	WithdrawalTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawal_transitions_total",
			Help:      "Withdrawal state transitions",
		},
		[]string{"status"},
	)

	BroadcastDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_duration_seconds",
			Help:      "Time from claim to broadcast outcome",
			Buckets:   []float64{.1, .25, .5, 1, 2, 5, 10, 30, 60},
		},
	)

	NonceAllocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_allocations_total",
			Help:      "Sequence numbers handed out by source",
		},
		[]string{"source"},
	)

	SignerHalted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signer_halted",
			Help:      "1 when the withdrawal signer stopped on a key failure",
		},
	)
)

// Ledger
var (
	BalanceCorrections = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "balance_corrections_total",
			Help:      "Ledger balances overwritten by the reconciler",
		},
	)

	EventPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_errors_total",
			Help:      "Events that could not be delivered",
		},
		[]string{"sink"},
	)
)
