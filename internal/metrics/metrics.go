package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPCCallsTotal tracks RPC calls per provider
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "w3bpay_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"provider", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per provider
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "w3bpay_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"provider", "method"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "w3bpay_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "method"},
	)

	// ChainLatestBlock tracks the last block height seen from the ledger
	ChainLatestBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "w3bpay_chain_latest_block",
			Help: "Latest block height reported by the ledger",
		},
	)

	// SubmissionsTotal counts submissions by kind (transfer, contract_call) and result
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "w3bpay_submissions_total",
			Help: "Total number of transaction submissions",
		},
		[]string{"kind", "result"},
	)

	// InclusionWait tracks time from submission to inclusion
	InclusionWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "w3bpay_inclusion_wait_seconds",
			Help:    "Time between submission and block inclusion",
			Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
		},
	)

	// SequencerWait tracks time spent waiting for a source address slot
	SequencerWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "w3bpay_sequencer_wait_seconds",
			Help:    "Time spent waiting for the per-address submission lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	// PaymentsTotal counts payments by currency and final status
	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "w3bpay_payments_total",
			Help: "Total number of processed payments",
		},
		[]string{"currency", "status"},
	)

	// ReceiptsMinted counts receipt tokens minted
	ReceiptsMinted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "w3bpay_receipts_minted_total",
			Help: "Total number of receipt tokens minted",
		},
	)

	// RewardTokensIssued counts reward tokens issued
	RewardTokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "w3bpay_reward_tokens_issued_total",
			Help: "Total number of reward tokens issued",
		},
	)

	// ReconciledTotal counts payments settled by the background reconciler
	ReconciledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "w3bpay_reconciled_total",
			Help: "Total number of pending payments settled by the reconciler",
		},
		[]string{"status"},
	)

	// DBConnectionPoolUsage tracks database connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "w3bpay_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)
)
