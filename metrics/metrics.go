// Package metrics exposes the daemon's Prometheus counters and gauges
// for indexer and batcher throughput, registered against the default
// registry and served by the daemon's HTTP listener.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DepositsObserved counts every transaction the indexer admits as a
	// candidate deposit, labeled by chain and currency.
	DepositsObserved = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cme",
		Subsystem: "indexer",
		Name:      "deposits_observed_total",
		Help:      "Candidate deposits admitted by the indexer's scan step.",
	}, []string{"chain", "currency"})

	// DepositsCredited counts deposits that reached the credited state.
	DepositsCredited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cme",
		Subsystem: "indexer",
		Name:      "deposits_credited_total",
		Help:      "Deposits credited to the ledger.",
	}, []string{"chain", "currency"})

	// DepositsFailed counts deposits that reached the failed state.
	DepositsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cme",
		Subsystem: "indexer",
		Name:      "deposits_failed_total",
		Help:      "Deposits that terminated as failed.",
	}, []string{"chain", "currency", "reason"})

	// PendingDeposits tracks the current size of each chain's pending
	// deposit queue.
	PendingDeposits = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cme",
		Subsystem: "indexer",
		Name:      "pending_deposits",
		Help:      "Deposits currently in a non-terminal state.",
	}, []string{"chain"})

	// WithdrawalsRequested counts withdrawal requests accepted (i.e.
	// successfully frozen).
	WithdrawalsRequested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cme",
		Subsystem: "batcher",
		Name:      "withdrawals_requested_total",
		Help:      "Withdrawal requests that passed freeze and were bucketed.",
	}, []string{"chain", "currency"})

	// WithdrawalsSettled counts withdrawals whose bucket settled
	// successfully.
	WithdrawalsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cme",
		Subsystem: "batcher",
		Name:      "withdrawals_settled_total",
		Help:      "Withdrawals that reached completed via a successful settlement.",
	}, []string{"chain", "currency"})

	// WithdrawalsFailed counts withdrawals whose bucket settlement
	// failed or reverted.
	WithdrawalsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cme",
		Subsystem: "batcher",
		Name:      "withdrawals_failed_total",
		Help:      "Withdrawals that reached failed, with reserved funds unfrozen.",
	}, []string{"chain", "currency", "reason"})

	// BucketsSettled counts bucket settlement attempts by outcome.
	BucketsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cme",
		Subsystem: "batcher",
		Name:      "buckets_settled_total",
		Help:      "Bucket settlement attempts, labeled by outcome.",
	}, []string{"chain", "currency", "outcome"})

	// ChainReconnects counts the chain adapter's push-transport reconnect
	// attempts, labeled by chain.
	ChainReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cme",
		Subsystem: "chain",
		Name:      "reconnect_attempts_total",
		Help:      "Push transport reconnect attempts before falling back to polling.",
	}, []string{"chain"})

	// ChainPollingFallback tracks whether each chain's adapter has fallen
	// back to polling (1) or is on the push transport (0).
	ChainPollingFallback = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "cme",
		Subsystem: "chain",
		Name:      "polling_fallback",
		Help:      "1 if the chain adapter has fallen back to polling, else 0.",
	}, []string{"chain"})
)
