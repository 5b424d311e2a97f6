package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolBalance tracks the current pool balance per chain, in native units.
	PoolBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paymaster_pool_balance_native",
			Help: "Current paymaster pool balance in native token units",
		},
		[]string{"chain_id"},
	)

	// PoolMode reports the active pool mode per chain (1 for the current mode, 0 otherwise).
	PoolMode = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paymaster_pool_mode",
			Help: "Current paymaster pool mode (one-hot per mode label)",
		},
		[]string{"chain_id", "mode"},
	)

	// HealthChecks counts health check cycles by chain and outcome
	HealthChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paymaster_health_checks_total",
			Help: "Total number of pool health check cycles",
		},
		[]string{"chain_id", "result"},
	)

	// TopUpsTotal counts pool top-ups by trigger reason and outcome
	TopUpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paymaster_topups_total",
			Help: "Total number of pool top-up attempts",
		},
		[]string{"reason", "status"},
	)

	// TopUpAmount tracks the native-unit size of executed top-ups
	TopUpAmount = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paymaster_topup_amount_native",
			Help:    "Amount transferred into pools in native token units",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 50, 100},
		},
		[]string{"chain_id"},
	)

	// QuotesTotal counts fee quotes by outcome
	QuotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paymaster_quotes_total",
			Help: "Total number of fee quotes generated",
		},
		[]string{"chain_id", "status"},
	)

	// QuoteLatency tracks fee quote generation time. The 0.8s bucket edge
	// matches the quoting SLO.
	QuoteLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paymaster_quote_latency_seconds",
			Help:    "Fee quote generation latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 0.8, 1, 2.5, 5},
		},
	)

	// SettlementsTotal counts settlement attempts by outcome
	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paymaster_settlements_total",
			Help: "Total number of quote settlements",
		},
		[]string{"status"},
	)

	// PolicyDenials counts gatekeeper denials by reason
	PolicyDenials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paymaster_policy_denials_total",
			Help: "Total number of sponsorship requests denied by policy",
		},
		[]string{"reason"},
	)

	// LedgerAppendFailures counts best-effort ledger writes that were dropped
	LedgerAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "paymaster_ledger_append_failures_total",
			Help: "Total number of failed best-effort ledger appends",
		},
	)
)
