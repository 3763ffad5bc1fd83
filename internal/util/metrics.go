package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RegistrationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinbank_registrations_total",
		Help: "Total number of new identities registered",
	})

	RewardsGrantedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinbank_rewards_granted_total",
		Help: "Total number of coin rewards committed to the ledger",
	})

	RewardsDedupedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinbank_rewards_deduped_total",
		Help: "Total number of redelivered reward events ignored",
	})

	PurchasesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinbank_purchases_total",
		Help: "Total number of successful item purchases",
	})

	PurchasesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinbank_purchases_failed_total",
		Help: "Total number of failed item purchases",
	}, []string{"reason"})

	ConsumptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinbank_consumptions_total",
		Help: "Total number of items consumed from inventories",
	})

	ConsumptionsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coinbank_consumptions_failed_total",
		Help: "Total number of failed item consumptions",
	}, []string{"reason"})

	CorrectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinbank_ledger_corrections_total",
		Help: "Total number of administrative ledger corrections",
	})

	TxRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinbank_tx_retries_total",
		Help: "Total number of transaction retries after serialization conflicts",
	})

	BalanceCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinbank_balance_cache_hits_total",
		Help: "Balance reads served from the cache",
	})

	BalanceCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coinbank_balance_cache_misses_total",
		Help: "Balance reads that fell through to the database",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
