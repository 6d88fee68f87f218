package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	GatewayCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketpay_gateway_calls_total",
		Help: "Bank API calls by terminal, method and outcome.",
	}, []string{"terminal", "method", "outcome"})

	GatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marketpay_gateway_call_seconds",
		Help:    "Bank API call latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"terminal", "method"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketpay_webhook_deliveries_total",
		Help: "Bank webhook deliveries by outcome.",
	}, []string{"outcome"})

	WebhookDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketpay_webhook_duplicates_total",
		Help: "Webhook deliveries suppressed as idempotent replays.",
	})

	PayoutCompensations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketpay_payout_compensations_total",
		Help: "Withdrawal debits credited back after a rejected payout.",
	})

	DealRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketpay_deal_recoveries_total",
		Help: "Deal id recovery attempts by source and outcome.",
	}, []string{"source", "outcome"})
)
