package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "credit_dispatch",
			Name:      "dispatches_total",
			Help:      "Dispatch requests by final result (committed or the abort kind).",
		},
		[]string{"result"},
	)

	recipientOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "credit_dispatch",
			Name:      "recipient_outcomes_total",
			Help:      "Per-recipient send outcomes.",
		},
		[]string{"strategy", "state"},
	)

	gatewayCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "credit_dispatch",
			Name:      "gateway_call_duration_seconds",
			Help:      "Duration of gateway calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	creditsDebitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "credit_dispatch",
			Name:      "credits_debited_total",
			Help:      "Credits debited by committed dispatches.",
		},
	)

	reservationsExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "credit_dispatch",
			Name:      "reservations_expired_total",
			Help:      "Credit holds removed by the sweeper.",
		},
	)
)
