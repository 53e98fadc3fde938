package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paygate_orders_created_total",
		Help: "Orders accepted into the pending state.",
	})

	initiationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_initiations_total",
		Help: "Payment initiations by gateway kind and outcome.",
	}, []string{"kind", "outcome"})

	verificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paygate_verifications_total",
		Help: "Settlement verifications by gateway kind and outcome.",
	}, []string{"kind", "outcome"})

	verificationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paygate_verification_duration_seconds",
		Help:    "Duration of the locked verification unit of work, provider round-trips included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)

// Metric getters for test readback.

func OrdersCreatedTotal() prometheus.Counter { return ordersCreatedTotal }

func InitiationsTotal() *prometheus.CounterVec { return initiationsTotal }

func VerificationsTotal() *prometheus.CounterVec { return verificationsTotal }

func VerificationSeconds() *prometheus.HistogramVec { return verificationSeconds }
