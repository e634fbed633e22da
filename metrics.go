package proxypay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPaymentsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paypal_proxy_payments_recorded_total",
		Help: "Payments applied to the tracker",
	})

	metricRotations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paypal_proxy_rotations_total",
		Help: "Successful proxy rotations",
	})

	metricRotationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paypal_proxy_rotation_failures_total",
		Help: "Rotation attempts that found no endpoint below cap",
	})

	metricWebhooksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paypal_proxy_webhooks_processed_total",
		Help: "Webhook calls by reported status",
	}, []string{"status"})

	metricWebhooksRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paypal_proxy_webhooks_rejected_total",
		Help: "Webhook calls rejected, by error code",
	}, []string{"code"})

	metricRefunds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paypal_proxy_refunds_total",
		Help: "Outbound refund requests by outcome",
	}, []string{"outcome"})
)
