// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliations_total",
			Help: "Total number of assignment reconciliations by outcome",
		},
		[]string{"role", "outcome"},
	)

	ReconciliationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "reconciliation_duration_seconds",
			Help: "Duration of one reconciliation transaction in seconds",
		},
		[]string{"role"},
	)

	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_dispatched_total",
			Help: "Total number of notification events persisted",
		},
		[]string{"priority"},
	)

	PushDeliveryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "push_delivery_failures_total",
			Help: "Push deliveries that were downgraded to log-and-continue",
		},
	)

	ScanMarksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scan_marks_total",
			Help: "QR scan confirmations recorded, by whether the mark was new",
		},
		[]string{"result"},
	)
)
