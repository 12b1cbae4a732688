// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts provider webhook requests by event type and outcome.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copydrive",
		Subsystem: "webhook",
		Name:      "requests_total",
		Help:      "Total payment provider webhook requests by event type and status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "copydrive",
		Subsystem: "webhook",
		Name:      "duration_seconds",
		Help:      "Webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// LedgerMutationsTotal counts ledger writes by operation and result.
	LedgerMutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copydrive",
		Subsystem: "ledger",
		Name:      "mutations_total",
		Help:      "Credit ledger operations by operation and result.",
	}, []string{"operation", "result"})

	// CreditsDebited sums credits charged for AI usage by model.
	CreditsDebited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copydrive",
		Subsystem: "ledger",
		Name:      "credits_debited_total",
		Help:      "Credits charged for AI generation by model.",
	}, []string{"model"})

	// PlanChangesTotal counts plan change attempts by result code.
	PlanChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copydrive",
		Subsystem: "plan",
		Name:      "changes_total",
		Help:      "Plan change requests by result.",
	}, []string{"result"})

	// WebsocketClients tracks connected realtime clients.
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "copydrive",
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Number of connected websocket clients.",
	})
)
