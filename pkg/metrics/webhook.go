package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics counts inbound gateway webhook outcomes.
type WebhookMetrics struct {
	received  *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	duplicate *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_received",
		Help: "Webhook events accepted for processing.",
	}, []string{"event_type"})
	rejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_rejected",
		Help: "Webhook events rejected before processing.",
	}, []string{"reason"})
	duplicate := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_duplicate",
		Help: "Webhook events skipped as replays.",
	}, []string{"event_type"})
	reg.MustRegister(received, rejected, duplicate)
	return &WebhookMetrics{
		received:  received,
		rejected:  rejected,
		duplicate: duplicate,
	}
}

// IncReceived increments the received counter for the event type.
func (w *WebhookMetrics) IncReceived(eventType string) {
	if w == nil || w.received == nil {
		return
	}
	w.received.WithLabelValues(jobLabel(eventType)).Inc()
}

// IncRejected increments the rejected counter for the given reason.
func (w *WebhookMetrics) IncRejected(reason string) {
	if w == nil || w.rejected == nil {
		return
	}
	w.rejected.WithLabelValues(jobLabel(reason)).Inc()
}

// IncDuplicate increments the duplicate counter for the event type.
func (w *WebhookMetrics) IncDuplicate(eventType string) {
	if w == nil || w.duplicate == nil {
		return
	}
	w.duplicate.WithLabelValues(jobLabel(eventType)).Inc()
}
