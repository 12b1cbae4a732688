// internal/domain/webhook/entity.go
package webhook

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type LogStatus string

const (
	LogStatusReceived   LogStatus = "received"
	LogStatusProcessing LogStatus = "processing"
	LogStatusSuccess    LogStatus = "success"
	LogStatusFailed     LogStatus = "failed"
)

// Provider event names
const (
	EventTest                  = "test"
	EventPing                  = "ping"
	EventWebhookTest           = "webhook.test"
	EventValidation            = "validation"
	EventPurchaseApproved      = "purchase.approved"
	EventSubscriptionCreated   = "subscription.created"
	EventSubscriptionCanceled  = "subscription.canceled"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventCancelled             = "cancelled"
)

// IsTestEvent reports whether the event only checks that the URL is reachable.
func IsTestEvent(event string) bool {
	switch event {
	case EventTest, EventPing, EventWebhookTest, EventValidation:
		return true
	}
	return false
}

// Category groups events for filtering in the back-office.
func Category(event string) string {
	switch {
	case IsTestEvent(event):
		return "test"
	case event == EventCancelled:
		return "subscription"
	case strings.Contains(event, "."):
		return event[:strings.Index(event, ".")]
	case event == "":
		return "unknown"
	}
	return "other"
}

// MetricLabel bounds the event label on metrics to the events this service
// knows about. Anything else a caller sends collapses into "other".
func MetricLabel(event string) string {
	switch event {
	case EventTest, EventPing, EventWebhookTest, EventValidation,
		EventPurchaseApproved, EventSubscriptionCreated,
		EventSubscriptionCanceled, EventSubscriptionCancelled, EventCancelled:
		return event
	case "":
		return "unknown"
	}
	return "other"
}

// WebhookLog is written before any business logic runs and then updated in
// place as processing advances.
type WebhookLog struct {
	ID              uuid.UUID         `json:"id" db:"id"`
	IntegrationSlug string            `json:"integration_slug" db:"integration_slug"`
	EventType       string            `json:"event_type" db:"event_type"`
	EventCategory   string            `json:"event_category" db:"event_category"`
	ExternalEventID *string           `json:"external_event_id,omitempty" db:"external_event_id"`
	Payload         json.RawMessage   `json:"payload" db:"payload"`
	Headers         map[string]string `json:"headers" db:"headers"`
	Status          LogStatus         `json:"status" db:"status"`
	ErrorMessage    *string           `json:"error_message,omitempty" db:"error_message"`
	ProcessedAt     *time.Time        `json:"processed_at,omitempty" db:"processed_at"`
	CreatedAt       time.Time         `json:"created_at" db:"created_at"`
}

// ProcessedEvent is the durable idempotency record of a handled delivery.
type ProcessedEvent struct {
	IntegrationSlug string          `json:"integration_slug" db:"integration_slug"`
	ExternalEventID string          `json:"external_event_id" db:"external_event_id"`
	EventType       string          `json:"event_type" db:"event_type"`
	Result          json.RawMessage `json:"result" db:"result"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}

type Integration struct {
	ID       uuid.UUID `json:"id" db:"id"`
	Slug     string    `json:"slug" db:"slug"`
	Name     string    `json:"name" db:"name"`
	IsActive bool      `json:"is_active" db:"is_active"`
}

// GatewayConfig is the payment_gateways row; ValidationToken and
// OfferMappings live in its JSON config column. Mapping values are plan ids
// kept as text so one bad entry does not hide the rest.
type GatewayConfig struct {
	ID              uuid.UUID         `json:"id" db:"id"`
	IntegrationID   uuid.UUID         `json:"integration_id" db:"integration_id"`
	IsActive        bool              `json:"is_active" db:"is_active"`
	ValidationToken string            `json:"-"`
	OfferMappings   map[string]string `json:"offer_mappings,omitempty"`
}

// PlanFor returns the plan mapped inline for offerID. Entries that are not
// a UUID are treated as unmapped.
func (g *GatewayConfig) PlanFor(offerID string) (uuid.UUID, bool) {
	if g == nil || offerID == "" {
		return uuid.Nil, false
	}
	raw, ok := g.OfferMappings[offerID]
	if !ok {
		return uuid.Nil, false
	}
	planID, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || planID == uuid.Nil {
		return uuid.Nil, false
	}
	return planID, true
}
