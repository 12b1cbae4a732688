// internal/domain/websocket/types.go
package websocket

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// EventType represents different real-time event types
type EventType string

const (
	// Connection events
	EventTypePing         EventType = "ping"
	EventTypePong         EventType = "pong"
	EventTypeConnected    EventType = "connected"
	EventTypeDisconnected EventType = "disconnected"
	EventTypeError        EventType = "error"

	// Billing events (server -> client)
	EventTypeCreditsBalance      EventType = "credits:balance"
	EventTypeSubscriptionChanged EventType = "subscription:changed"

	// Billing requests (client -> server)
	EventTypeCreditsGet EventType = "credits:get"

	// System events
	EventTypeSystemAlert EventType = "system:alert"

	// Subscription events
	EventTypeSubscribe   EventType = "subscribe"
	EventTypeUnsubscribe EventType = "unsubscribe"
)

// WSMessage is the universal message format
type WSMessage struct {
	Type      EventType              `json:"type"`
	Data      interface{}            `json:"data,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	ID        string                 `json:"id,omitempty"`
}

// Subscription channels that clients can subscribe to
type ChannelType string

const (
	ChannelCredits      ChannelType = "credits"
	ChannelSubscription ChannelType = "subscription"
	ChannelSystem       ChannelType = "system"
)

// ChannelFor maps a server event to the channel it is delivered on.
func ChannelFor(t EventType) ChannelType {
	switch t {
	case EventTypeCreditsBalance:
		return ChannelCredits
	case EventTypeSubscriptionChanged:
		return ChannelSubscription
	}
	return ChannelSystem
}

type SubscribeRequest struct {
	Channels []ChannelType `json:"channels"`
}

type UnsubscribeRequest struct {
	Channels []ChannelType `json:"channels"`
}

// CreditsGetRequest asks for the current balance of one workspace.
type CreditsGetRequest struct {
	WorkspaceID uuid.UUID `json:"workspace_id"`
}

// ErrorData for error events
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// BalanceData is pushed after every ledger mutation.
type BalanceData struct {
	WorkspaceID uuid.UUID       `json:"workspace_id"`
	Balance     decimal.Decimal `json:"balance"`
	Delta       decimal.Decimal `json:"delta"`
}

// SubscriptionChangeData is pushed after a plan change or reconciliation.
type SubscriptionChangeData struct {
	WorkspaceID    uuid.UUID  `json:"workspace_id"`
	SubscriptionID *uuid.UUID `json:"subscription_id,omitempty"`
	PlanID         *uuid.UUID `json:"plan_id,omitempty"`
	Status         string     `json:"status"`
}

// SystemAlertData for system-wide alerts
type SystemAlertData struct {
	Severity string `json:"severity"` // info, warning, critical
	Title    string `json:"title"`
	Message  string `json:"message"`
}

func NewMessage(eventType EventType, data interface{}) *WSMessage {
	return &WSMessage{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
		ID:        ulid.Make().String(),
	}
}

func (m *WSMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ParseMessage(data []byte) (*WSMessage, error) {
	var msg WSMessage
	err := json.Unmarshal(data, &msg)
	return &msg, err
}
