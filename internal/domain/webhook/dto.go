// internal/domain/webhook/dto.go
package webhook

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Envelope is the outer shape of every provider callback. Data is decoded
// lazily so a malformed data block fails the delivery instead of being
// mistaken for a validation ping.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type EventData struct {
	ID           string          `json:"id"`
	OfferID      string          `json:"offer_id"`
	Customer     Customer        `json:"customer"`
	Amount       decimal.Decimal `json:"amount"`
	Status       string          `json:"status"`
	BillingCycle string          `json:"billing_cycle,omitempty"`
	CreatedAt    string          `json:"created_at,omitempty"`
}

// ParseEnvelope decodes body. An empty or malformed body yields a synthetic
// validation event so the provider's "send test" button always succeeds.
func ParseEnvelope(body []byte) (*Envelope, bool) {
	var env Envelope
	if len(strings.TrimSpace(string(body))) == 0 {
		return &Envelope{Event: EventValidation}, false
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return &Envelope{Event: EventValidation}, false
	}
	env.Event = strings.TrimSpace(env.Event)
	if env.Event == "" {
		env.Event = EventValidation
	}
	return &env, true
}

// SniffEvent reads the top-level event name from the leading bytes of a
// body that may be cut short. It returns "" when the name is not reached
// before the bytes run out.
func SniffEvent(prefix []byte) string {
	dec := json.NewDecoder(bytes.NewReader(prefix))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return ""
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		key, _ := tok.(string)
		if key == "event" {
			var event string
			if err := dec.Decode(&event); err != nil {
				return ""
			}
			return strings.TrimSpace(event)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return ""
		}
	}
	return ""
}

// DecodeData decodes the data block.
func (e *Envelope) DecodeData() (*EventData, error) {
	var data EventData
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return &data, nil
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, err
	}
	data.Customer.Email = strings.ToLower(strings.TrimSpace(data.Customer.Email))
	return &data, nil
}

// ExternalEventID derives the dedupe key of a delivery: event plus the
// provider object id, or a hash of the raw body when the id is missing.
func ExternalEventID(event string, dataID string, body []byte) string {
	if id := strings.TrimSpace(dataID); id != "" {
		return event + ":" + id
	}
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Response is the JSON body returned to the provider.
type Response struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Event     string      `json:"event,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	Status    string      `json:"status,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
}

type LogListFilters struct {
	IntegrationSlug string     `form:"integration_slug"`
	Status          *LogStatus `form:"status"`
	EventType       string     `form:"event_type"`
	Page            int        `form:"page" binding:"omitempty,min=1"`
	PageSize        int        `form:"page_size" binding:"omitempty,min=1,max=100"`
}

type LogListResponse struct {
	Logs       []WebhookLog `json:"logs"`
	Total      int64        `json:"total"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	TotalPages int          `json:"total_pages"`
}

// ConnectionResult is the test_ticto_connection RPC result.
type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// Delivery is one parsed provider event handed to the reconciler.
type Delivery struct {
	Slug            string
	ExternalEventID string
	Event           string
	Data            *EventData
}
