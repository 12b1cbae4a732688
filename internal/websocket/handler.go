// internal/websocket/handler.go
package websocket

import (
	"context"
	"sort"

	wstypes "copydrive-service/internal/domain/websocket"
)

// MessageHandler serves client requests for one domain.
type MessageHandler interface {
	HandleMessage(ctx context.Context, client *Client, msg *wstypes.WSMessage) error
	SupportedEvents() []wstypes.EventType
}

// HandlerRegistry routes client messages by event type. The last handler
// registered for an event wins.
type HandlerRegistry struct {
	handlers map[wstypes.EventType]MessageHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[wstypes.EventType]MessageHandler)}
}

func (r *HandlerRegistry) Register(handler MessageHandler) {
	for _, eventType := range handler.SupportedEvents() {
		r.handlers[eventType] = handler
	}
}

// Dispatch runs the handler for msg. handled is false when no handler is
// registered, leaving the message to the client's built-in events.
func (r *HandlerRegistry) Dispatch(ctx context.Context, client *Client, msg *wstypes.WSMessage) (handled bool, err error) {
	handler, ok := r.handlers[msg.Type]
	if !ok {
		return false, nil
	}
	return true, handler.HandleMessage(ctx, client, msg)
}

// Events lists the routed event types, sorted.
func (r *HandlerRegistry) Events() []wstypes.EventType {
	out := make([]wstypes.EventType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
