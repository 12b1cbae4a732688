// internal/websocket/hub.go
package websocket

import (
	"context"
	"sync"

	wstypes "copydrive-service/internal/domain/websocket"
	"copydrive-service/internal/metrics"
	"copydrive-service/internal/pkg/jwt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Hub struct {
	// Registered clients by user id
	clients map[uuid.UUID]map[*Client]bool
	mu      sync.RWMutex

	Register   chan *Client
	unregister chan *Client

	broadcast chan *BroadcastMessage

	handlerRegistry *HandlerRegistry

	verifier *jwt.Verifier
	logger   *zap.Logger
}

// BroadcastMessage targets UserIDs, or every client when UserIDs is nil.
type BroadcastMessage struct {
	UserIDs []uuid.UUID
	Channel wstypes.ChannelType
	Message *wstypes.WSMessage
}

func NewHub(verifier *jwt.Verifier, logger *zap.Logger) *Hub {
	return &Hub{
		clients:         make(map[uuid.UUID]map[*Client]bool),
		Register:        make(chan *Client),
		unregister:      make(chan *Client, 64),
		broadcast:       make(chan *BroadcastMessage, 256),
		handlerRegistry: NewHandlerRegistry(),
		verifier:        verifier,
		logger:          logger,
	}
}

// AuthenticateClient validates an access token.
func (h *Hub) AuthenticateClient(token string) (*ClientAuth, error) {
	if h.verifier == nil {
		return nil, ErrUnauthorized
	}

	claims, err := h.verifier.VerifyAccessToken(token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrInvalidToken
	}

	return &ClientAuth{
		UserID:  userID,
		TokenID: claims.ID,
		Roles:   claims.Roles,
		Email:   claims.Email,
	}, nil
}

func (h *Hub) RegisterHandler(handler MessageHandler) {
	h.handlerRegistry.Register(handler)
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.Register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	if h.clients[client.userID] == nil {
		h.clients[client.userID] = make(map[*Client]bool)
	}
	h.clients[client.userID][client] = true
	total := h.totalClients()
	h.mu.Unlock()

	metrics.WebsocketClients.Set(float64(total))
	h.logger.Info("websocket client connected",
		zap.String("user_id", client.userID.String()),
		zap.Int("total", total),
	)

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeConnected, map[string]interface{}{
		"user_id":  client.userID,
		"roles":    client.roles,
		"channels": client.Channels(),
	}))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	clients, ok := h.clients[client.userID]
	if !ok || !clients[client] {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.clients, client.userID)
	}
	total := h.totalClients()
	h.mu.Unlock()

	client.Close()
	metrics.WebsocketClients.Set(float64(total))
	h.logger.Info("websocket client disconnected",
		zap.String("user_id", client.userID.String()),
		zap.Int("total", total),
	)
}

func (h *Hub) deliver(msg *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	send := func(clients map[*Client]bool) {
		for client := range clients {
			if client.IsSubscribed(msg.Channel) {
				client.SendMessage(msg.Message)
			}
		}
	}

	if msg.UserIDs == nil {
		for _, clients := range h.clients {
			send(clients)
		}
		return
	}
	for _, id := range msg.UserIDs {
		send(h.clients[id])
	}
}

// publish queues msg without ever blocking the caller. A full queue drops
// the message; clients resync on reconnect.
func (h *Hub) publish(msg *BroadcastMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("websocket broadcast queue full, dropping message",
			zap.String("type", string(msg.Message.Type)),
		)
	}
}

func (h *Hub) ConnectedClients(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalClients()
}

// ========== BROADCASTS ==========

func (h *Hub) BroadcastBalance(userIDs []uuid.UUID, data *wstypes.BalanceData) {
	h.publish(&BroadcastMessage{
		UserIDs: userIDs,
		Channel: wstypes.ChannelCredits,
		Message: wstypes.NewMessage(wstypes.EventTypeCreditsBalance, data),
	})
}

func (h *Hub) BroadcastSubscriptionChange(userIDs []uuid.UUID, data *wstypes.SubscriptionChangeData) {
	h.publish(&BroadcastMessage{
		UserIDs: userIDs,
		Channel: wstypes.ChannelSubscription,
		Message: wstypes.NewMessage(wstypes.EventTypeSubscriptionChanged, data),
	})
}

func (h *Hub) BroadcastSystemAlert(alert *wstypes.SystemAlertData) {
	h.publish(&BroadcastMessage{
		Channel: wstypes.ChannelSystem,
		Message: wstypes.NewMessage(wstypes.EventTypeSystemAlert, alert),
	})
}

func (h *Hub) totalClients() int {
	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, clients := range h.clients {
		for client := range clients {
			client.Close()
		}
		delete(h.clients, id)
	}
	metrics.WebsocketClients.Set(0)
}
