// internal/websocket/handler/credits.go
package handler

import (
	"context"
	"fmt"

	"copydrive-service/internal/domain/credit"
	wstypes "copydrive-service/internal/domain/websocket"
	ws "copydrive-service/internal/websocket"

	"github.com/google/uuid"
)

type BalanceReader interface {
	GetBalance(ctx context.Context, workspaceID uuid.UUID) (*credit.WorkspaceCredits, error)
}

type AccessChecker interface {
	CanView(ctx context.Context, workspaceID, userID uuid.UUID, platformAdmin bool) (bool, error)
}

// CreditsHandler answers balance requests over the socket so a client can
// resync after reconnecting.
type CreditsHandler struct {
	balances BalanceReader
	access   AccessChecker
}

func NewCreditsHandler(balances BalanceReader, access AccessChecker) *CreditsHandler {
	return &CreditsHandler{balances: balances, access: access}
}

func (h *CreditsHandler) SupportedEvents() []wstypes.EventType {
	return []wstypes.EventType{wstypes.EventTypeCreditsGet}
}

func (h *CreditsHandler) HandleMessage(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	switch msg.Type {
	case wstypes.EventTypeCreditsGet:
		return h.handleGet(ctx, client, msg)
	default:
		return fmt.Errorf("unsupported event type: %s", msg.Type)
	}
}

func (h *CreditsHandler) handleGet(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	var req wstypes.CreditsGetRequest
	if err := ws.DecodeData(msg.Data, &req); err != nil || req.WorkspaceID == uuid.Nil {
		client.SendError("invalid_request", "workspace_id is required", "")
		return nil
	}

	ok, err := h.access.CanView(ctx, req.WorkspaceID, client.UserID(), client.IsPlatformAdmin())
	if err != nil {
		return fmt.Errorf("failed to check access: %w", err)
	}
	if !ok {
		client.SendError("unauthorized", "Not a member of this workspace", "")
		return nil
	}

	wc, err := h.balances.GetBalance(ctx, req.WorkspaceID)
	if err != nil {
		return fmt.Errorf("failed to load balance: %w", err)
	}

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeCreditsBalance, &wstypes.BalanceData{
		WorkspaceID: req.WorkspaceID,
		Balance:     wc.Balance,
	}))
	return nil
}
