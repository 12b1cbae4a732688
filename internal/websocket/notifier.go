// internal/websocket/notifier.go
package websocket

import (
	"context"

	"copydrive-service/internal/domain/subscription"
	wstypes "copydrive-service/internal/domain/websocket"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MemberLister resolves who should hear about a workspace.
type MemberLister interface {
	ListMemberIDs(ctx context.Context, workspaceID uuid.UUID) ([]uuid.UUID, error)
}

// Broadcaster is the part of the hub the notifier publishes through.
type Broadcaster interface {
	BroadcastBalance(userIDs []uuid.UUID, data *wstypes.BalanceData)
	BroadcastSubscriptionChange(userIDs []uuid.UUID, data *wstypes.SubscriptionChangeData)
}

// WorkspaceNotifier pushes committed billing changes to every connected
// member of the workspace. It never fails the caller.
type WorkspaceNotifier struct {
	hub     Broadcaster
	members MemberLister
	logger  *zap.Logger
}

func NewWorkspaceNotifier(hub Broadcaster, members MemberLister, logger *zap.Logger) *WorkspaceNotifier {
	return &WorkspaceNotifier{hub: hub, members: members, logger: logger}
}

func (n *WorkspaceNotifier) BalanceChanged(ctx context.Context, workspaceID uuid.UUID, balance, delta decimal.Decimal) {
	ids, ok := n.recipients(ctx, workspaceID)
	if !ok {
		return
	}
	n.hub.BroadcastBalance(ids, &wstypes.BalanceData{
		WorkspaceID: workspaceID,
		Balance:     balance,
		Delta:       delta,
	})
}

func (n *WorkspaceNotifier) SubscriptionChanged(ctx context.Context, workspaceID uuid.UUID, subscriptionID, planID *uuid.UUID, status subscription.Status) {
	ids, ok := n.recipients(ctx, workspaceID)
	if !ok {
		return
	}
	n.hub.BroadcastSubscriptionChange(ids, &wstypes.SubscriptionChangeData{
		WorkspaceID:    workspaceID,
		SubscriptionID: subscriptionID,
		PlanID:         planID,
		Status:         string(status),
	})
}

func (n *WorkspaceNotifier) recipients(ctx context.Context, workspaceID uuid.UUID) ([]uuid.UUID, bool) {
	ids, err := n.members.ListMemberIDs(context.WithoutCancel(ctx), workspaceID)
	if err != nil {
		n.logger.Warn("failed to resolve workspace members for notification",
			zap.String("workspace_id", workspaceID.String()),
			zap.Error(err),
		)
		return nil, false
	}
	return ids, len(ids) > 0
}
