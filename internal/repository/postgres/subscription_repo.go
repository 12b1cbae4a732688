// internal/repository/postgres/subscription_repo.go
package postgres

import (
	"context"
	"time"

	"copydrive-service/internal/domain/subscription"
	xerrors "copydrive-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WorkspaceSubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewWorkspaceSubscriptionRepository(db *pgxpool.Pool) *WorkspaceSubscriptionRepository {
	return &WorkspaceSubscriptionRepository{db: db}
}

const subscriptionColumns = `
	id, workspace_id, plan_id, billing_cycle, status,
	current_max_projects, current_max_copies, current_copy_ai_enabled,
	current_period_start, current_period_end,
	payment_gateway, external_subscription_id, cancelled_at,
	created_at, updated_at`

// CreateWithTx inserts a subscription within a transaction
func (r *WorkspaceSubscriptionRepository) CreateWithTx(ctx context.Context, tx pgx.Tx, sub *subscription.WorkspaceSubscription) error {
	query := `
		INSERT INTO workspace_subscriptions (
			workspace_id, plan_id, billing_cycle, status,
			current_max_projects, current_max_copies, current_copy_ai_enabled,
			current_period_start, current_period_end,
			payment_gateway, external_subscription_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(
		ctx, query,
		sub.WorkspaceID, sub.PlanID, sub.BillingCycle, sub.Status,
		sub.CurrentMaxProjects, sub.CurrentMaxCopies, sub.CurrentCopyAIEnabled,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.PaymentGateway, sub.ExternalSubscriptionID,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return mapError(err, "create subscription")
	}

	return nil
}

// FindActiveByWorkspace retrieves the active subscription of a workspace
func (r *WorkspaceSubscriptionRepository) FindActiveByWorkspace(ctx context.Context, workspaceID uuid.UUID) (*subscription.WorkspaceSubscription, error) {
	return findActiveByWorkspace(ctx, r.db, workspaceID)
}

// FindActiveByWorkspaceWithTx is FindActiveByWorkspace inside a transaction
func (r *WorkspaceSubscriptionRepository) FindActiveByWorkspaceWithTx(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID) (*subscription.WorkspaceSubscription, error) {
	return findActiveByWorkspace(ctx, tx, workspaceID)
}

func findActiveByWorkspace(ctx context.Context, q querier, workspaceID uuid.UUID) (*subscription.WorkspaceSubscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM workspace_subscriptions
		WHERE workspace_id = $1 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanSubscription(q.QueryRow(ctx, query, workspaceID))
}

// FindActiveByExternalIDWithTx locks the active subscription created by a gateway.
func (r *WorkspaceSubscriptionRepository) FindActiveByExternalIDWithTx(ctx context.Context, tx pgx.Tx, gateway, externalID string) (*subscription.WorkspaceSubscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM workspace_subscriptions
		WHERE payment_gateway = $1 AND external_subscription_id = $2 AND status = 'active'
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`
	return scanSubscription(tx.QueryRow(ctx, query, gateway, externalID))
}

// CancelWithTx marks an active subscription as cancelled
func (r *WorkspaceSubscriptionRepository) CancelWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE workspace_subscriptions
		SET status = 'cancelled', cancelled_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`

	result, err := tx.Exec(ctx, query, id, at)
	if err != nil {
		return mapError(err, "cancel subscription")
	}

	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}

	return nil
}

func scanSubscription(row pgx.Row) (*subscription.WorkspaceSubscription, error) {
	var sub subscription.WorkspaceSubscription
	err := row.Scan(
		&sub.ID, &sub.WorkspaceID, &sub.PlanID, &sub.BillingCycle, &sub.Status,
		&sub.CurrentMaxProjects, &sub.CurrentMaxCopies, &sub.CurrentCopyAIEnabled,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.PaymentGateway, &sub.ExternalSubscriptionID, &sub.CancelledAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err, "find subscription")
	}
	return &sub, nil
}
