// internal/repository/postgres/plan_repo.go
package postgres

import (
	"context"
	"fmt"

	"copydrive-service/internal/domain/subscription"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SubscriptionPlanRepository struct {
	db *pgxpool.Pool
}

func NewSubscriptionPlanRepository(db *pgxpool.Pool) *SubscriptionPlanRepository {
	return &SubscriptionPlanRepository{db: db}
}

const planColumns = `
	id, name, monthly_price, annual_price, credits_per_month,
	max_projects, max_copies, copy_ai_enabled, rollover_enabled, max_rollover_credits,
	is_active, created_at, updated_at`

// FindByID retrieves a plan regardless of its active flag.
func (r *SubscriptionPlanRepository) FindByID(ctx context.Context, id uuid.UUID) (*subscription.SubscriptionPlan, error) {
	query := `SELECT ` + planColumns + ` FROM subscription_plans WHERE id = $1`
	return scanPlan(r.db.QueryRow(ctx, query, id))
}

// ListActive returns the public catalog ordered by monthly price.
func (r *SubscriptionPlanRepository) ListActive(ctx context.Context) ([]subscription.SubscriptionPlan, error) {
	query := `SELECT ` + planColumns + `
		FROM subscription_plans
		WHERE is_active = TRUE
		ORDER BY monthly_price ASC, name ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := []subscription.SubscriptionPlan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}
	return plans, nil
}

// FindOfferMapping resolves a gateway offer id through plan_offer_gateway_ids.
func (r *SubscriptionPlanRepository) FindOfferMapping(ctx context.Context, gateway, offerID string) (*subscription.PlanOfferGatewayID, error) {
	query := `
		SELECT id, gateway_offer_id, payment_gateway, plan_id, billing_cycle
		FROM plan_offer_gateway_ids
		WHERE payment_gateway = $1 AND gateway_offer_id = $2
	`

	var m subscription.PlanOfferGatewayID
	err := r.db.QueryRow(ctx, query, gateway, offerID).Scan(
		&m.ID, &m.GatewayOfferID, &m.PaymentGateway, &m.PlanID, &m.BillingCycle,
	)
	if err != nil {
		return nil, mapError(err, "find offer mapping")
	}
	return &m, nil
}

func scanPlan(row pgx.Row) (*subscription.SubscriptionPlan, error) {
	var p subscription.SubscriptionPlan
	err := row.Scan(
		&p.ID, &p.Name, &p.MonthlyPrice, &p.AnnualPrice, &p.CreditsPerMonth,
		&p.MaxProjects, &p.MaxCopies, &p.CopyAIEnabled, &p.RolloverEnabled, &p.MaxRolloverCredits,
		&p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err, "find plan")
	}
	return &p, nil
}
