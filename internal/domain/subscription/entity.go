// internal/domain/subscription/entity.go
package subscription

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type BillingCycle string

const (
	BillingMonthly BillingCycle = "monthly"
	BillingAnnual  BillingCycle = "annual"
)

// Valid reports whether the cycle is one we bill on.
func (b BillingCycle) Valid() bool {
	return b == BillingMonthly || b == BillingAnnual
}

// PeriodMonths is the length of one billing period.
func (b BillingCycle) PeriodMonths() int {
	if b == BillingAnnual {
		return 12
	}
	return 1
}

// PeriodEnd uses fixed 30 day months, not calendar months.
func (b BillingCycle) PeriodEnd(start time.Time) time.Time {
	return start.Add(time.Duration(b.PeriodMonths()*30) * 24 * time.Hour)
}

type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusPastDue   Status = "past_due"
)

// SubscriptionPlan is a catalog entry. Read-only for this service.
type SubscriptionPlan struct {
	ID                 uuid.UUID       `json:"id" db:"id"`
	Name               string          `json:"name" db:"name"`
	MonthlyPrice       decimal.Decimal `json:"monthly_price" db:"monthly_price"`
	AnnualPrice        decimal.Decimal `json:"annual_price" db:"annual_price"`
	CreditsPerMonth    decimal.Decimal `json:"credits_per_month" db:"credits_per_month"`
	MaxProjects        *int            `json:"max_projects" db:"max_projects"` // nil = unlimited
	MaxCopies          *int            `json:"max_copies" db:"max_copies"`     // nil = unlimited
	CopyAIEnabled      bool            `json:"copy_ai_enabled" db:"copy_ai_enabled"`
	RolloverEnabled    bool            `json:"rollover_enabled" db:"rollover_enabled"`
	MaxRolloverCredits decimal.Decimal `json:"max_rollover_credits" db:"max_rollover_credits"`
	IsActive           bool            `json:"is_active" db:"is_active"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// PriceFor returns the plan price charged per period of the given cycle.
func (p *SubscriptionPlan) PriceFor(cycle BillingCycle) decimal.Decimal {
	if cycle == BillingAnnual {
		return p.AnnualPrice
	}
	return p.MonthlyPrice
}

// PlanOfferGatewayID maps an external gateway offer to an internal plan.
type PlanOfferGatewayID struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	GatewayOfferID string        `json:"gateway_offer_id" db:"gateway_offer_id"`
	PaymentGateway string        `json:"payment_gateway" db:"payment_gateway"`
	PlanID         uuid.UUID     `json:"plan_id" db:"plan_id"`
	BillingCycle   *BillingCycle `json:"billing_cycle,omitempty" db:"billing_cycle"`
}

type WorkspaceSubscription struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	WorkspaceID  uuid.UUID    `json:"workspace_id" db:"workspace_id"`
	PlanID       uuid.UUID    `json:"plan_id" db:"plan_id"`
	BillingCycle BillingCycle `json:"billing_cycle" db:"billing_cycle"`
	Status       Status       `json:"status" db:"status"`

	// Snapshot of the plan limits taken when the subscription was created
	CurrentMaxProjects   *int `json:"current_max_projects" db:"current_max_projects"`
	CurrentMaxCopies     *int `json:"current_max_copies" db:"current_max_copies"`
	CurrentCopyAIEnabled bool `json:"current_copy_ai_enabled" db:"current_copy_ai_enabled"`

	CurrentPeriodStart time.Time `json:"current_period_start" db:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end" db:"current_period_end"`

	PaymentGateway         *string    `json:"payment_gateway,omitempty" db:"payment_gateway"`
	ExternalSubscriptionID *string    `json:"external_subscription_id,omitempty" db:"external_subscription_id"`
	CancelledAt            *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewSnapshot builds an active subscription that copies the plan limits at
// creation time, so later catalog edits do not alter it.
func NewSnapshot(workspaceID uuid.UUID, plan *SubscriptionPlan, cycle BillingCycle, now time.Time) *WorkspaceSubscription {
	return &WorkspaceSubscription{
		WorkspaceID:          workspaceID,
		PlanID:               plan.ID,
		BillingCycle:         cycle,
		Status:               StatusActive,
		CurrentMaxProjects:   copyInt(plan.MaxProjects),
		CurrentMaxCopies:     copyInt(plan.MaxCopies),
		CurrentCopyAIEnabled: plan.CopyAIEnabled,
		CurrentPeriodStart:   now,
		CurrentPeriodEnd:     cycle.PeriodEnd(now),
	}
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}
