// internal/domain/subscription/dto.go
package subscription

import (
	"encoding/json"

	xerrors "copydrive-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ChangePlanRequest struct {
	WorkspaceID  uuid.UUID    `json:"workspace_id" binding:"required"`
	NewPlanID    uuid.UUID    `json:"new_plan_id" binding:"required"`
	BillingCycle BillingCycle `json:"billing_cycle"`
}

// ChangePlanResult mirrors the change_workspace_plan RPC result.
type ChangePlanResult struct {
	Success         bool                   `json:"success"`
	Error           xerrors.Code           `json:"error,omitempty"`
	CurrentCount    *int                   `json:"current_count,omitempty"`
	NewLimit        *int                   `json:"new_limit,omitempty"`
	RequiresPayment bool                   `json:"requires_payment,omitempty"`
	AmountToPay     *decimal.Decimal       `json:"amount_to_pay,omitempty"`
	Subscription    *WorkspaceSubscription `json:"subscription,omitempty"`
}

// ChangePlanFailure builds a failed result for code.
func ChangePlanFailure(code xerrors.Code) *ChangePlanResult {
	return &ChangePlanResult{Success: false, Error: code}
}

// Reconcile outcome statuses
const (
	OutcomeCreated              = "created"
	OutcomeCancelled            = "cancelled"
	OutcomeSubscriptionNotFound = "subscription_not_found"
	OutcomeIgnored              = "ignored"
	OutcomeDuplicate            = "duplicate"
)

// ReconcileResult is what a webhook handler reports back in `result`.
type ReconcileResult struct {
	Status         string           `json:"status"`
	SubscriptionID *uuid.UUID       `json:"subscription_id,omitempty"`
	WorkspaceID    *uuid.UUID       `json:"workspace_id,omitempty"`
	CancelledID    *uuid.UUID       `json:"cancelled_subscription_id,omitempty"`
	PlanID         *uuid.UUID       `json:"plan_id,omitempty"`
	BillingCycle   BillingCycle     `json:"billing_cycle,omitempty"`
	CreditsGranted *decimal.Decimal `json:"credits_granted,omitempty"`
	Balance        *decimal.Decimal `json:"balance,omitempty"`
	Original       json.RawMessage  `json:"original,omitempty"`
}
