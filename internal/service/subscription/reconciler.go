// internal/service/subscription/reconciler.go
package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"copydrive-service/internal/domain/credit"
	"copydrive-service/internal/domain/subscription"
	"copydrive-service/internal/domain/webhook"
	"copydrive-service/internal/domain/workspace"
	xerrors "copydrive-service/internal/pkg/errors"
	creditsvc "copydrive-service/internal/service/credit"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrAlreadyProcessed is returned when the delivery key was recorded by an
// earlier committed delivery. Nothing was written.
var ErrAlreadyProcessed = errors.New("webhook event already processed")

type PlanRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*subscription.SubscriptionPlan, error)
	FindOfferMapping(ctx context.Context, gateway, offerID string) (*subscription.PlanOfferGatewayID, error)
}

type SubscriptionRepository interface {
	FindActiveByWorkspaceWithTx(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID) (*subscription.WorkspaceSubscription, error)
	FindActiveByExternalIDWithTx(ctx context.Context, tx pgx.Tx, gateway, externalID string) (*subscription.WorkspaceSubscription, error)
	CancelWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
	CreateWithTx(ctx context.Context, tx pgx.Tx, sub *subscription.WorkspaceSubscription) error
}

type WorkspaceRepository interface {
	FindProfileByEmail(ctx context.Context, email string) (*workspace.Profile, error)
	FindOwnedWorkspace(ctx context.Context, userID uuid.UUID) (uuid.UUID, error)
	LockWithTx(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID) error
}

// EventRecorder stores the delivery key; false means it already existed.
type EventRecorder interface {
	RecordWithTx(ctx context.Context, tx pgx.Tx, ev *webhook.ProcessedEvent) (bool, error)
}

type CreditGranter interface {
	AddCreditsWithTx(ctx context.Context, tx pgx.Tx, in creditsvc.AddInput) (*credit.LedgerResult, error)
}

// Notifier is told about committed subscription and balance changes.
type Notifier interface {
	SubscriptionChanged(ctx context.Context, workspaceID uuid.UUID, subscriptionID, planID *uuid.UUID, status subscription.Status)
	BalanceChanged(ctx context.Context, workspaceID uuid.UUID, balance, delta decimal.Decimal)
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// Reconciler turns payment gateway events into subscription state and
// plan credit grants.
type Reconciler struct {
	plans      PlanRepository
	subs       SubscriptionRepository
	workspaces WorkspaceRepository
	events     EventRecorder
	credits    CreditGranter
	notifier   Notifier
	db         TxRunner
	logger     *zap.Logger
	now        func() time.Time
}

func NewReconciler(
	plans PlanRepository,
	subs SubscriptionRepository,
	workspaces WorkspaceRepository,
	events EventRecorder,
	credits CreditGranter,
	notifier Notifier,
	db TxRunner,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		plans:      plans,
		subs:       subs,
		workspaces: workspaces,
		events:     events,
		credits:    credits,
		notifier:   notifier,
		db:         db,
		logger:     logger,
		now:        time.Now,
	}
}

// ========== CREATED ==========

// HandleSubscriptionCreated activates the plan bought in d for the buyer's
// owned workspace. Any active subscription is cancelled, the new one is
// created with a limit snapshot and the plan's monthly credits are granted,
// all in one transaction together with the delivery key.
func (r *Reconciler) HandleSubscriptionCreated(ctx context.Context, d *webhook.Delivery, gw *webhook.GatewayConfig) (*subscription.ReconcileResult, error) {
	data := d.Data
	if data == nil {
		data = &webhook.EventData{}
	}

	planID, mappedCycle, err := r.resolveOffer(ctx, d.Slug, data.OfferID, gw)
	if err != nil {
		return nil, err
	}

	plan, err := r.plans.FindByID(ctx, planID)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.Newf(xerrors.CodeWebhookPlanNotFound, "plan %s not found", planID)
		}
		return nil, fmt.Errorf("failed to load plan: %w", err)
	}

	if data.Customer.Email == "" {
		return nil, xerrors.Newf(xerrors.CodeUserNotFound, "event carries no customer email")
	}
	profile, err := r.workspaces.FindProfileByEmail(ctx, data.Customer.Email)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.Newf(xerrors.CodeUserNotFound, "no profile for %s", data.Customer.Email)
		}
		return nil, fmt.Errorf("failed to find profile: %w", err)
	}

	workspaceID, err := r.workspaces.FindOwnedWorkspace(ctx, profile.ID)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.Newf(xerrors.CodeWorkspaceNotFound, "user %s owns no workspace", profile.ID)
		}
		return nil, fmt.Errorf("failed to find workspace: %w", err)
	}

	cycle := ResolveBillingCycle(mappedCycle, data, plan)
	now := r.now()

	var (
		result  *subscription.ReconcileResult
		balance decimal.Decimal
	)
	err = r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := r.workspaces.LockWithTx(ctx, tx, workspaceID); err != nil {
			if errors.Is(err, xerrors.ErrNotFound) {
				return xerrors.Newf(xerrors.CodeWorkspaceNotFound, "workspace %s disappeared", workspaceID)
			}
			return fmt.Errorf("failed to lock workspace: %w", err)
		}

		result = &subscription.ReconcileResult{
			Status:       subscription.OutcomeCreated,
			WorkspaceID:  &workspaceID,
			PlanID:       &plan.ID,
			BillingCycle: cycle,
		}

		current, err := r.subs.FindActiveByWorkspaceWithTx(ctx, tx, workspaceID)
		if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
			return fmt.Errorf("failed to load active subscription: %w", err)
		}
		if current != nil {
			if err := r.subs.CancelWithTx(ctx, tx, current.ID, now); err != nil {
				return fmt.Errorf("failed to cancel subscription %s: %w", current.ID, err)
			}
			cancelled := current.ID
			result.CancelledID = &cancelled
		}

		sub := subscription.NewSnapshot(workspaceID, plan, cycle, now)
		slug := d.Slug
		sub.PaymentGateway = &slug
		if data.ID != "" {
			externalID := data.ID
			sub.ExternalSubscriptionID = &externalID
		}
		if err := r.subs.CreateWithTx(ctx, tx, sub); err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}
		result.SubscriptionID = &sub.ID

		if plan.CreditsPerMonth.IsPositive() {
			granted, err := r.credits.AddCreditsWithTx(ctx, tx, creditsvc.AddInput{
				WorkspaceID: workspaceID,
				Amount:      plan.CreditsPerMonth,
				Description: fmt.Sprintf("Créditos do plano %s", plan.Name),
				Metadata: map[string]interface{}{
					"source":          "subscription",
					"subscription_id": sub.ID.String(),
					"plan_id":         plan.ID.String(),
					"event_id":        d.ExternalEventID,
				},
			})
			if err != nil {
				return fmt.Errorf("failed to grant plan credits: %w", err)
			}
			if !granted.Success {
				return xerrors.Newf(granted.Error, "plan credit grant refused")
			}
			amount := plan.CreditsPerMonth
			result.CreditsGranted = &amount
			if granted.Balance != nil {
				balance = *granted.Balance
				result.Balance = &balance
			}
		}

		return r.record(ctx, tx, d, result)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("subscription created from webhook",
		zap.String("workspace_id", workspaceID.String()),
		zap.String("subscription_id", result.SubscriptionID.String()),
		zap.String("plan_id", plan.ID.String()),
		zap.String("billing_cycle", string(cycle)),
		zap.String("event_id", d.ExternalEventID),
	)

	if r.notifier != nil {
		r.notifier.SubscriptionChanged(ctx, workspaceID, result.SubscriptionID, &plan.ID, subscription.StatusActive)
		if result.CreditsGranted != nil {
			r.notifier.BalanceChanged(ctx, workspaceID, balance, *result.CreditsGranted)
		}
	}

	return result, nil
}

// resolveOffer maps an external offer to a plan, preferring the gateway's
// inline mapping over the mapping table.
func (r *Reconciler) resolveOffer(ctx context.Context, slug, offerID string, gw *webhook.GatewayConfig) (uuid.UUID, *subscription.BillingCycle, error) {
	if offerID == "" {
		return uuid.Nil, nil, xerrors.Newf(xerrors.CodeOfferNotMapped, "event carries no offer id")
	}

	if planID, ok := gw.PlanFor(offerID); ok {
		return planID, nil, nil
	}

	mapping, err := r.plans.FindOfferMapping(ctx, slug, offerID)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return uuid.Nil, nil, xerrors.Newf(xerrors.CodeOfferNotMapped, "offer %s is not mapped for %s", offerID, slug)
		}
		return uuid.Nil, nil, fmt.Errorf("failed to resolve offer: %w", err)
	}

	return mapping.PlanID, mapping.BillingCycle, nil
}

// ResolveBillingCycle picks the cycle of a purchase. An explicit cycle from
// the offer mapping or the payload wins; otherwise a paid amount equal to
// the monthly price (in cents) means monthly and anything else annual.
func ResolveBillingCycle(mapped *subscription.BillingCycle, data *webhook.EventData, plan *subscription.SubscriptionPlan) subscription.BillingCycle {
	if mapped != nil && mapped.Valid() {
		return *mapped
	}

	if explicit := subscription.BillingCycle(data.BillingCycle); explicit.Valid() {
		return explicit
	}

	if data.Amount.Round(2).Equal(plan.MonthlyPrice.Round(2)) {
		return subscription.BillingMonthly
	}
	return subscription.BillingAnnual
}

// ========== CANCELED ==========

// HandleSubscriptionCanceled cancels the active subscription the gateway
// knows by data.id. An unknown subscription is a successful no-op and is
// not recorded, so a later redelivery is evaluated again.
func (r *Reconciler) HandleSubscriptionCanceled(ctx context.Context, d *webhook.Delivery) (*subscription.ReconcileResult, error) {
	externalID := ""
	if d.Data != nil {
		externalID = d.Data.ID
	}
	if externalID == "" {
		return &subscription.ReconcileResult{Status: subscription.OutcomeSubscriptionNotFound}, nil
	}

	now := r.now()
	var result *subscription.ReconcileResult
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		sub, err := r.subs.FindActiveByExternalIDWithTx(ctx, tx, d.Slug, externalID)
		if err != nil {
			if errors.Is(err, xerrors.ErrNotFound) {
				result = &subscription.ReconcileResult{Status: subscription.OutcomeSubscriptionNotFound}
				return errRollback
			}
			return fmt.Errorf("failed to find subscription: %w", err)
		}

		if err := r.subs.CancelWithTx(ctx, tx, sub.ID, now); err != nil {
			return fmt.Errorf("failed to cancel subscription %s: %w", sub.ID, err)
		}

		id, workspaceID, planID := sub.ID, sub.WorkspaceID, sub.PlanID
		result = &subscription.ReconcileResult{
			Status:         subscription.OutcomeCancelled,
			SubscriptionID: &id,
			WorkspaceID:    &workspaceID,
			PlanID:         &planID,
			BillingCycle:   sub.BillingCycle,
		}

		return r.record(ctx, tx, d, result)
	})
	if err != nil && !errors.Is(err, errRollback) {
		return nil, err
	}

	if result.Status == subscription.OutcomeSubscriptionNotFound {
		r.logger.Info("cancel event for unknown subscription",
			zap.String("gateway", d.Slug),
			zap.String("external_subscription_id", externalID),
		)
		return result, nil
	}

	r.logger.Info("subscription cancelled from webhook",
		zap.String("workspace_id", result.WorkspaceID.String()),
		zap.String("subscription_id", result.SubscriptionID.String()),
	)

	if r.notifier != nil {
		r.notifier.SubscriptionChanged(ctx, *result.WorkspaceID, result.SubscriptionID, result.PlanID, subscription.StatusCancelled)
	}

	return result, nil
}

// ========== HELPERS ==========

// errRollback aborts a transaction whose result is already decided.
var errRollback = errors.New("rollback")

// record writes the delivery key last so a failure anywhere earlier leaves
// the delivery retryable.
func (r *Reconciler) record(ctx context.Context, tx pgx.Tx, d *webhook.Delivery, result *subscription.ReconcileResult) error {
	if d.ExternalEventID == "" {
		return nil
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	inserted, err := r.events.RecordWithTx(ctx, tx, &webhook.ProcessedEvent{
		IntegrationSlug: d.Slug,
		ExternalEventID: d.ExternalEventID,
		EventType:       d.Event,
		Result:          payload,
	})
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	if !inserted {
		return ErrAlreadyProcessed
	}
	return nil
}
