// internal/service/plans/plan_service.go
package plans

import (
	"context"
	"errors"
	"fmt"
	"time"

	"copydrive-service/internal/domain/subscription"
	"copydrive-service/internal/domain/workspace"
	"copydrive-service/internal/metrics"
	xerrors "copydrive-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type PlanRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*subscription.SubscriptionPlan, error)
	ListActive(ctx context.Context) ([]subscription.SubscriptionPlan, error)
}

type SubscriptionRepository interface {
	FindActiveByWorkspace(ctx context.Context, workspaceID uuid.UUID) (*subscription.WorkspaceSubscription, error)
	FindActiveByWorkspaceWithTx(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID) (*subscription.WorkspaceSubscription, error)
	CancelWithTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, at time.Time) error
	CreateWithTx(ctx context.Context, tx pgx.Tx, sub *subscription.WorkspaceSubscription) error
}

type WorkspaceRepository interface {
	FindMember(ctx context.Context, workspaceID, userID uuid.UUID) (*workspace.Member, error)
	LockWithTx(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID) error
	GetUsageWithTx(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID) (*workspace.Usage, error)
}

type Notifier interface {
	SubscriptionChanged(ctx context.Context, workspaceID uuid.UUID, subscriptionID, planID *uuid.UUID, status subscription.Status)
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// ChangePlanInput is a plan change request together with who asked for it.
type ChangePlanInput struct {
	CallerID              uuid.UUID
	CallerIsPlatformAdmin bool
	WorkspaceID           uuid.UUID
	NewPlanID             uuid.UUID
	BillingCycle          subscription.BillingCycle
}

type PlanService struct {
	plans      PlanRepository
	subs       SubscriptionRepository
	workspaces WorkspaceRepository
	notifier   Notifier
	db         TxRunner
	logger     *zap.Logger
	now        func() time.Time
}

func NewPlanService(
	plans PlanRepository,
	subs SubscriptionRepository,
	workspaces WorkspaceRepository,
	notifier Notifier,
	db TxRunner,
	logger *zap.Logger,
) *PlanService {
	return &PlanService{
		plans:      plans,
		subs:       subs,
		workspaces: workspaces,
		notifier:   notifier,
		db:         db,
		logger:     logger,
		now:        time.Now,
	}
}

// ListActivePlans returns the public catalog.
func (s *PlanService) ListActivePlans(ctx context.Context) ([]subscription.SubscriptionPlan, error) {
	plans, err := s.plans.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	return plans, nil
}

// GetCurrentSubscription returns the workspace's active subscription.
func (s *PlanService) GetCurrentSubscription(ctx context.Context, workspaceID uuid.UUID) (*subscription.WorkspaceSubscription, error) {
	sub, err := s.subs.FindActiveByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ChangePlan moves a workspace to another plan. Checks run in a fixed order
// and the first failure is returned as the result code; only a successful
// result has written anything.
func (s *PlanService) ChangePlan(ctx context.Context, in ChangePlanInput) (*subscription.ChangePlanResult, error) {
	if in.BillingCycle != "" && !in.BillingCycle.Valid() {
		return s.fail(xerrors.CodeInvalidBillingCycle), nil
	}

	if !in.CallerIsPlatformAdmin {
		member, err := s.workspaces.FindMember(ctx, in.WorkspaceID, in.CallerID)
		if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
			return nil, fmt.Errorf("failed to load membership: %w", err)
		}
		if member == nil || !member.Role.CanManageBilling() {
			return s.fail(xerrors.CodeUnauthorized), nil
		}
	}

	var (
		result  *subscription.ChangePlanResult
		applied bool
	)
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.workspaces.LockWithTx(ctx, tx, in.WorkspaceID); err != nil {
			if errors.Is(err, xerrors.ErrNotFound) {
				result = subscription.ChangePlanFailure(xerrors.CodeNoActiveSubscription)
				return errRollback
			}
			return fmt.Errorf("failed to lock workspace: %w", err)
		}

		current, err := s.subs.FindActiveByWorkspaceWithTx(ctx, tx, in.WorkspaceID)
		if err != nil {
			if errors.Is(err, xerrors.ErrNotFound) {
				result = subscription.ChangePlanFailure(xerrors.CodeNoActiveSubscription)
				return errRollback
			}
			return fmt.Errorf("failed to load active subscription: %w", err)
		}

		plan, err := s.plans.FindByID(ctx, in.NewPlanID)
		if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
			return fmt.Errorf("failed to load plan: %w", err)
		}
		if plan == nil || !plan.IsActive {
			result = subscription.ChangePlanFailure(xerrors.CodePlanNotFound)
			return errRollback
		}

		// An omitted cycle keeps the current one.
		cycle := in.BillingCycle
		if cycle == "" {
			cycle = current.BillingCycle
		}

		if current.PlanID == plan.ID && current.BillingCycle == cycle {
			result = &subscription.ChangePlanResult{Success: true, Subscription: current}
			return errRollback
		}

		usage, err := s.workspaces.GetUsageWithTx(ctx, tx, in.WorkspaceID)
		if err != nil {
			return err
		}
		if res := checkLimits(plan, usage); res != nil {
			result = res
			return errRollback
		}

		if res, err := s.checkPayment(ctx, current, plan, cycle); err != nil {
			return err
		} else if res != nil {
			result = res
			return errRollback
		}

		if err := s.subs.CancelWithTx(ctx, tx, current.ID, s.now()); err != nil {
			return fmt.Errorf("failed to cancel subscription %s: %w", current.ID, err)
		}

		next := subscription.NewSnapshot(in.WorkspaceID, plan, cycle, s.now())
		next.PaymentGateway = current.PaymentGateway
		next.ExternalSubscriptionID = current.ExternalSubscriptionID
		if err := s.subs.CreateWithTx(ctx, tx, next); err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}

		result = &subscription.ChangePlanResult{Success: true, Subscription: next}
		applied = true
		return nil
	})
	if err != nil && !errors.Is(err, errRollback) {
		metrics.PlanChangesTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	s.observe(result)

	if applied {
		s.logger.Info("workspace plan changed",
			zap.String("workspace_id", in.WorkspaceID.String()),
			zap.String("plan_id", in.NewPlanID.String()),
			zap.String("caller_id", in.CallerID.String()),
		)
		if s.notifier != nil {
			s.notifier.SubscriptionChanged(ctx, in.WorkspaceID, &result.Subscription.ID, &result.Subscription.PlanID, subscription.StatusActive)
		}
	}

	return result, nil
}

// checkLimits blocks a downgrade below current usage. A nil limit is unlimited.
func checkLimits(plan *subscription.SubscriptionPlan, usage *workspace.Usage) *subscription.ChangePlanResult {
	if plan.MaxProjects != nil && usage.Projects > *plan.MaxProjects {
		res := subscription.ChangePlanFailure(xerrors.CodeProjectsLimitExceeded)
		count, limit := usage.Projects, *plan.MaxProjects
		res.CurrentCount, res.NewLimit = &count, &limit
		return res
	}
	if plan.MaxCopies != nil && usage.Copies > *plan.MaxCopies {
		res := subscription.ChangePlanFailure(xerrors.CodeCopiesLimitExceeded)
		count, limit := usage.Copies, *plan.MaxCopies
		res.CurrentCount, res.NewLimit = &count, &limit
		return res
	}
	return nil
}

// checkPayment compares the new price against what the current subscription
// pays per its own cycle. A more expensive target needs checkout first.
func (s *PlanService) checkPayment(ctx context.Context, current *subscription.WorkspaceSubscription, plan *subscription.SubscriptionPlan, cycle subscription.BillingCycle) (*subscription.ChangePlanResult, error) {
	newPrice := plan.PriceFor(cycle)

	currentPlan, err := s.plans.FindByID(ctx, current.PlanID)
	if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to load current plan: %w", err)
	}

	if currentPlan != nil {
		paid := currentPlan.PriceFor(current.BillingCycle)
		if !newPrice.GreaterThan(paid) {
			return nil, nil
		}
		amount := newPrice.Sub(paid)
		return &subscription.ChangePlanResult{Success: false, RequiresPayment: true, AmountToPay: &amount}, nil
	}

	if !newPrice.IsPositive() {
		return nil, nil
	}
	return &subscription.ChangePlanResult{Success: false, RequiresPayment: true, AmountToPay: &newPrice}, nil
}

// errRollback aborts a transaction whose result is already decided.
var errRollback = errors.New("rollback")

func (s *PlanService) fail(code xerrors.Code) *subscription.ChangePlanResult {
	metrics.PlanChangesTotal.WithLabelValues(string(code)).Inc()
	return subscription.ChangePlanFailure(code)
}

func (s *PlanService) observe(result *subscription.ChangePlanResult) {
	switch {
	case result.Success:
		metrics.PlanChangesTotal.WithLabelValues("success").Inc()
	case result.RequiresPayment:
		metrics.PlanChangesTotal.WithLabelValues("requires_payment").Inc()
	default:
		metrics.PlanChangesTotal.WithLabelValues(string(result.Error)).Inc()
	}
}
