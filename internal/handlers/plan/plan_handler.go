// internal/handlers/plan/plan_handler.go
package plan

import (
	"context"
	"net/http"

	"copydrive-service/internal/domain/subscription"
	"copydrive-service/internal/middleware"
	xerrors "copydrive-service/internal/pkg/errors"
	"copydrive-service/internal/pkg/response"
	"copydrive-service/internal/service/plans"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type PlanService interface {
	ListActivePlans(ctx context.Context) ([]subscription.SubscriptionPlan, error)
	GetCurrentSubscription(ctx context.Context, workspaceID uuid.UUID) (*subscription.WorkspaceSubscription, error)
	ChangePlan(ctx context.Context, in plans.ChangePlanInput) (*subscription.ChangePlanResult, error)
}

type AccessChecker interface {
	CanView(ctx context.Context, workspaceID, userID uuid.UUID, platformAdmin bool) (bool, error)
}

type PlanHandler struct {
	planService PlanService
	access      AccessChecker
	logger      *zap.Logger
}

func NewPlanHandler(planService PlanService, access AccessChecker, logger *zap.Logger) *PlanHandler {
	return &PlanHandler{
		planService: planService,
		access:      access,
		logger:      logger,
	}
}

// ========== Public Endpoints ==========

// ListPlans returns the active catalog.
func (h *PlanHandler) ListPlans(c *gin.Context) {
	result, err := h.planService.ListActivePlans(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list plans", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "failed to list plans", nil)
		return
	}

	response.Success(c, http.StatusOK, "plans retrieved", result)
}

// ========== Member Endpoints ==========

// GetCurrentSubscription returns the workspace's active subscription snapshot.
func (h *PlanHandler) GetCurrentSubscription(c *gin.Context) {
	workspaceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid workspace ID", err)
		return
	}

	ctx := c.Request.Context()
	allowed, err := h.access.CanView(ctx, workspaceID, middleware.MustGetUserID(c), middleware.IsAdmin(c))
	if err != nil {
		h.logger.Error("failed to check workspace access", zap.Error(err))
		response.AppError(c, err)
		return
	}
	if !allowed {
		response.AppError(c, xerrors.New(xerrors.CodeUnauthorized, nil))
		return
	}

	sub, err := h.planService.GetCurrentSubscription(ctx, workspaceID)
	if xerrors.Is(err, xerrors.ErrNotFound) {
		response.AppError(c, xerrors.New(xerrors.CodeNoActiveSubscription, err))
		return
	}
	if err != nil {
		h.logger.Error("failed to get subscription",
			zap.String("workspace_id", workspaceID.String()),
			zap.Error(err),
		)
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, "subscription retrieved", sub)
}

// ========== RPC ==========

// ChangePlan is change_workspace_plan. Business outcomes are reported in the
// result object with status 200.
func (h *PlanHandler) ChangePlan(c *gin.Context) {
	var req subscription.ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}

	result, err := h.planService.ChangePlan(c.Request.Context(), plans.ChangePlanInput{
		CallerID:              middleware.MustGetUserID(c),
		CallerIsPlatformAdmin: middleware.IsAdmin(c),
		WorkspaceID:           req.WorkspaceID,
		NewPlanID:             req.NewPlanID,
		BillingCycle:          req.BillingCycle,
	})
	if err != nil {
		h.logger.Error("plan change failed",
			zap.String("workspace_id", req.WorkspaceID.String()),
			zap.String("plan_id", req.NewPlanID.String()),
			zap.Error(err),
		)
		response.RPC(c, http.StatusOK, subscription.ChangePlanFailure(xerrors.CodeUnknown))
		return
	}

	response.RPC(c, http.StatusOK, result)
}
