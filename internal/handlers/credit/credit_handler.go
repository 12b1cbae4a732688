// internal/handlers/credit/credit_handler.go
package credit

import (
	"context"
	"net/http"

	"copydrive-service/internal/domain/credit"
	"copydrive-service/internal/middleware"
	xerrors "copydrive-service/internal/pkg/errors"
	"copydrive-service/internal/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Ledger interface {
	AddCredits(ctx context.Context, req *credit.AddCreditsRequest, userID *uuid.UUID) (*credit.LedgerResult, error)
	SetCredits(ctx context.Context, workspaceID uuid.UUID, req *credit.SetCreditsRequest, adminID *uuid.UUID) (*credit.LedgerResult, error)
	DebitCredits(ctx context.Context, req *credit.DebitCreditsRequest) (*credit.LedgerResult, error)
	CheckCredits(ctx context.Context, req *credit.CheckCreditsRequest) (*credit.CheckResult, error)
	GetBalance(ctx context.Context, workspaceID uuid.UUID) (*credit.WorkspaceCredits, error)
	ListTransactions(ctx context.Context, workspaceID uuid.UUID, filters *credit.TransactionListFilters) (*credit.TransactionListResponse, error)
	VerifyLedger(ctx context.Context, workspaceID uuid.UUID) (*credit.AuditReport, error)
}

type AccessChecker interface {
	CanView(ctx context.Context, workspaceID, userID uuid.UUID, platformAdmin bool) (bool, error)
}

type CreditHandler struct {
	ledger Ledger
	access AccessChecker
	logger *zap.Logger
}

func NewCreditHandler(ledger Ledger, access AccessChecker, logger *zap.Logger) *CreditHandler {
	return &CreditHandler{
		ledger: ledger,
		access: access,
		logger: logger,
	}
}

// ========== RPC ==========

// AddCredits is add_workspace_credits. Only platform admins may adjust a
// balance; workspace owners get credits through their plan.
func (h *CreditHandler) AddCredits(c *gin.Context) {
	var req credit.AddCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}

	userID := middleware.MustGetUserID(c)
	if !middleware.IsAdmin(c) {
		h.logger.Warn("credit adjustment refused for non-admin",
			zap.String("workspace_id", req.WorkspaceID.String()),
			zap.String("user_id", userID.String()),
		)
		response.AppError(c, xerrors.Newf(xerrors.CodeUnauthorized, "user %s is not a platform admin", userID))
		return
	}

	result, err := h.ledger.AddCredits(c.Request.Context(), &req, &userID)
	if err != nil {
		h.fail(c, "add credits", req.WorkspaceID, err)
		return
	}

	response.RPC(c, http.StatusOK, result)
}

// DebitCredits is debit_workspace_credits. The debit is attributed to the
// caller; only platform admins may attribute it to someone else.
func (h *CreditHandler) DebitCredits(c *gin.Context) {
	var req credit.DebitCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}

	userID := middleware.MustGetUserID(c)
	if !h.authorize(c, h.access.CanView, req.WorkspaceID, userID) {
		return
	}
	if req.UserID == nil || !middleware.IsAdmin(c) {
		req.UserID = &userID
	}

	result, err := h.ledger.DebitCredits(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, "debit credits", req.WorkspaceID, err)
		return
	}

	response.RPC(c, http.StatusOK, result)
}

// CheckCredits is check_workspace_credits.
func (h *CreditHandler) CheckCredits(c *gin.Context) {
	var req credit.CheckCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}

	if !h.authorize(c, h.access.CanView, req.WorkspaceID, middleware.MustGetUserID(c)) {
		return
	}

	result, err := h.ledger.CheckCredits(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, "check credits", req.WorkspaceID, err)
		return
	}

	response.RPC(c, http.StatusOK, result)
}

// ========== Member Endpoints ==========

func (h *CreditHandler) GetBalance(c *gin.Context) {
	workspaceID, ok := workspaceParam(c)
	if !ok {
		return
	}
	if !h.authorize(c, h.access.CanView, workspaceID, middleware.MustGetUserID(c)) {
		return
	}

	balance, err := h.ledger.GetBalance(c.Request.Context(), workspaceID)
	if err != nil {
		h.fail(c, "get balance", workspaceID, err)
		return
	}

	response.Success(c, http.StatusOK, "balance retrieved", balance)
}

func (h *CreditHandler) ListTransactions(c *gin.Context) {
	workspaceID, ok := workspaceParam(c)
	if !ok {
		return
	}

	var filters credit.TransactionListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid query parameters", err)
		return
	}

	if !h.authorize(c, h.access.CanView, workspaceID, middleware.MustGetUserID(c)) {
		return
	}

	result, err := h.ledger.ListTransactions(c.Request.Context(), workspaceID, &filters)
	if err != nil {
		h.fail(c, "list transactions", workspaceID, err)
		return
	}

	response.Success(c, http.StatusOK, "transactions retrieved", result)
}

// ========== Admin Endpoints ==========

// SetCredits sets a workspace balance to an absolute value.
func (h *CreditHandler) SetCredits(c *gin.Context) {
	workspaceID, ok := workspaceParam(c)
	if !ok {
		return
	}

	var req credit.SetCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, "invalid request body", err)
		return
	}

	adminID := middleware.MustGetUserID(c)
	result, err := h.ledger.SetCredits(c.Request.Context(), workspaceID, &req, &adminID)
	if err != nil {
		h.fail(c, "set credits", workspaceID, err)
		return
	}

	h.logger.Info("workspace credits set by admin",
		zap.String("workspace_id", workspaceID.String()),
		zap.String("admin_id", adminID.String()),
		zap.String("target", req.TargetBalance.String()),
		zap.Bool("success", result.Success),
	)

	response.RPC(c, http.StatusOK, result)
}

// Audit replays the ledger of a workspace.
func (h *CreditHandler) Audit(c *gin.Context) {
	workspaceID, ok := workspaceParam(c)
	if !ok {
		return
	}

	report, err := h.ledger.VerifyLedger(c.Request.Context(), workspaceID)
	if err != nil {
		h.fail(c, "audit ledger", workspaceID, err)
		return
	}

	if !report.Consistent {
		h.logger.Warn("ledger audit found inconsistency",
			zap.String("workspace_id", workspaceID.String()),
			zap.Bool("totals_consistent", report.TotalsConsistent),
			zap.Bool("chain_consistent", report.ChainConsistent),
		)
	}

	response.Success(c, http.StatusOK, "ledger audited", report)
}

// ========== Helpers ==========

type accessFunc func(ctx context.Context, workspaceID, userID uuid.UUID, platformAdmin bool) (bool, error)

func (h *CreditHandler) authorize(c *gin.Context, check accessFunc, workspaceID, userID uuid.UUID) bool {
	allowed, err := check(c.Request.Context(), workspaceID, userID, middleware.IsAdmin(c))
	if err != nil {
		h.fail(c, "check access", workspaceID, err)
		return false
	}
	if !allowed {
		response.AppError(c, xerrors.Newf(xerrors.CodeUnauthorized, "user %s on workspace %s", userID, workspaceID))
		return false
	}
	return true
}

func (h *CreditHandler) fail(c *gin.Context, op string, workspaceID uuid.UUID, err error) {
	h.logger.Error("credit operation failed",
		zap.String("operation", op),
		zap.String("workspace_id", workspaceID.String()),
		zap.Error(err),
	)
	response.AppError(c, err)
}

func workspaceParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid workspace ID", err)
		return uuid.Nil, false
	}
	return id, true
}
