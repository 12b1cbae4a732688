package credit

// internal/domain/credit/dto.go

import (
	"time"

	xerrors "copydrive-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AddCreditsRequest is the add_workspace_credits RPC. Amount may be negative
// for admin removals.
type AddCreditsRequest struct {
	WorkspaceID uuid.UUID       `json:"workspace_id" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" binding:"max=500"`
}

// SetCreditsRequest is the admin "edit credits" form. The delta is computed
// server-side under the row lock.
type SetCreditsRequest struct {
	TargetBalance decimal.Decimal `json:"target_balance"`
	Description   string          `json:"description" binding:"max=500"`
}

type DebitCreditsRequest struct {
	WorkspaceID  uuid.UUID  `json:"workspace_id" binding:"required"`
	ModelName    string     `json:"model_name" binding:"required"`
	TokensUsed   int64      `json:"tokens_used" binding:"min=0"`
	InputTokens  int64      `json:"input_tokens" binding:"min=0"`
	OutputTokens int64      `json:"output_tokens" binding:"min=0"`
	GenerationID string     `json:"generation_id"`
	UserID       *uuid.UUID `json:"user_id"`
}

type CheckCreditsRequest struct {
	WorkspaceID     uuid.UUID `json:"workspace_id" binding:"required"`
	EstimatedTokens int64     `json:"estimated_tokens" binding:"min=0"`
	ModelName       string    `json:"model_name"`
}

// LedgerResult mirrors the add/debit RPC result object.
type LedgerResult struct {
	Success        bool             `json:"success"`
	Balance        *decimal.Decimal `json:"balance,omitempty"`
	CreditsCharged *decimal.Decimal `json:"credits_charged,omitempty"`
	TransactionID  *uuid.UUID       `json:"transaction_id,omitempty"`
	Duplicate      bool             `json:"duplicate,omitempty"`
	Error          xerrors.Code     `json:"error,omitempty"`
}

// LedgerFailure builds a failed result for code.
func LedgerFailure(code xerrors.Code) *LedgerResult {
	return &LedgerResult{Success: false, Error: code}
}

type CheckResult struct {
	HasSufficientCredits bool            `json:"has_sufficient_credits"`
	Balance              decimal.Decimal `json:"balance"`
	EstimatedCredits     decimal.Decimal `json:"estimated_credits"`
}

type TransactionListFilters struct {
	TransactionType *TransactionType `form:"transaction_type"`
	StartDate       *time.Time       `form:"start_date" time_format:"2006-01-02"`
	EndDate         *time.Time       `form:"end_date" time_format:"2006-01-02"`
	Page            int              `form:"page" binding:"omitempty,min=1"`
	PageSize        int              `form:"page_size" binding:"omitempty,min=1,max=100"`
}

type TransactionListResponse struct {
	Transactions []CreditTransaction `json:"transactions"`
	Total        int64               `json:"total"`
	Page         int                 `json:"page"`
	PageSize     int                 `json:"page_size"`
	TotalPages   int                 `json:"total_pages"`
}

// AuditReport is the result of replaying a workspace's ledger.
type AuditReport struct {
	WorkspaceID      uuid.UUID       `json:"workspace_id"`
	Balance          decimal.Decimal `json:"balance"`
	ReplayedBalance  decimal.Decimal `json:"replayed_balance"`
	TransactionCount int             `json:"transaction_count"`
	TotalsConsistent bool            `json:"totals_consistent"`
	ChainConsistent  bool            `json:"chain_consistent"`
	Consistent       bool            `json:"consistent"`
	FirstBrokenLink  *uuid.UUID      `json:"first_broken_link,omitempty"`
}
