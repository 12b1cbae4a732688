package credit

// internal/domain/credit/entity.go

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
)

// WorkspaceCredits is the per-workspace balance row.
// balance = total_added - total_used holds after every mutation.
type WorkspaceCredits struct {
	WorkspaceID uuid.UUID       `json:"workspace_id" db:"workspace_id"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	TotalUsed   decimal.Decimal `json:"total_used" db:"total_used"`
	TotalAdded  decimal.Decimal `json:"total_added" db:"total_added"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Consistent reports whether the balance matches the running totals.
func (w *WorkspaceCredits) Consistent() bool {
	return w.Balance.Equal(w.TotalAdded.Sub(w.TotalUsed))
}

// CreditTransaction is an append-only ledger row. Amount is always positive,
// the direction is carried by TransactionType.
type CreditTransaction struct {
	ID              uuid.UUID              `json:"id" db:"id"`
	WorkspaceID     uuid.UUID              `json:"workspace_id" db:"workspace_id"`
	UserID          *uuid.UUID             `json:"user_id,omitempty" db:"user_id"`
	TransactionType TransactionType        `json:"transaction_type" db:"transaction_type"`
	Amount          decimal.Decimal        `json:"amount" db:"amount"`
	BalanceBefore   decimal.Decimal        `json:"balance_before" db:"balance_before"`
	BalanceAfter    decimal.Decimal        `json:"balance_after" db:"balance_after"`
	Description     string                 `json:"description" db:"description"`
	GenerationID    *string                `json:"generation_id,omitempty" db:"generation_id"`
	ModelName       *string                `json:"model_name,omitempty" db:"model_name"`
	TokensUsed      *int64                 `json:"tokens_used,omitempty" db:"tokens_used"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt       time.Time              `json:"created_at" db:"created_at"`
}

// Signed returns +amount for credits and -amount for debits.
func (t *CreditTransaction) Signed() decimal.Decimal {
	if t.TransactionType == TransactionDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}
