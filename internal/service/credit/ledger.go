// internal/service/credit/ledger.go
package credit

import (
	"context"
	"errors"
	"fmt"
	"math"

	"copydrive-service/internal/domain/credit"
	"copydrive-service/internal/metrics"
	"copydrive-service/internal/pkg/credits"
	xerrors "copydrive-service/internal/pkg/errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Repository is the persistence the ledger needs.
type Repository interface {
	LockWithTx(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID) (*credit.WorkspaceCredits, error)
	UpdateBalanceWithTx(ctx context.Context, tx pgx.Tx, wc *credit.WorkspaceCredits) error
	CreateTransactionWithTx(ctx context.Context, tx pgx.Tx, t *credit.CreditTransaction) error
	FindDebitByGenerationWithTx(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID, generationID string) (*credit.CreditTransaction, error)
	FindByWorkspace(ctx context.Context, workspaceID uuid.UUID) (*credit.WorkspaceCredits, error)
	ListTransactions(ctx context.Context, workspaceID uuid.UUID, filters *credit.TransactionListFilters) ([]credit.CreditTransaction, int64, error)
	ListTransactionsChronological(ctx context.Context, workspaceID uuid.UUID) ([]credit.CreditTransaction, error)
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// BalanceNotifier is told about committed balance changes.
type BalanceNotifier interface {
	BalanceChanged(ctx context.Context, workspaceID uuid.UUID, balance, delta decimal.Decimal)
}

// AddInput is a signed credit adjustment.
type AddInput struct {
	WorkspaceID uuid.UUID
	Amount      decimal.Decimal
	Description string
	UserID      *uuid.UUID
	Metadata    map[string]interface{}
}

type Ledger struct {
	repo     Repository
	db       TxRunner
	notifier BalanceNotifier
	logger   *zap.Logger
}

func NewLedger(repo Repository, db TxRunner, notifier BalanceNotifier, logger *zap.Logger) *Ledger {
	return &Ledger{
		repo:     repo,
		db:       db,
		notifier: notifier,
		logger:   logger,
	}
}

// ========== ADD / SET ==========

// AddCredits applies a signed adjustment. Positive amounts credit, negative
// amounts debit, zero is a no-op.
func (l *Ledger) AddCredits(ctx context.Context, req *credit.AddCreditsRequest, userID *uuid.UUID) (*credit.LedgerResult, error) {
	in := AddInput{
		WorkspaceID: req.WorkspaceID,
		Amount:      req.Amount,
		Description: req.Description,
		UserID:      userID,
	}

	var result *credit.LedgerResult
	err := l.db.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		result, err = l.AddCreditsWithTx(ctx, tx, in)
		if err != nil {
			return err
		}
		if !result.Success {
			return errRollback
		}
		return nil
	})
	if err != nil && !errors.Is(err, errRollback) {
		metrics.LedgerMutationsTotal.WithLabelValues("add", "error").Inc()
		return nil, err
	}

	l.observe("add", result)
	if result.Success && !req.Amount.IsZero() {
		l.notify(ctx, req.WorkspaceID, result.Balance, req.Amount)
	}

	return result, nil
}

// AddCreditsWithTx is AddCredits inside a caller-owned transaction. A failed
// result leaves nothing written; the caller decides whether to roll back.
func (l *Ledger) AddCreditsWithTx(ctx context.Context, tx pgx.Tx, in AddInput) (*credit.LedgerResult, error) {
	if !validAmount(in.Amount) {
		return credit.LedgerFailure(xerrors.CodeInvalidAmount), nil
	}

	wc, err := l.repo.LockWithTx(ctx, tx, in.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock credits: %w", err)
	}

	return l.applyWithTx(ctx, tx, wc, in)
}

// SetCredits sets the balance to an absolute target. The delta is computed
// under the row lock and applied through the same path as AddCredits.
func (l *Ledger) SetCredits(ctx context.Context, workspaceID uuid.UUID, req *credit.SetCreditsRequest, adminID *uuid.UUID) (*credit.LedgerResult, error) {
	if req.TargetBalance.IsNegative() || !validAmount(req.TargetBalance) {
		return credit.LedgerFailure(xerrors.CodeInvalidAmount), nil
	}

	var (
		result *credit.LedgerResult
		delta  decimal.Decimal
	)
	err := l.db.WithTx(ctx, func(tx pgx.Tx) error {
		wc, err := l.repo.LockWithTx(ctx, tx, workspaceID)
		if err != nil {
			return fmt.Errorf("failed to lock credits: %w", err)
		}

		delta = req.TargetBalance.Sub(wc.Balance)
		description := req.Description
		if description == "" {
			description = fmt.Sprintf("Ajuste administrativo para %s créditos", req.TargetBalance.StringFixed(credits.Precision))
		}

		result, err = l.applyWithTx(ctx, tx, wc, AddInput{
			WorkspaceID: workspaceID,
			Amount:      delta,
			Description: description,
			UserID:      adminID,
			Metadata: map[string]interface{}{
				"source":         "admin_set",
				"target_balance": req.TargetBalance.String(),
			},
		})
		if err != nil {
			return err
		}
		if !result.Success {
			return errRollback
		}
		return nil
	})
	if err != nil && !errors.Is(err, errRollback) {
		metrics.LedgerMutationsTotal.WithLabelValues("set", "error").Inc()
		return nil, err
	}

	l.observe("set", result)
	if result.Success && !delta.IsZero() {
		l.notify(ctx, workspaceID, result.Balance, delta)
	}

	return result, nil
}

// applyWithTx mutates an already locked balance row and appends exactly one
// ledger row.
func (l *Ledger) applyWithTx(ctx context.Context, tx pgx.Tx, wc *credit.WorkspaceCredits, in AddInput) (*credit.LedgerResult, error) {
	if in.Amount.IsZero() {
		balance := wc.Balance
		return &credit.LedgerResult{Success: true, Balance: &balance}, nil
	}

	before := wc.Balance
	t := &credit.CreditTransaction{
		WorkspaceID:   in.WorkspaceID,
		UserID:        in.UserID,
		Amount:        in.Amount.Abs(),
		BalanceBefore: before,
		Description:   in.Description,
		Metadata:      in.Metadata,
	}

	if in.Amount.IsPositive() {
		t.TransactionType = credit.TransactionCredit
		wc.Balance = wc.Balance.Add(t.Amount)
		wc.TotalAdded = wc.TotalAdded.Add(t.Amount)
	} else {
		if t.Amount.GreaterThan(wc.Balance) {
			res := credit.LedgerFailure(xerrors.CodeInsufficientCredits)
			res.Balance = &before
			return res, nil
		}
		t.TransactionType = credit.TransactionDebit
		wc.Balance = wc.Balance.Sub(t.Amount)
		wc.TotalUsed = wc.TotalUsed.Add(t.Amount)
	}
	t.BalanceAfter = wc.Balance

	if err := l.repo.UpdateBalanceWithTx(ctx, tx, wc); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	if err := l.repo.CreateTransactionWithTx(ctx, tx, t); err != nil {
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	l.logger.Info("credits adjusted",
		zap.String("workspace_id", in.WorkspaceID.String()),
		zap.String("type", string(t.TransactionType)),
		zap.String("amount", t.Amount.String()),
		zap.String("balance", wc.Balance.String()),
	)

	balance := wc.Balance
	id := t.ID
	return &credit.LedgerResult{Success: true, Balance: &balance, TransactionID: &id}, nil
}

// ========== DEBIT / CHECK ==========

// DebitCredits charges AI usage. A replayed generation id returns the
// original charge without writing again.
func (l *Ledger) DebitCredits(ctx context.Context, req *credit.DebitCreditsRequest) (*credit.LedgerResult, error) {
	tokens := req.TokensUsed
	if tokens == 0 {
		tokens = req.InputTokens + req.OutputTokens
	}
	if tokens < 0 || req.InputTokens < 0 || req.OutputTokens < 0 {
		return credit.LedgerFailure(xerrors.CodeInvalidAmount), nil
	}

	charge := credits.FromTokens(req.ModelName, tokens)
	tpc, known := credits.TokensPerCredit(req.ModelName)
	if !known {
		l.logger.Warn("unknown model, using default tokens per credit",
			zap.String("model", req.ModelName),
			zap.Int64("tokens_per_credit", tpc),
		)
	}

	var result *credit.LedgerResult
	err := l.db.WithTx(ctx, func(tx pgx.Tx) error {
		wc, err := l.repo.LockWithTx(ctx, tx, req.WorkspaceID)
		if err != nil {
			return fmt.Errorf("failed to lock credits: %w", err)
		}

		if req.GenerationID != "" {
			prev, err := l.repo.FindDebitByGenerationWithTx(ctx, tx, req.WorkspaceID, req.GenerationID)
			if err == nil {
				balance, charged, id := prev.BalanceAfter, prev.Amount, prev.ID
				result = &credit.LedgerResult{
					Success:        true,
					Balance:        &balance,
					CreditsCharged: &charged,
					TransactionID:  &id,
					Duplicate:      true,
				}
				return errRollback
			}
			if !xerrors.Is(err, xerrors.ErrNotFound) {
				return fmt.Errorf("failed to check generation: %w", err)
			}
		}

		if charge.IsZero() {
			balance, zero := wc.Balance, decimal.Zero
			result = &credit.LedgerResult{Success: true, Balance: &balance, CreditsCharged: &zero}
			return errRollback
		}

		if charge.GreaterThan(wc.Balance) {
			balance := wc.Balance
			result = credit.LedgerFailure(xerrors.CodeInsufficientCredits)
			result.Balance = &balance
			result.CreditsCharged = &charge
			return errRollback
		}

		before := wc.Balance
		wc.Balance = wc.Balance.Sub(charge)
		wc.TotalUsed = wc.TotalUsed.Add(charge)

		if err := l.repo.UpdateBalanceWithTx(ctx, tx, wc); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		model := req.ModelName
		t := &credit.CreditTransaction{
			WorkspaceID:     req.WorkspaceID,
			UserID:          req.UserID,
			TransactionType: credit.TransactionDebit,
			Amount:          charge,
			BalanceBefore:   before,
			BalanceAfter:    wc.Balance,
			Description:     fmt.Sprintf("Geração com %s (%d tokens)", model, tokens),
			ModelName:       &model,
			TokensUsed:      &tokens,
			Metadata: map[string]interface{}{
				"input_tokens":      req.InputTokens,
				"output_tokens":     req.OutputTokens,
				"tokens_per_credit": tpc,
			},
		}
		if req.GenerationID != "" {
			gen := req.GenerationID
			t.GenerationID = &gen
		}

		if err := l.repo.CreateTransactionWithTx(ctx, tx, t); err != nil {
			return fmt.Errorf("failed to record debit: %w", err)
		}

		balance, id := wc.Balance, t.ID
		result = &credit.LedgerResult{
			Success:        true,
			Balance:        &balance,
			CreditsCharged: &charge,
			TransactionID:  &id,
		}
		return nil
	})
	if err != nil && !errors.Is(err, errRollback) {
		metrics.LedgerMutationsTotal.WithLabelValues("debit", "error").Inc()
		return nil, err
	}

	l.observe("debit", result)
	if result.Success && !result.Duplicate && result.TransactionID != nil {
		metrics.CreditsDebited.WithLabelValues(credits.ModelLabel(req.ModelName)).Add(charge.InexactFloat64())
		l.notify(ctx, req.WorkspaceID, result.Balance, charge.Neg())
	}

	return result, nil
}

// CheckCredits estimates the charge for a generation without reserving it.
func (l *Ledger) CheckCredits(ctx context.Context, req *credit.CheckCreditsRequest) (*credit.CheckResult, error) {
	wc, err := l.GetBalance(ctx, req.WorkspaceID)
	if err != nil {
		return nil, err
	}

	estimated := credits.FromTokens(req.ModelName, req.EstimatedTokens)
	return &credit.CheckResult{
		HasSufficientCredits: wc.Balance.GreaterThanOrEqual(estimated),
		Balance:              wc.Balance,
		EstimatedCredits:     estimated,
	}, nil
}

// ========== READS ==========

// GetBalance returns the balance row, or an empty one for workspaces that
// never had credits.
func (l *Ledger) GetBalance(ctx context.Context, workspaceID uuid.UUID) (*credit.WorkspaceCredits, error) {
	wc, err := l.repo.FindByWorkspace(ctx, workspaceID)
	if xerrors.Is(err, xerrors.ErrNotFound) {
		return &credit.WorkspaceCredits{WorkspaceID: workspaceID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return wc, nil
}

func (l *Ledger) ListTransactions(ctx context.Context, workspaceID uuid.UUID, filters *credit.TransactionListFilters) (*credit.TransactionListResponse, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PageSize < 1 {
		filters.PageSize = 20
	}

	txs, total, err := l.repo.ListTransactions(ctx, workspaceID, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return &credit.TransactionListResponse{
		Transactions: txs,
		Total:        total,
		Page:         filters.Page,
		PageSize:     filters.PageSize,
		TotalPages:   int(math.Ceil(float64(total) / float64(filters.PageSize))),
	}, nil
}

// VerifyLedger replays the workspace's transactions in order and compares
// the result against the stored balance and totals.
func (l *Ledger) VerifyLedger(ctx context.Context, workspaceID uuid.UUID) (*credit.AuditReport, error) {
	wc, err := l.GetBalance(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	txs, err := l.repo.ListTransactionsChronological(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	report := &credit.AuditReport{
		WorkspaceID:      workspaceID,
		Balance:          wc.Balance,
		TransactionCount: len(txs),
		TotalsConsistent: wc.Consistent(),
		ChainConsistent:  true,
	}

	running := decimal.Zero
	for i := range txs {
		t := &txs[i]
		linked := t.BalanceBefore.Equal(running) && t.BalanceAfter.Equal(t.BalanceBefore.Add(t.Signed()))
		if !linked && report.ChainConsistent {
			report.ChainConsistent = false
			id := t.ID
			report.FirstBrokenLink = &id
		}
		running = running.Add(t.Signed())
	}

	report.ReplayedBalance = running
	report.Consistent = report.TotalsConsistent && report.ChainConsistent && running.Equal(wc.Balance)

	if !report.Consistent {
		l.logger.Warn("ledger mismatch",
			zap.String("workspace_id", workspaceID.String()),
			zap.String("balance", wc.Balance.String()),
			zap.String("replayed", running.String()),
		)
	}

	return report, nil
}

// ========== HELPERS ==========

// errRollback aborts a transaction whose result is already decided.
var errRollback = errors.New("rollback")

func validAmount(d decimal.Decimal) bool {
	return d.Equal(d.Round(credits.Precision))
}

func (l *Ledger) observe(op string, result *credit.LedgerResult) {
	status := "success"
	if !result.Success {
		status = string(result.Error)
	}
	metrics.LedgerMutationsTotal.WithLabelValues(op, status).Inc()
}

func (l *Ledger) notify(ctx context.Context, workspaceID uuid.UUID, balance *decimal.Decimal, delta decimal.Decimal) {
	if l.notifier == nil || balance == nil {
		return
	}
	l.notifier.BalanceChanged(ctx, workspaceID, *balance, delta)
}
