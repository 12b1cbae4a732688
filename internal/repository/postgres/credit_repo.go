// internal/repository/postgres/credit_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"copydrive-service/internal/domain/credit"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type CreditRepository struct {
	db *pgxpool.Pool
}

func NewCreditRepository(db *pgxpool.Pool) *CreditRepository {
	return &CreditRepository{db: db}
}

const transactionColumns = `
	id, workspace_id, user_id, transaction_type, amount, balance_before, balance_after,
	description, generation_id, model_name, tokens_used, metadata, created_at`

// LockWithTx returns the balance row locked for update, creating an empty
// one first if the workspace never had credits.
func (r *CreditRepository) LockWithTx(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID) (*credit.WorkspaceCredits, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO workspace_credits (workspace_id) VALUES ($1)
		ON CONFLICT (workspace_id) DO NOTHING
	`, workspaceID)
	if err != nil {
		return nil, mapError(err, "ensure workspace credits")
	}

	query := `
		SELECT workspace_id, balance, total_used, total_added, updated_at
		FROM workspace_credits
		WHERE workspace_id = $1
		FOR UPDATE
	`

	var wc credit.WorkspaceCredits
	err = tx.QueryRow(ctx, query, workspaceID).Scan(
		&wc.WorkspaceID, &wc.Balance, &wc.TotalUsed, &wc.TotalAdded, &wc.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err, "lock workspace credits")
	}

	return &wc, nil
}

// UpdateBalanceWithTx writes the balance and running totals.
func (r *CreditRepository) UpdateBalanceWithTx(ctx context.Context, tx pgx.Tx, wc *credit.WorkspaceCredits) error {
	query := `
		UPDATE workspace_credits
		SET balance = $2, total_used = $3, total_added = $4, updated_at = NOW()
		WHERE workspace_id = $1
		RETURNING updated_at
	`

	err := tx.QueryRow(ctx, query, wc.WorkspaceID, wc.Balance, wc.TotalUsed, wc.TotalAdded).Scan(&wc.UpdatedAt)
	if err != nil {
		return mapError(err, "update workspace credits")
	}
	return nil
}

// CreateTransactionWithTx appends a ledger row.
func (r *CreditRepository) CreateTransactionWithTx(ctx context.Context, tx pgx.Tx, t *credit.CreditTransaction) error {
	query := `
		INSERT INTO credit_transactions (
			workspace_id, user_id, transaction_type, amount, balance_before, balance_after,
			description, generation_id, model_name, tokens_used, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at
	`

	var metadataJSON []byte
	if t.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	err := tx.QueryRow(
		ctx, query,
		t.WorkspaceID, t.UserID, t.TransactionType, t.Amount, t.BalanceBefore, t.BalanceAfter,
		t.Description, t.GenerationID, t.ModelName, t.TokensUsed, metadataJSON,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return mapError(err, "create credit transaction")
	}

	return nil
}

// FindDebitByGenerationWithTx looks up the debit recorded for a generation.
func (r *CreditRepository) FindDebitByGenerationWithTx(ctx context.Context, tx pgx.Tx, workspaceID uuid.UUID, generationID string) (*credit.CreditTransaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM credit_transactions
		WHERE workspace_id = $1 AND generation_id = $2
	`
	return scanTransaction(tx.QueryRow(ctx, query, workspaceID, generationID))
}

// FindByWorkspace returns the balance row without locking.
func (r *CreditRepository) FindByWorkspace(ctx context.Context, workspaceID uuid.UUID) (*credit.WorkspaceCredits, error) {
	query := `
		SELECT workspace_id, balance, total_used, total_added, updated_at
		FROM workspace_credits
		WHERE workspace_id = $1
	`

	var wc credit.WorkspaceCredits
	err := r.db.QueryRow(ctx, query, workspaceID).Scan(
		&wc.WorkspaceID, &wc.Balance, &wc.TotalUsed, &wc.TotalAdded, &wc.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err, "find workspace credits")
	}
	return &wc, nil
}

// ListTransactions returns a page of ledger rows, newest first.
func (r *CreditRepository) ListTransactions(ctx context.Context, workspaceID uuid.UUID, filters *credit.TransactionListFilters) ([]credit.CreditTransaction, int64, error) {
	conditions := []string{"workspace_id = $1"}
	args := []interface{}{workspaceID}
	argPos := 2

	if filters.TransactionType != nil {
		conditions = append(conditions, fmt.Sprintf("transaction_type = $%d", argPos))
		args = append(args, *filters.TransactionType)
		argPos++
	}

	if filters.StartDate != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argPos))
		args = append(args, *filters.StartDate)
		argPos++
	}

	if filters.EndDate != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argPos))
		args = append(args, filters.EndDate.AddDate(0, 0, 1))
		argPos++
	}

	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM credit_transactions WHERE %s", whereClause)
	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count credit transactions: %w", err)
	}

	limit, offset := pageBounds(filters.Page, filters.PageSize)

	query := fmt.Sprintf(`
		SELECT %s
		FROM credit_transactions
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, transactionColumns, whereClause, argPos, argPos+1)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list credit transactions: %w", err)
	}
	defer rows.Close()

	txs, err := collectTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

// ListTransactionsChronological returns the full ledger oldest first, for replay.
func (r *CreditRepository) ListTransactionsChronological(ctx context.Context, workspaceID uuid.UUID) ([]credit.CreditTransaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM credit_transactions
		WHERE workspace_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list credit transactions: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]credit.CreditTransaction, error) {
	txs := []credit.CreditTransaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate credit transactions: %w", err)
	}
	return txs, nil
}

func scanTransaction(row pgx.Row) (*credit.CreditTransaction, error) {
	var t credit.CreditTransaction
	var metadataJSON []byte

	err := row.Scan(
		&t.ID, &t.WorkspaceID, &t.UserID, &t.TransactionType, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
		&t.Description, &t.GenerationID, &t.ModelName, &t.TokensUsed, &metadataJSON, &t.CreatedAt,
	)
	if err != nil {
		return nil, mapError(err, "scan credit transaction")
	}

	if err := decodeMetadata(metadataJSON, &t.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata of transaction %s: %w", t.ID, err)
	}
	return &t, nil
}

func decodeMetadata(raw []byte, dst *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
