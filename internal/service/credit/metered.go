// internal/service/credit/metered.go
package credit

import (
	"context"
	"fmt"

	"copydrive-service/internal/domain/credit"
	xerrors "copydrive-service/internal/pkg/errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Usage is what a generation reports back after it ran.
type Usage struct {
	ModelName    string
	InputTokens  int64
	OutputTokens int64
	GenerationID string
}

// GenerateFunc performs the billable work.
type GenerateFunc func(ctx context.Context) (*Usage, error)

type MeteredRequest struct {
	WorkspaceID     uuid.UUID
	UserID          *uuid.UUID
	ModelName       string
	EstimatedTokens int64
}

type MeteredResult struct {
	Check  *credit.CheckResult
	Debit  *credit.LedgerResult
	Usage  *Usage
	Denied bool
}

// Metered gates AI generation on the ledger: it refuses to call the
// generator when the estimate does not fit the balance and debits the real
// usage afterwards.
type Metered struct {
	ledger *Ledger
	logger *zap.Logger
}

func NewMetered(ledger *Ledger, logger *zap.Logger) *Metered {
	return &Metered{ledger: ledger, logger: logger}
}

func (m *Metered) Run(ctx context.Context, req MeteredRequest, generate GenerateFunc) (*MeteredResult, error) {
	check, err := m.ledger.CheckCredits(ctx, &credit.CheckCreditsRequest{
		WorkspaceID:     req.WorkspaceID,
		EstimatedTokens: req.EstimatedTokens,
		ModelName:       req.ModelName,
	})
	if err != nil {
		return nil, err
	}

	if !check.HasSufficientCredits {
		return &MeteredResult{Check: check, Denied: true}, xerrors.New(xerrors.CodeInsufficientCredits, nil)
	}

	usage, err := generate(ctx)
	if err != nil {
		return &MeteredResult{Check: check}, fmt.Errorf("generation failed: %w", err)
	}

	model := usage.ModelName
	if model == "" {
		model = req.ModelName
	}

	debit, err := m.ledger.DebitCredits(ctx, &credit.DebitCreditsRequest{
		WorkspaceID:  req.WorkspaceID,
		ModelName:    model,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		GenerationID: usage.GenerationID,
		UserID:       req.UserID,
	})
	if err != nil {
		return nil, err
	}

	if !debit.Success {
		// The estimate passed but the actual usage did not fit.
		m.logger.Warn("generation ran but debit was refused",
			zap.String("workspace_id", req.WorkspaceID.String()),
			zap.String("generation_id", usage.GenerationID),
			zap.String("error", string(debit.Error)),
		)
	}

	return &MeteredResult{Check: check, Debit: debit, Usage: usage}, nil
}
