// internal/repository/postgres/processed_event_repo.go
package postgres

import (
	"context"
	"errors"

	"copydrive-service/internal/domain/webhook"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProcessedEventRepository struct {
	db *pgxpool.Pool
}

func NewProcessedEventRepository(db *pgxpool.Pool) *ProcessedEventRepository {
	return &ProcessedEventRepository{db: db}
}

// RecordWithTx stores the idempotency key and result. It reports false when
// the key already exists, in which case nothing was written.
func (r *ProcessedEventRepository) RecordWithTx(ctx context.Context, tx pgx.Tx, ev *webhook.ProcessedEvent) (bool, error) {
	query := `
		INSERT INTO processed_webhook_events (integration_slug, external_event_id, event_type, result)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (integration_slug, external_event_id) DO NOTHING
		RETURNING created_at
	`

	err := tx.QueryRow(ctx, query, ev.IntegrationSlug, ev.ExternalEventID, ev.EventType, []byte(ev.Result)).Scan(&ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, mapError(err, "record processed event")
	}
	return true, nil
}

// FindProcessed returns the stored result of an already handled delivery.
func (r *ProcessedEventRepository) FindProcessed(ctx context.Context, slug, externalEventID string) (*webhook.ProcessedEvent, error) {
	query := `
		SELECT integration_slug, external_event_id, event_type, result, created_at
		FROM processed_webhook_events
		WHERE integration_slug = $1 AND external_event_id = $2
	`

	var ev webhook.ProcessedEvent
	var result []byte
	err := r.db.QueryRow(ctx, query, slug, externalEventID).Scan(
		&ev.IntegrationSlug, &ev.ExternalEventID, &ev.EventType, &result, &ev.CreatedAt,
	)
	if err != nil {
		return nil, mapError(err, "find processed event")
	}
	ev.Result = result
	return &ev, nil
}
