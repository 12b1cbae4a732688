// internal/repository/postgres/webhook_log_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"copydrive-service/internal/domain/webhook"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WebhookLogRepository struct {
	db *pgxpool.Pool
}

func NewWebhookLogRepository(db *pgxpool.Pool) *WebhookLogRepository {
	return &WebhookLogRepository{db: db}
}

// Create writes the initial received row.
func (r *WebhookLogRepository) Create(ctx context.Context, log *webhook.WebhookLog) error {
	query := `
		INSERT INTO webhook_logs (
			integration_slug, event_type, event_category, external_event_id,
			payload, headers, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	headersJSON, err := json.Marshal(log.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	// Bodies that are not valid JSON are stored as a JSON string.
	payload := []byte(log.Payload)
	if len(payload) == 0 {
		payload = nil
	} else if !json.Valid(payload) {
		payload, _ = json.Marshal(string(log.Payload))
	}

	err = r.db.QueryRow(
		ctx, query,
		log.IntegrationSlug, log.EventType, log.EventCategory, log.ExternalEventID,
		payload, headersJSON, log.Status,
	).Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		return mapError(err, "create webhook log")
	}

	return nil
}

// UpdateStatus moves the log along its state machine. processed_at is set on
// terminal states.
func (r *WebhookLogRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status webhook.LogStatus, errorMessage *string) error {
	query := `
		UPDATE webhook_logs
		SET status = $2,
		    error_message = $3,
		    processed_at = CASE WHEN $2 IN ('success', 'failed') THEN NOW() ELSE processed_at END
		WHERE id = $1
	`

	if _, err := r.db.Exec(ctx, query, id, string(status), errorMessage); err != nil {
		return mapError(err, "update webhook log")
	}
	return nil
}

// List returns logs newest first.
func (r *WebhookLogRepository) List(ctx context.Context, filters *webhook.LogListFilters) ([]webhook.WebhookLog, int64, error) {
	conditions := []string{"1=1"}
	args := []interface{}{}
	argPos := 1

	if filters.IntegrationSlug != "" {
		conditions = append(conditions, fmt.Sprintf("integration_slug = $%d", argPos))
		args = append(args, filters.IntegrationSlug)
		argPos++
	}

	if filters.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(*filters.Status))
		argPos++
	}

	if filters.EventType != "" {
		conditions = append(conditions, fmt.Sprintf("event_type = $%d", argPos))
		args = append(args, filters.EventType)
		argPos++
	}

	whereClause := strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM webhook_logs WHERE %s", whereClause)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count webhook logs: %w", err)
	}

	limit, offset := pageBounds(filters.Page, filters.PageSize)

	query := fmt.Sprintf(`
		SELECT id, integration_slug, event_type, event_category, external_event_id,
		       payload, headers, status, error_message, processed_at, created_at
		FROM webhook_logs
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argPos, argPos+1)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list webhook logs: %w", err)
	}
	defer rows.Close()

	logs := []webhook.WebhookLog{}
	for rows.Next() {
		var l webhook.WebhookLog
		var payload, headersJSON []byte

		err := rows.Scan(
			&l.ID, &l.IntegrationSlug, &l.EventType, &l.EventCategory, &l.ExternalEventID,
			&payload, &headersJSON, &l.Status, &l.ErrorMessage, &l.ProcessedAt, &l.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan webhook log: %w", err)
		}

		l.Payload = payload
		if len(headersJSON) > 0 {
			json.Unmarshal(headersJSON, &l.Headers)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate webhook logs: %w", err)
	}

	return logs, total, nil
}
