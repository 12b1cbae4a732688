// internal/repository/postgres/integration_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"copydrive-service/internal/domain/webhook"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type IntegrationRepository struct {
	db *pgxpool.Pool
}

func NewIntegrationRepository(db *pgxpool.Pool) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

// FindGatewayBySlug loads the integration and its payment gateway config.
// The gateway is nil when the integration has none configured.
func (r *IntegrationRepository) FindGatewayBySlug(ctx context.Context, slug string) (*webhook.Integration, *webhook.GatewayConfig, error) {
	query := `
		SELECT i.id, i.slug, i.name, i.is_active,
		       g.id, g.is_active, g.config
		FROM integrations i
		LEFT JOIN LATERAL (
			SELECT id, is_active, config
			FROM payment_gateways
			WHERE integration_id = i.id
			ORDER BY is_active DESC, updated_at DESC
			LIMIT 1
		) g ON TRUE
		WHERE i.slug = $1
	`

	var in webhook.Integration
	var gatewayID *uuid.UUID
	var gatewayActive *bool
	var configJSON []byte

	err := r.db.QueryRow(ctx, query, slug).Scan(
		&in.ID, &in.Slug, &in.Name, &in.IsActive,
		&gatewayID, &gatewayActive, &configJSON,
	)
	if err != nil {
		return nil, nil, mapError(err, "find integration")
	}

	if gatewayID == nil {
		return &in, nil, nil
	}

	gw := &webhook.GatewayConfig{
		ID:            *gatewayID,
		IntegrationID: in.ID,
		IsActive:      gatewayActive != nil && *gatewayActive,
	}
	if err := decodeGatewayConfig(configJSON, gw); err != nil {
		return nil, nil, err
	}

	return &in, gw, nil
}

// gatewayConfigJSON is the shape of payment_gateways.config. Only these keys
// are read; row columns such as id and is_active cannot be set from it.
type gatewayConfigJSON struct {
	ValidationToken string            `json:"validation_token"`
	OfferMappings   map[string]string `json:"offer_mappings"`
}

func decodeGatewayConfig(raw []byte, gw *webhook.GatewayConfig) error {
	if len(raw) == 0 {
		return nil
	}
	var cfg gatewayConfigJSON
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("failed to decode gateway config: %w", err)
	}
	gw.ValidationToken = cfg.ValidationToken
	gw.OfferMappings = cfg.OfferMappings
	return nil
}
