// internal/service/webhook/gateway.go
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"copydrive-service/internal/domain/subscription"
	"copydrive-service/internal/domain/webhook"
	"copydrive-service/internal/metrics"
	xerrors "copydrive-service/internal/pkg/errors"
	subscriptionsvc "copydrive-service/internal/service/subscription"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Header names consulted for the shared secret, in order.
const (
	HeaderSignature     = "x-ticto-signature"
	HeaderAuthorization = "authorization"
)

type LogRepository interface {
	Create(ctx context.Context, log *webhook.WebhookLog) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status webhook.LogStatus, errorMessage *string) error
	List(ctx context.Context, filters *webhook.LogListFilters) ([]webhook.WebhookLog, int64, error)
}

type IntegrationRepository interface {
	FindGatewayBySlug(ctx context.Context, slug string) (*webhook.Integration, *webhook.GatewayConfig, error)
}

type ProcessedEventRepository interface {
	FindProcessed(ctx context.Context, slug, externalEventID string) (*webhook.ProcessedEvent, error)
}

type Reconciler interface {
	HandleSubscriptionCreated(ctx context.Context, d *webhook.Delivery, gw *webhook.GatewayConfig) (*subscription.ReconcileResult, error)
	HandleSubscriptionCanceled(ctx context.Context, d *webhook.Delivery) (*subscription.ReconcileResult, error)
}

// InflightGuard keeps two copies of one delivery from running at once.
type InflightGuard interface {
	Acquire(ctx context.Context, slug, eventID string) bool
	Release(ctx context.Context, slug, eventID string)
}

// IngestOutcome is the HTTP answer for one delivery.
type IngestOutcome struct {
	StatusCode int
	Response   *webhook.Response
}

type Gateway struct {
	logs         LogRepository
	integrations IntegrationRepository
	processed    ProcessedEventRepository
	reconciler   Reconciler
	guard        InflightGuard
	logger       *zap.Logger
}

func NewGateway(
	logs LogRepository,
	integrations IntegrationRepository,
	processed ProcessedEventRepository,
	reconciler Reconciler,
	guard InflightGuard,
	logger *zap.Logger,
) *Gateway {
	if guard == nil {
		guard = noopGuard{}
	}
	return &Gateway{
		logs:         logs,
		integrations: integrations,
		processed:    processed,
		reconciler:   reconciler,
		guard:        guard,
		logger:       logger,
	}
}

// Ingest processes one provider delivery. It never returns an error: every
// failure is logged on the delivery's log row and answered with a 500 that
// carries only the public code.
func (g *Gateway) Ingest(ctx context.Context, slug string, body []byte, headers map[string]string) *IngestOutcome {
	start := time.Now()
	headers = normalizeHeaders(headers)
	env, _ := webhook.ParseEnvelope(body)

	data, dataErr := env.DecodeData()
	dataID := ""
	if data != nil {
		dataID = data.ID
	}
	eventID := webhook.ExternalEventID(env.Event, dataID, body)

	logID := g.openLog(ctx, slug, env.Event, eventID, body, headers)

	outcome := g.process(ctx, slug, env, data, dataErr, eventID, logID, headers)
	observe(env.Event, outcome, start)

	return outcome
}

// Reject records a delivery whose body could not be read in full. prefix is
// whatever was read before the failure. A test event recognised from the
// prefix is still acknowledged; anything else fails with invalid_payload.
func (g *Gateway) Reject(ctx context.Context, slug string, prefix []byte, headers map[string]string, cause error) *IngestOutcome {
	start := time.Now()
	headers = normalizeHeaders(headers)
	event := webhook.SniffEvent(prefix)
	eventID := webhook.ExternalEventID(event, "", prefix)

	logID := g.openLog(ctx, slug, event, eventID, prefix, headers)

	var outcome *IngestOutcome
	if webhook.IsTestEvent(event) {
		outcome = g.acknowledgeTest(ctx, logID, event)
	} else {
		outcome = g.fail(ctx, logID, slug, event, xerrors.New(xerrors.CodeInvalidPayload, cause))
	}
	observe(event, outcome, start)

	return outcome
}

func observe(event string, outcome *IngestOutcome, start time.Time) {
	status := "success"
	if outcome.StatusCode != http.StatusOK {
		status = "failed"
	} else if outcome.Response.Status == subscription.OutcomeDuplicate {
		status = subscription.OutcomeDuplicate
	}
	label := webhook.MetricLabel(event)
	metrics.WebhookRequestsTotal.WithLabelValues(label, status).Inc()
	metrics.WebhookDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

func (g *Gateway) acknowledgeTest(ctx context.Context, logID uuid.UUID, event string) *IngestOutcome {
	g.closeLog(ctx, logID, nil)
	return &IngestOutcome{
		StatusCode: http.StatusOK,
		Response: &webhook.Response{
			Success: true,
			Message: "Webhook de teste recebido com sucesso",
			Event:   event,
		},
	}
}

func (g *Gateway) process(
	ctx context.Context,
	slug string,
	env *webhook.Envelope,
	data *webhook.EventData,
	dataErr error,
	eventID string,
	logID uuid.UUID,
	headers map[string]string,
) *IngestOutcome {
	if webhook.IsTestEvent(env.Event) {
		return g.acknowledgeTest(ctx, logID, env.Event)
	}

	integration, gw, err := g.integrations.FindGatewayBySlug(ctx, slug)
	if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
		return g.fail(ctx, logID, slug, env.Event, fmt.Errorf("failed to load integration: %w", err))
	}
	if integration == nil || !integration.IsActive || gw == nil || !gw.IsActive {
		return g.fail(ctx, logID, slug, env.Event, xerrors.Newf(xerrors.CodeIntegrationNotConfigured, "integration %q is missing or inactive", slug))
	}

	if !ValidToken(gw.ValidationToken, presentedToken(headers)) {
		return g.fail(ctx, logID, slug, env.Event, xerrors.Newf(xerrors.CodeInvalidSignature, "validation token mismatch for %q", slug))
	}

	g.markLog(ctx, logID, webhook.LogStatusProcessing, nil)

	if dataErr != nil {
		return g.fail(ctx, logID, slug, env.Event, xerrors.Newf(xerrors.CodeInvalidPayload, "malformed data block: %v", dataErr))
	}

	if prior, ok := g.findProcessed(ctx, slug, eventID); ok {
		g.closeLog(ctx, logID, nil)
		return duplicate(prior)
	}

	if !g.guard.Acquire(ctx, slug, eventID) {
		return g.fail(ctx, logID, slug, env.Event, xerrors.Newf(xerrors.CodeDuplicateInFlight, "delivery %s is already being processed", eventID))
	}
	defer g.guard.Release(context.WithoutCancel(ctx), slug, eventID)

	d := &webhook.Delivery{
		Slug:            slug,
		ExternalEventID: eventID,
		Event:           env.Event,
		Data:            data,
	}

	result, err := g.dispatch(ctx, d, gw)
	if errors.Is(err, subscriptionsvc.ErrAlreadyProcessed) {
		prior, _ := g.findProcessed(ctx, slug, eventID)
		g.closeLog(ctx, logID, nil)
		return duplicate(prior)
	}
	if err != nil {
		return g.fail(ctx, logID, slug, env.Event, err)
	}

	g.closeLog(ctx, logID, nil)
	return &IngestOutcome{
		StatusCode: http.StatusOK,
		Response:   &webhook.Response{Success: true, Result: result},
	}
}

func (g *Gateway) dispatch(ctx context.Context, d *webhook.Delivery, gw *webhook.GatewayConfig) (*subscription.ReconcileResult, error) {
	switch d.Event {
	case webhook.EventPurchaseApproved, webhook.EventSubscriptionCreated:
		return g.reconciler.HandleSubscriptionCreated(ctx, d, gw)
	case webhook.EventSubscriptionCanceled, webhook.EventSubscriptionCancelled, webhook.EventCancelled:
		return g.reconciler.HandleSubscriptionCanceled(ctx, d)
	}

	g.logger.Info("ignoring unhandled webhook event",
		zap.String("slug", d.Slug),
		zap.String("event", d.Event),
	)
	return &subscription.ReconcileResult{Status: subscription.OutcomeIgnored}, nil
}

// TestConnection reports whether the integration can accept deliveries.
func (g *Gateway) TestConnection(ctx context.Context, slug string) (*webhook.ConnectionResult, error) {
	integration, gw, err := g.integrations.FindGatewayBySlug(ctx, slug)
	if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
		return nil, fmt.Errorf("failed to load integration: %w", err)
	}

	switch {
	case integration == nil:
		return &webhook.ConnectionResult{
			Success: false,
			Message: fmt.Sprintf("Integração %s não encontrada", slug),
			Error:   string(xerrors.CodeIntegrationNotConfigured),
		}, nil
	case !integration.IsActive || gw == nil || !gw.IsActive:
		return &webhook.ConnectionResult{
			Success: false,
			Message: fmt.Sprintf("Integração %s está inativa", integration.Name),
			Error:   string(xerrors.CodeIntegrationNotConfigured),
		}, nil
	case strings.TrimSpace(gw.ValidationToken) == "":
		return &webhook.ConnectionResult{
			Success: false,
			Message: "Token de validação não configurado",
			Error:   string(xerrors.CodeInvalidSignature),
		}, nil
	}

	return &webhook.ConnectionResult{
		Success: true,
		Message: fmt.Sprintf("Conexão com %s configurada corretamente", integration.Name),
	}, nil
}

// ListLogs returns a page of delivery logs, newest first.
func (g *Gateway) ListLogs(ctx context.Context, filters *webhook.LogListFilters) (*webhook.LogListResponse, error) {
	if filters.Page < 1 {
		filters.Page = 1
	}
	if filters.PageSize < 1 {
		filters.PageSize = 20
	}

	logs, total, err := g.logs.List(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook logs: %w", err)
	}

	return &webhook.LogListResponse{
		Logs:       logs,
		Total:      total,
		Page:       filters.Page,
		PageSize:   filters.PageSize,
		TotalPages: int(math.Ceil(float64(total) / float64(filters.PageSize))),
	}, nil
}

// ========== HELPERS ==========

// ValidToken compares the presented token with the stored one in constant
// time. An empty stored token never validates.
func ValidToken(expected, presented string) bool {
	if expected == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}

func presentedToken(headers map[string]string) string {
	token := strings.TrimSpace(headers[HeaderSignature])
	if token == "" {
		token = strings.TrimSpace(headers[HeaderAuthorization])
	}
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}

func normalizeHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[strings.ToLower(k)] = v
	}
	return out
}

// RedactHeaders masks secrets before headers are stored on the log row.
// Names are expected in lower case.
func RedactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		switch k {
		case HeaderSignature, HeaderAuthorization, "cookie":
			v = "[redacted]"
		}
		out[k] = v
	}
	return out
}

func (g *Gateway) openLog(ctx context.Context, slug, event, eventID string, body []byte, headers map[string]string) uuid.UUID {
	id := eventID
	log := &webhook.WebhookLog{
		IntegrationSlug: slug,
		EventType:       event,
		EventCategory:   webhook.Category(event),
		ExternalEventID: &id,
		Payload:         body,
		Headers:         RedactHeaders(headers),
		Status:          webhook.LogStatusReceived,
	}

	if err := g.logs.Create(ctx, log); err != nil {
		g.logger.Warn("failed to write webhook log, continuing",
			zap.String("slug", slug),
			zap.String("event", event),
			zap.Error(err),
		)
		return uuid.Nil
	}
	return log.ID
}

func (g *Gateway) markLog(ctx context.Context, id uuid.UUID, status webhook.LogStatus, message *string) {
	if id == uuid.Nil {
		return
	}
	// A delivery that hit its deadline must still record how it ended.
	if err := g.logs.UpdateStatus(context.WithoutCancel(ctx), id, status, message); err != nil {
		g.logger.Warn("failed to update webhook log",
			zap.String("log_id", id.String()),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
}

func (g *Gateway) closeLog(ctx context.Context, id uuid.UUID, cause error) {
	if cause == nil {
		g.markLog(ctx, id, webhook.LogStatusSuccess, nil)
		return
	}
	msg := cause.Error()
	g.markLog(ctx, id, webhook.LogStatusFailed, &msg)
}

func (g *Gateway) fail(ctx context.Context, logID uuid.UUID, slug, event string, cause error) *IngestOutcome {
	code := xerrors.CodeOf(cause)
	if errors.Is(cause, context.DeadlineExceeded) {
		cause = fmt.Errorf("webhook processing timed out: %w", cause)
	}

	g.logger.Error("webhook processing failed",
		zap.String("slug", slug),
		zap.String("event", event),
		zap.String("code", string(code)),
		zap.Error(cause),
	)
	g.closeLog(ctx, logID, cause)

	return &IngestOutcome{
		StatusCode: http.StatusInternalServerError,
		Response:   &webhook.Response{Success: false, Error: string(code)},
	}
}

func (g *Gateway) findProcessed(ctx context.Context, slug, eventID string) (*webhook.ProcessedEvent, bool) {
	if g.processed == nil {
		return nil, false
	}
	ev, err := g.processed.FindProcessed(ctx, slug, eventID)
	if err != nil {
		if !errors.Is(err, xerrors.ErrNotFound) {
			g.logger.Warn("failed to look up processed event",
				zap.String("slug", slug),
				zap.String("external_event_id", eventID),
				zap.Error(err),
			)
		}
		return nil, false
	}
	return ev, true
}

type noopGuard struct{}

func (noopGuard) Acquire(ctx context.Context, slug, eventID string) bool { return true }
func (noopGuard) Release(ctx context.Context, slug, eventID string)      {}

func duplicate(prior *webhook.ProcessedEvent) *IngestOutcome {
	result := &subscription.ReconcileResult{Status: subscription.OutcomeDuplicate}
	if prior != nil && len(prior.Result) > 0 {
		result.Original = json.RawMessage(prior.Result)
	}
	return &IngestOutcome{
		StatusCode: http.StatusOK,
		Response: &webhook.Response{
			Success: true,
			Status:  subscription.OutcomeDuplicate,
			Result:  result,
		},
	}
}
