// internal/handlers/webhook/webhook_handler.go
package webhook

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"copydrive-service/internal/domain/webhook"
	"copydrive-service/internal/middleware"
	xerrors "copydrive-service/internal/pkg/errors"
	"copydrive-service/internal/pkg/response"
	webhooksvc "copydrive-service/internal/service/webhook"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Gateway interface {
	Ingest(ctx context.Context, slug string, body []byte, headers map[string]string) *webhooksvc.IngestOutcome
	Reject(ctx context.Context, slug string, prefix []byte, headers map[string]string, cause error) *webhooksvc.IngestOutcome
	TestConnection(ctx context.Context, slug string) (*webhook.ConnectionResult, error)
	ListLogs(ctx context.Context, filters *webhook.LogListFilters) (*webhook.LogListResponse, error)
}

type WebhookHandler struct {
	gateway     Gateway
	timeout     time.Duration
	bodyLimit   int64
	defaultSlug string
	logger      *zap.Logger
}

func NewWebhookHandler(gateway Gateway, timeout time.Duration, bodyLimit int64, defaultSlug string, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		gateway:     gateway,
		timeout:     timeout,
		bodyLimit:   bodyLimit,
		defaultSlug: defaultSlug,
		logger:      logger,
	}
}

// ========== Provider Endpoints ==========

// Ready answers the provider's URL check.
func (h *WebhookHandler) Ready(c *gin.Context) {
	c.JSON(http.StatusOK, webhook.Response{
		Success:   true,
		Message:   "Webhook endpoint ativo",
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Receive ingests one delivery for the slug in the path, or the default
// slug on the legacy alias route.
func (h *WebhookHandler) Receive(c *gin.Context) {
	slug := strings.TrimSpace(c.Param("slug"))
	if slug == "" {
		slug = h.defaultSlug
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()
	headers := flattenHeaders(c.Request.Header)

	body, err := h.readBody(c)
	if err != nil {
		h.logger.Warn("failed to read webhook body",
			zap.String("slug", slug),
			zap.Int("read_bytes", len(body)),
			zap.Error(err),
		)
		outcome := h.gateway.Reject(ctx, slug, body, headers, err)
		c.JSON(outcome.StatusCode, outcome.Response)
		return
	}

	outcome := h.gateway.Ingest(ctx, slug, body, headers)
	c.JSON(outcome.StatusCode, outcome.Response)
}

// readBody reads at most bodyLimit bytes. A larger body is an error rather
// than a silently truncated payload; the bytes read so far are returned with
// the error.
func (h *WebhookHandler) readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	limit := h.bodyLimit
	if limit <= 0 {
		limit = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, limit+1))
	if err != nil {
		return body, fmt.Errorf("failed to read webhook body: %w", err)
	}
	if int64(len(body)) > limit {
		return body[:limit], fmt.Errorf("webhook body exceeds limit of %d bytes", limit)
	}
	return body, nil
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for k, v := range header {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// ========== RPC ==========

type testConnectionRequest struct {
	Slug string `json:"slug"`
}

// TestConnection is the test_ticto_connection RPC. It reveals integration
// setup, so only platform admins may call it.
func (h *WebhookHandler) TestConnection(c *gin.Context) {
	if !middleware.IsAdmin(c) {
		response.AppError(c, xerrors.Newf(xerrors.CodeUnauthorized, "connection test requires a platform admin"))
		return
	}

	var req testConnectionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, "invalid request body", err)
			return
		}
	}
	slug := strings.TrimSpace(req.Slug)
	if slug == "" {
		slug = h.defaultSlug
	}

	result, err := h.gateway.TestConnection(c.Request.Context(), slug)
	if err != nil {
		h.logger.Error("connection test failed", zap.String("slug", slug), zap.Error(err))
		response.RPC(c, http.StatusOK, &webhook.ConnectionResult{
			Success: false,
			Message: xerrors.CodeUnknown.Message(),
			Error:   string(xerrors.CodeUnknown),
		})
		return
	}

	response.RPC(c, http.StatusOK, result)
}

// ========== Admin Endpoints ==========

// ListLogs pages through stored deliveries.
func (h *WebhookHandler) ListLogs(c *gin.Context) {
	var filters webhook.LogListFilters
	if err := c.ShouldBindQuery(&filters); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid query parameters", err)
		return
	}

	result, err := h.gateway.ListLogs(c.Request.Context(), &filters)
	if err != nil {
		h.logger.Error("failed to list webhook logs", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, "failed to list webhook logs", nil)
		return
	}

	response.Success(c, http.StatusOK, "webhook logs retrieved", result)
}
