// internal/app/router.go
package app

import (
	creditHandler "copydrive-service/internal/handlers/credit"
	healthHandler "copydrive-service/internal/handlers/health"
	planHandler "copydrive-service/internal/handlers/plan"
	webhookHandler "copydrive-service/internal/handlers/webhook"
	wsHandler "copydrive-service/internal/handlers/websocket"
	"copydrive-service/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Limits struct {
	WebhookPerMinute int64
	RPCPerMinute     int64
}

type Handlers struct {
	WebhookHandler *webhookHandler.WebhookHandler
	CreditHandler  *creditHandler.CreditHandler
	PlanHandler    *planHandler.PlanHandler
	WSHandler      *wsHandler.WebSocketHandler
	HealthHandler  *healthHandler.HealthHandler
	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    middleware.Limiter
	Limits         Limits
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	// ==================== Metrics ====================
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ==================== WebSocket ====================
	r.GET("/ws", h.WSHandler.HandleConnection)

	// ==================== Provider Webhooks ====================
	webhookLimit := middleware.RateLimit(h.RateLimiter, "webhook", h.Limits.WebhookPerMinute, logger)
	webhooks := r.Group("/webhooks")
	{
		webhooks.GET("/:slug", h.WebhookHandler.Ready)
		webhooks.POST("/:slug", webhookLimit, h.WebhookHandler.Receive)
	}
	// Legacy URL registered with the provider before slugs existed
	r.GET("/webhook-ticto", h.WebhookHandler.Ready)
	r.POST("/webhook-ticto", webhookLimit, h.WebhookHandler.Receive)

	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", h.HealthHandler.Health)

	// ==================== Plans ====================
	api.GET("/plans", h.PlanHandler.ListPlans)

	// ==================== RPC ====================
	rpc := api.Group("/rpc")
	rpc.Use(h.AuthMiddleware.Auth(), middleware.RateLimit(h.RateLimiter, "rpc", h.Limits.RPCPerMinute, logger))
	{
		rpc.POST("/add_workspace_credits", h.CreditHandler.AddCredits)
		rpc.POST("/debit_workspace_credits", h.CreditHandler.DebitCredits)
		rpc.POST("/check_workspace_credits", h.CreditHandler.CheckCredits)
		rpc.POST("/change_workspace_plan", h.PlanHandler.ChangePlan)
		rpc.POST("/test_ticto_connection", h.WebhookHandler.TestConnection)
	}

	// ==================== Workspace Members ====================
	workspaces := api.Group("/workspaces")
	workspaces.Use(h.AuthMiddleware.Auth())
	{
		workspaces.GET("/:id/credits", h.CreditHandler.GetBalance)
		workspaces.GET("/:id/credits/transactions", h.CreditHandler.ListTransactions)
		workspaces.GET("/:id/subscription", h.PlanHandler.GetCurrentSubscription)
	}

	// ==================== Admin ====================
	admin := api.Group("/admin")
	admin.Use(h.AuthMiddleware.AdminOnly()...)
	{
		admin.PUT("/workspaces/:id/credits", h.CreditHandler.SetCredits)
		admin.GET("/workspaces/:id/credits/audit", h.CreditHandler.Audit)
		admin.GET("/webhook-logs", h.WebhookHandler.ListLogs)
		admin.GET("/ws/stats", h.WSHandler.GetStats)
	}
}
