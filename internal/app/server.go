// internal/app/server.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"copydrive-service/internal/config"
	"copydrive-service/internal/db"
	creditHandler "copydrive-service/internal/handlers/credit"
	healthHandler "copydrive-service/internal/handlers/health"
	planHandler "copydrive-service/internal/handlers/plan"
	webhookHandler "copydrive-service/internal/handlers/webhook"
	wsHandler "copydrive-service/internal/handlers/websocket"
	"copydrive-service/internal/middleware"
	"copydrive-service/internal/pkg/idempotency"
	"copydrive-service/internal/pkg/jwt"
	"copydrive-service/internal/pkg/ratelimit"
	"copydrive-service/internal/repository/postgres"
	creditsvc "copydrive-service/internal/service/credit"
	"copydrive-service/internal/service/plans"
	subscriptionsvc "copydrive-service/internal/service/subscription"
	webhooksvc "copydrive-service/internal/service/webhook"
	workspacesvc "copydrive-service/internal/service/workspace"
	"copydrive-service/internal/websocket"
	wsHandlers "copydrive-service/internal/websocket/handler"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	cfg        config.AppConfig
	engine     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger

	pool    *pgxpool.Pool
	redis   *redis.Client
	stopHub context.CancelFunc
}

// NewServer connects to storage and wires every component. Nothing listens
// until Start is called.
func NewServer(cfg config.AppConfig, logger *zap.Logger) (*Server, error) {
	ctx := context.Background()
	gin.SetMode(cfg.GinMode)

	// ----- PostgreSQL -----
	pool, err := db.ConnectDB(ctx, db.PostgresConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	logger.Info("connected to PostgreSQL")

	// ----- Redis -----
	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Address:  cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
		PoolSize: 10,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

	// ----- JWT -----
	jwtManager, err := jwt.LoadAndBuild(cfg.JWT)
	if err != nil {
		pool.Close()
		redisClient.Close()
		return nil, fmt.Errorf("failed to load JWT keys: %w", err)
	}

	// ----- Repositories -----
	dbWrapper := postgres.NewDB(pool)
	creditRepo := postgres.NewCreditRepository(pool)
	planRepo := postgres.NewSubscriptionPlanRepository(pool)
	subscriptionRepo := postgres.NewWorkspaceSubscriptionRepository(pool)
	workspaceRepo := postgres.NewWorkspaceRepository(pool)
	webhookLogRepo := postgres.NewWebhookLogRepository(pool)
	processedRepo := postgres.NewProcessedEventRepository(pool)
	integrationRepo := postgres.NewIntegrationRepository(pool)

	// ----- WebSocket Hub -----
	hub := websocket.NewHub(jwtManager.Verifier, logger)
	notifier := websocket.NewWorkspaceNotifier(hub, workspaceRepo, logger)

	// ----- Services -----
	access := workspacesvc.NewAccessService(workspaceRepo)
	ledger := creditsvc.NewLedger(creditRepo, dbWrapper, notifier, logger)
	reconciler := subscriptionsvc.NewReconciler(
		planRepo,
		subscriptionRepo,
		workspaceRepo,
		processedRepo,
		ledger,
		notifier,
		dbWrapper,
		logger,
	)
	gateway := webhooksvc.NewGateway(
		webhookLogRepo,
		integrationRepo,
		processedRepo,
		reconciler,
		idempotency.NewGuard(redisClient, cfg.WebhookInflightTTL, logger),
		logger,
	)
	planService := plans.NewPlanService(planRepo, subscriptionRepo, workspaceRepo, notifier, dbWrapper, logger)

	hub.RegisterHandler(wsHandlers.NewCreditsHandler(ledger, access))

	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	// ----- Handlers -----
	handlers := &Handlers{
		WebhookHandler: webhookHandler.NewWebhookHandler(gateway, cfg.WebhookTimeout, cfg.WebhookBodyLimit, cfg.WebhookDefaultSlug, logger),
		CreditHandler:  creditHandler.NewCreditHandler(ledger, access, logger),
		PlanHandler:    planHandler.NewPlanHandler(planService, access, logger),
		WSHandler:      wsHandler.NewWebSocketHandler(hub, cfg.CORSOrigins, logger),
		HealthHandler: healthHandler.NewHealthHandler(map[string]healthHandler.Check{
			"postgres": dbWrapper.Ping,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		}, logger),
		AuthMiddleware: middleware.NewAuthMiddleware(jwtManager.Verifier),
		RateLimiter:    ratelimit.NewRateLimiter(redisClient),
		Limits: Limits{
			WebhookPerMinute: cfg.RateLimitWebhook,
			RPCPerMinute:     cfg.RateLimitRPC,
		},
	}

	// ----- Router -----
	engine := gin.New()
	engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(cfg.CORSOrigins),
	)
	SetupRouter(engine, logger, handlers)

	return &Server{
		cfg:    cfg,
		engine: engine,
		httpServer: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger:  logger,
		pool:    pool,
		redis:   redisClient,
		stopHub: stopHub,
	}, nil
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server running", zap.String("addr", s.cfg.HTTPAddr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests, then closes the hub and storage.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	s.stopHub()
	if cerr := s.redis.Close(); cerr != nil {
		s.logger.Warn("failed to close Redis client", zap.Error(cerr))
	}
	s.pool.Close()

	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
