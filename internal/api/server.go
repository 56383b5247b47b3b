package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"catalogsync/internal/api/handlers"
	"catalogsync/internal/api/middleware"
	"catalogsync/internal/config"
	"catalogsync/internal/logger"
	"catalogsync/internal/metrics"
	"catalogsync/internal/store"
	"catalogsync/internal/webhook"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps are the collaborators the routes are wired to. Requester and Lock
// are optional.
type Deps struct {
	DB        *gorm.DB
	Store     *store.Store
	Queue     *webhook.Queue
	Applier   *webhook.Router
	Runner    handlers.SyncRunner
	Requester handlers.Requester
	Lock      handlers.LockFunc
}

type Server struct {
	config *config.Config
	logger *logger.Logger
	router *gin.Engine
	server *http.Server
}

func New(cfg *config.Config, logger *logger.Logger, deps Deps) *Server {
	// Set Gin mode
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS())

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(deps.Queue, deps.Applier, cfg.WebhookSecret, cfg.WebhookDrainLimit, cfg.WebhookPurgeDays, logger)
	syncHandler := handlers.NewSyncHandler(deps.Runner, deps.Requester, deps.Lock, logger)
	productHandler := handlers.NewProductHandler(deps.Store, logger)
	issueHandler := handlers.NewIssueHandler(deps.Store, logger)
	healthHandler := handlers.NewHealthHandler(deps.DB)

	router.GET("/healthz", healthHandler.Healthz)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Routes
	v1 := router.Group("/api/v1")
	{
		// Webhooks
		webhooks := v1.Group("/webhooks")
		{
			webhooks.GET("", webhookHandler.List)
			webhooks.POST("/retry", webhookHandler.Retry)
			webhooks.POST("/drain", webhookHandler.Drain)
			webhooks.POST("/purge", webhookHandler.Purge)
			webhooks.POST("/:source", webhookHandler.Receive)
		}

		// Sync runs
		sync := v1.Group("/sync")
		{
			sync.POST("/catalog", syncHandler.Catalog)
			sync.POST("/prices", syncHandler.Prices)
			sync.POST("/registry", syncHandler.Registry)
		}

		// Products
		products := v1.Group("/products")
		{
			products.GET("", productHandler.List)
			products.GET("/:sku", productHandler.Get)
		}

		// Issues
		issues := v1.Group("/issues")
		{
			issues.GET("", issueHandler.List)
			issues.POST("/:id/resolve", issueHandler.Resolve)
		}
	}

	return &Server{
		config: cfg,
		logger: logger,
		router: router,
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%s", s.config.APIHost, s.config.APIPort)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server on " + addr)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
