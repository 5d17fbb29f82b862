package api

import (
	"net/http"

	"github.com/Coverall26/darkroom-cover-sub009/internal/api/handlers"
	"github.com/Coverall26/darkroom-cover-sub009/internal/api/middleware"
	"github.com/Coverall26/darkroom-cover-sub009/internal/config"
	"github.com/Coverall26/darkroom-cover-sub009/internal/ratelimit"
	"github.com/Coverall26/darkroom-cover-sub009/internal/services"
	"github.com/Coverall26/darkroom-cover-sub009/pkg/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Router struct {
	engine         *gin.Engine
	logger         *zap.Logger
	metrics        *metrics.Collector
	cfg            *config.Configuration
	signingHandler *handlers.SigningHandler
	webhookHandler *handlers.WebhookHandler
	reqMiddleware  *middleware.RequestMiddleware
	rateLimit      *middleware.RateLimitMiddleware
	security       *middleware.SecurityMiddleware
}

func NewRouter(
	cfg *config.Configuration,
	logger *zap.Logger,
	collector *metrics.Collector,
	signing *services.SigningService,
	webhooks *services.WebhookService,
	limiter ratelimit.Limiter,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	reqMiddleware := middleware.NewRequestMiddleware(logger)
	engine.Use(reqMiddleware.ProcessRequest())
	engine.Use(reqMiddleware.RecoverPanic())

	return &Router{
		engine:         engine,
		logger:         logger,
		metrics:        collector,
		cfg:            cfg,
		signingHandler: handlers.NewSigningHandler(signing, logger),
		webhookHandler: handlers.NewWebhookHandler(webhooks, logger),
		reqMiddleware:  reqMiddleware,
		rateLimit:      middleware.NewRateLimitMiddleware(limiter, logger),
		security:       middleware.NewSecurityMiddleware(cfg.Esign.AllowedOrigins, logger),
	}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up", "name": "esign"})
	})

	r.engine.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"counters":  r.metrics.GetCounters(),
			"latencies": r.metrics.GetLatencies(),
		})
	})

	api := r.engine.Group("/api")
	{
		api.GET("/sign/:token",
			r.rateLimit.Limit("view", r.cfg.RateLimit.ViewPerMinute),
			r.signingHandler.Load)
		api.POST("/sign/:token",
			r.rateLimit.Limit("submit", r.cfg.RateLimit.SubmitPerMinute),
			r.security.CheckOrigin(),
			r.signingHandler.Submit)
		api.POST("/webhooks/esign",
			r.rateLimit.Limit("webhook", r.cfg.RateLimit.WebhookPerMinute),
			r.webhookHandler.Ingress)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

func (r *Router) Run(addr string) error {
	r.logger.Info("starting HTTP server", zap.String("address", addr))
	return r.engine.Run(addr)
}
