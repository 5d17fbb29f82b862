package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Coverall26/darkroom-cover-sub009/internal/api"
	"github.com/Coverall26/darkroom-cover-sub009/internal/config"
	"github.com/Coverall26/darkroom-cover-sub009/internal/db"
	"github.com/Coverall26/darkroom-cover-sub009/internal/ratelimit"
	"github.com/Coverall26/darkroom-cover-sub009/internal/services"
	"github.com/Coverall26/darkroom-cover-sub009/internal/store"
	"github.com/Coverall26/darkroom-cover-sub009/pkg/logger"
	"github.com/Coverall26/darkroom-cover-sub009/pkg/metrics"
	"go.uber.org/zap"
)

func main() {
	cfg := config.InitializeDefaultConfig()

	zapLogger, err := logger.NewLogger(cfg.Logging.Environment)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	config.LogConfig(cfg, zapLogger)

	database, err := db.Initialize(cfg)
	if err != nil {
		zapLogger.Fatal("Failed to initialize database", zap.Error(err))
	}

	collector := metrics.NewCollector()

	limiter := buildLimiter(cfg, zapLogger)

	esignStore := store.NewGormStore(database, zapLogger)
	blobs := services.NewLocalBlobStore(cfg.Storage.BlobRoot)
	escrow := services.NewLocalKeyEscrow(cfg.Storage.EscrowRoot)
	crypto := services.NewArtifactCrypto(blobs, escrow, cfg.Esign.ArtifactKey, zapLogger, collector)
	notifier := services.NewLogNotifier(zapLogger)
	workflow := services.NewLogWorkflow(zapLogger)

	router := services.NewSequentialRouter(esignStore, notifier, cfg.Esign.SigningBaseURL, zapLogger)
	cascade := services.NewCascadeService(esignStore, crypto, notifier, workflow, zapLogger, collector)
	signing := services.NewSigningService(
		esignStore, blobs, crypto,
		services.PermissiveDetector{}, services.OpenGate{},
		router, cascade, zapLogger, collector,
	)
	webhooks := services.NewWebhookService(
		esignStore, cascade,
		cfg.Esign.WebhookSecret, cfg.Production(),
		zapLogger, collector,
	)

	httpRouter := api.NewRouter(cfg, zapLogger, collector, signing, webhooks, limiter)
	httpRouter.SetupRoutes()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}
	go func() {
		if err := httpRouter.Run(":" + port); err != nil {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	zapLogger.Info("Server started", zap.String("port", port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	if sqlDB, err := database.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			zapLogger.Error("Failed to close database connection", zap.Error(err))
		}
	}
	zapLogger.Info("Server stopped")
}

// buildLimiter prefers the shared redis limiter when an address is
// configured so budgets hold across replicas; otherwise each instance
// enforces its own in-memory windows.
func buildLimiter(cfg *config.Configuration, zapLogger *zap.Logger) ratelimit.Limiter {
	if cfg.RateLimit.RedisAddr != "" {
		limiter, err := ratelimit.NewRedisLimiter(
			cfg.RateLimit.RedisAddr,
			cfg.RateLimit.RedisPassword,
			cfg.RateLimit.RedisDB,
			time.Now,
		)
		if err != nil {
			zapLogger.Warn("Redis limiter unavailable, falling back to in-memory",
				zap.Error(err), zap.String("addr", cfg.RateLimit.RedisAddr))
		} else {
			return limiter
		}
	}
	return ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{Now: time.Now})
}
