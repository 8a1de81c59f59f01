package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"showledger/config"
	"showledger/internal/api"
	"showledger/internal/broker"
	"showledger/internal/listing"
	"showledger/internal/redisclient"
	"showledger/internal/service"
	"showledger/internal/store"
	"showledger/internal/util"
	"showledger/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting showledger")

	tp, err := util.InitTracer("showledger", cfg.Server.Env, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Database connected")

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(context.Background()); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()
	logger.Info("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	tokens := listing.NewTokenSource(cfg.Listing.TokenURL, cfg.Listing.ClientID, cfg.Listing.ClientSecret,
		cfg.Listing.Scope, cfg.Listing.Timeout)
	if cfg.Listing.StaticToken != "" {
		tokens = listing.StaticToken(cfg.Listing.StaticToken)
	}
	listingClient, err := listing.NewClient(listing.Options{
		BaseURL:          cfg.Listing.BaseURL,
		Timeout:          cfg.Listing.Timeout,
		DefaultLimit:     cfg.Business.CompSearchLimit,
		FailureThreshold: cfg.Listing.FailureThreshold,
		BreakerTimeout:   cfg.Listing.BreakerTimeout,
	}, tokens)
	if err != nil {
		logger.Fatal("Failed to create listing client", zap.Error(err))
	}

	reconciliationService := service.NewReconciliationService(db, redisClient, eventPublisher, service.ReconciliationConfig{
		DefaultFeeRate: cfg.Business.DefaultFeeRate,
		DefaultTaxRate: cfg.Business.DefaultTaxRate,
		ShippingCost:   cfg.Business.ShippingCost,
		AutoThreshold:  cfg.Business.AutoModeThreshold,
		ReviewTTL:      cfg.Business.ReviewTTL,
		CommitLockTTL:  cfg.Business.CommitLockTTL,
		IdempotencyTTL: cfg.Business.IdempotencyTTL,
	})
	compService := service.NewCompService(db, listingClient, eventPublisher, service.CompConfig{
		CategoryID:   cfg.Listing.CategoryID,
		SearchLimit:  cfg.Business.CompSearchLimit,
		RefreshDelay: cfg.Business.CompRefreshDelay,
	})

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	refreshConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, cfg.Kafka.ConsumerGroup)
	refreshWorker := worker.NewCompRefreshWorker(refreshConsumer, compService)
	go func() {
		if err := refreshWorker.Start(workerCtx); err != nil && err != context.Canceled {
			logger.Error("Comp refresh worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(reconciliationService, compService, map[string]api.Pinger{
		"postgres": db.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.GetClient().Ping(ctx).Err()
		},
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if err := refreshWorker.Stop(); err != nil {
		logger.Warn("Failed to stop comp refresh worker", zap.Error(err))
	}

	logger.Info("Server exited")
}
