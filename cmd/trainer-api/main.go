package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/trainer-ledger-api/api/swagger"
	"github.com/noah-isme/trainer-ledger-api/internal/handler"
	"github.com/noah-isme/trainer-ledger-api/internal/ledger"
	"github.com/noah-isme/trainer-ledger-api/internal/middleware"
	"github.com/noah-isme/trainer-ledger-api/internal/realtime"
	"github.com/noah-isme/trainer-ledger-api/internal/repository"
	"github.com/noah-isme/trainer-ledger-api/internal/service"
	"github.com/noah-isme/trainer-ledger-api/pkg/cache"
	"github.com/noah-isme/trainer-ledger-api/pkg/config"
	"github.com/noah-isme/trainer-ledger-api/pkg/database"
	"github.com/noah-isme/trainer-ledger-api/pkg/export"
	"github.com/noah-isme/trainer-ledger-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/trainer-ledger-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/trainer-ledger-api/pkg/middleware/requestid"
)

// @title Trainer Ledger API
// @version 1.0.0
// @description Student lesson and payment ledger with live attention updates
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}
	logr.Info("document store ready", zap.String("driver", cfg.Store.Driver))

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, continuing without cache and fan-out", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	engine := ledger.NewEngine(ledger.Config{
		Locale:             cfg.Ledger.Locale,
		Currency:           cfg.Ledger.Currency,
		LowLessonThreshold: cfg.Ledger.LowLessonThreshold,
	})

	store := repository.NewDocumentStore(db)
	users := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Dashboard.CacheTTL, logr, cfg.Dashboard.CacheEnabled && redisClient != nil)

	hub := realtime.NewHub(store, logr.Named("realtime"))
	defer hub.Close()
	if err := metricsSvc.RegisterSubscriberGauge(hub.SubscriberCount); err != nil {
		return fmt.Errorf("register subscriber gauge: %w", err)
	}

	var notifier realtime.Notifier = hub
	if redisClient != nil {
		broadcaster := realtime.NewRedisBroadcaster(redisClient, cfg.Realtime.Channel, hub, logr.Named("realtime"))
		notifier = broadcaster
		go func() {
			if err := broadcaster.Run(ctx); err != nil {
				logr.Error("change listener stopped", zap.Error(err))
			}
		}()
	}

	ledgerSvc := service.NewLedgerService(service.LedgerServiceParams{
		Store:     store,
		Engine:    engine,
		Notifier:  notifier,
		Cache:     cacheSvc,
		Metrics:   metricsSvc,
		Validator: validate,
		Logger:    logr,
	})
	dashboardSvc := service.NewDashboardService(service.DashboardServiceParams{
		Students: store,
		Engine:   engine,
		Cache:    cacheSvc,
		Logger:   logr,
		Config:   service.DashboardServiceConfig{CacheTTL: cfg.Dashboard.CacheTTL},
	})
	authSvc := service.NewAuthService(users, cacheRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
		MaxAttempts:       cfg.Auth.MaxAttempts,
		AttemptWindow:     cfg.Auth.AttemptWindow,
	})
	exportSvc := service.NewExportService(store, engine, logr, service.NewRosterExporter(), export.NewPDFExporter())

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), routeHandlers{
		auth:      handler.NewAuthHandler(authSvc),
		students:  handler.NewStudentHandler(ledgerSvc),
		dashboard: handler.NewDashboardHandler(dashboardSvc),
		live:      handler.NewLiveHandler(hub, dashboardSvc, logr.Named("live"), 0),
		exports:   handler.NewExportHandler(exportSvc),
		requireAuth:   middleware.JWT(authSvc),
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	// Live streams end once the hub closes, which lets Shutdown drain them.
	hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
