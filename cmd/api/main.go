package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pos-settlement/config"
	httpHandler "pos-settlement/internal/adapter/http/handler"
	"pos-settlement/internal/adapter/metrics"
	pgStorage "pos-settlement/internal/adapter/storage/postgres"
	redisStorage "pos-settlement/internal/adapter/storage/redis"
	"pos-settlement/internal/core/ports"
	"pos-settlement/internal/service"
	"pos-settlement/pkg/logger"
	"pos-settlement/pkg/money"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().
		Int("port", cfg.Server.Port).
		Str("rates_endpoint", cfg.Rates.Endpoint).
		Msg("Starting POS settlement service")

	if !cfg.Log.Pretty {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	if cfg.Database.Migrate {
		if err := pgStorage.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply schema")
		}
	}

	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	m := metrics.New()
	loc := cfg.Rates.Location()

	// Repositories
	orderRepo := pgStorage.NewOrderRepo(pool)
	productRepo := pgStorage.NewProductRepo()
	auditRepo := pgStorage.NewAuditRepo(pool)
	transactor := pgStorage.NewTransactor(pool, cfg.Database.LockTimeout)

	rateLog := logger.Component(log, "rates")
	provider := service.NewHTTPRateProvider(
		&http.Client{Timeout: cfg.Rates.Timeout + time.Second},
		service.RateProviderConfig{
			Endpoint: cfg.Rates.Endpoint,
			Timeout:  cfg.Rates.Timeout,
			Retries:  cfg.Rates.Retries,
			Location: loc,
		},
		rateLog,
	)
	rateSvc := service.NewRateService(provider, redisStorage.NewRateCache(rdb), loc, m, rateLog)

	epsilon := money.ParseEpsilon(cfg.Settlement.Epsilon)
	settlementSvc := service.NewSettlementService(
		orderRepo,
		productRepo,
		transactor,
		service.SettlementConfig{
			Epsilon:        epsilon,
			LocalPrecision: cfg.Settlement.LocalPrecision,
		},
		m,
		logger.Component(log, "settlement"),
	)
	auditSvc := service.NewAuditService(auditRepo, logger.Component(log, "audit"))
	checkoutSvc := service.NewCheckoutService(
		orderRepo,
		rateSvc,
		settlementSvc,
		redisStorage.NewSubmissionLock(rdb),
		redisStorage.NewEventPublisher(rdb, cfg.Checkout.EventChannel),
		auditSvc,
		service.CheckoutConfig{
			SessionTTL:    cfg.Checkout.SessionTTL,
			SubmitLockTTL: cfg.Checkout.SubmitLockTTL,
			Allocation: service.AllocationConfig{
				PrimaryCurrency:   cfg.Rates.Primary,
				SecondaryCurrency: cfg.Rates.Secondary,
				LocalPrecision:    cfg.Settlement.LocalPrecision,
				Epsilon:           epsilon,
				Formatter:         money.NewFormatter(cfg.Settlement.Locale, cfg.Settlement.LocalCurrency, cfg.Settlement.LocalPrecision),
				Location:          loc,
			},
		},
		m,
		logger.Component(log, "checkout"),
	)

	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		CheckoutSvc:    checkoutSvc,
		TokenSvc:       tokenSvc,
		RateLimitStore: redisStorage.NewRateLimitStore(rdb),
		HealthCheckers: []ports.HealthChecker{pgStorage.NewHealthCheck(pool), redisStorage.NewHealthCheck(rdb)},
		AuditSvc:       auditSvc,
		Metrics:        m,
		MetricsHandler: m.Handler(),
		Logger:         logger.Component(log, "http"),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
