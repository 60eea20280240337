package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"auctionhouse/internal/config"
	cronrunner "auctionhouse/internal/cron"
	"auctionhouse/internal/db"
	"auctionhouse/internal/handler"
	eventhub "auctionhouse/internal/hub"
	"auctionhouse/internal/logger"
	"auctionhouse/internal/ratelimit"
	gormrepository "auctionhouse/internal/repository/gorm"
	"auctionhouse/internal/service"
	"auctionhouse/internal/worker"
)

func main() {
	cfgPath := os.Getenv("AH_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("AH_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	ledger := &service.Ledger{Repo: store, Logger: logger, Currency: cfg.Auction.Currency}
	bidService := &service.BidService{
		Repo:         store,
		Ledger:       ledger,
		Logger:       logger,
		MaxTxRetries: cfg.Auction.MaxTxRetries,
	}
	adminService := &service.AdminService{Repo: store, Ledger: ledger, Logger: logger}
	queryService := &service.QueryService{Repo: store, Currency: cfg.Auction.Currency}

	liveHub := eventhub.New(logger)
	defer liveHub.Close()

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(handler.Identity())

	bidLimiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.PerUser, cfg.RateLimit.Global, nil)

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	handler.RegisterDocs(engine)
	adminHandler := &handler.AdminHandler{Admin: adminService}
	adminHandler.Register(engine)
	bidHandler := &handler.BidHandler{Bids: bidService}
	bidHandler.Register(engine, handler.RequireUser(), handler.RateLimited(bidLimiter))
	queryHandler := &handler.QueryHandler{Query: queryService}
	queryHandler.Register(engine, handler.RequireUser())
	streamHandler := &handler.EventStreamHandler{Hub: liveHub}
	streamHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Workers.Enabled {
		scheduler := &worker.RoundScheduler{Repo: store, Logger: logger}
		settlement := &worker.SettlementWorker{Repo: store, Ledger: ledger, Logger: logger}
		refunds := &worker.RefundWorker{Repo: store, Ledger: ledger, Logger: logger, BatchSize: cfg.Workers.RefundBatchSize}
		publisher := &worker.OutboxPublisher{Repo: store, Sink: liveHub, Logger: logger, BatchSize: cfg.Workers.OutboxBatchSize}

		register := func(name, spec string, tick func(context.Context)) {
			if _, err := cronRunner.Add(spec, tick); err != nil {
				logger.Warn("cron register failed", zap.String("worker", name), zap.Error(err))
			}
		}
		register("scheduler", cfg.Workers.SchedulerTick, scheduler.Tick)
		register("settlement", cfg.Workers.SettlementTick, settlement.Tick)
		register("refund", cfg.Workers.RefundTick, refunds.Tick)
		register("outbox", cfg.Workers.OutboxTick, publisher.Tick)
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,X-User-ID,X-Idempotency-Key")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
