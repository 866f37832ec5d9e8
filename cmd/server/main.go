package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoPolymarket/autopilot/internal/config"
	"github.com/GoPolymarket/autopilot/internal/handler"
	"github.com/GoPolymarket/autopilot/internal/ledger"
	"github.com/GoPolymarket/autopilot/internal/middleware"
	"github.com/GoPolymarket/autopilot/internal/oracle"
	"github.com/GoPolymarket/autopilot/internal/pkg/logger"
	"github.com/GoPolymarket/autopilot/internal/pricefeed"
	"github.com/GoPolymarket/autopilot/internal/repository"
	"github.com/GoPolymarket/autopilot/internal/service"
	"github.com/GoPolymarket/autopilot/internal/signer"
	"github.com/GoPolymarket/autopilot/internal/tasks"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence
	var (
		store  service.Store = service.NewMemoryStore()
		reader service.LogReader
		db     *sqlx.DB
	)
	if cfg.Database.DSN != "" {
		db, err = repository.NewDB(cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		if cfg.Database.AutoMigrate {
			if err := repository.Migrate(ctx, db); err != nil {
				log.Fatalf("Failed to migrate database: %v", err)
			}
		}
		pg := repository.NewPostgresStore(db)
		store, reader = pg, pg
		logger.Info("✅ Connected to PostgreSQL")
	} else {
		logger.Warn("⚠️ No database configured, state is in-memory only")
	}

	var redisClient *repository.RedisClient
	if cfg.Redis.Addr != "" {
		redisClient, err = repository.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Error("⚠️ Failed to connect to Redis, analytics list and shared idempotency disabled", "error", err)
			redisClient = nil
		} else {
			logger.Info("✅ Connected to Redis")
		}
	}

	// Analytics
	var sinks []service.AnalyticsSink
	var queueClient *asynq.Client
	if redisClient != nil {
		listSink := repository.NewRedisListSink(redisClient.Client, cfg.Redis.AnalyticsListKey, cfg.Redis.AnalyticsListMax)
		sinks = append(sinks, listSink)
		if reader == nil {
			reader = listSink
		}
		if cfg.Analytics.AsynqEnabled {
			queueClient = asynq.NewClientFromRedisClient(redisClient.Client)
			sinks = append(sinks, tasks.NewAsynqSink(queueClient, cfg.Analytics.AsynqQueue))
		}
	}
	if reader == nil {
		reader = store
	}
	analytics, err := service.NewAnalyticsService(service.AnalyticsOptions{
		QueueSize:  cfg.Analytics.QueueSize,
		BufferSize: cfg.Analytics.BufferSize,
		LogDir:     cfg.Analytics.LogDir,
		Reader:     reader,
	}, sinks...)
	if err != nil {
		log.Fatalf("Failed to initialize analytics: %v", err)
	}

	// Ledger and oracle
	rpc, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		log.Fatalf("Failed to dial chain RPC: %v", err)
	}
	var execSigner *signer.Signer
	if cfg.Chain.ExecutorPrivateKey != "" {
		execSigner, err = signer.NewSigner(cfg.Chain.ExecutorPrivateKey, cfg.Chain.ChainID)
		if err != nil {
			log.Fatalf("Failed to load executor key: %v", err)
		}
		logger.Info("executor account loaded", "address", execSigner.Address().Hex())
	} else {
		logger.Warn("⚠️ No executor key configured, executions will fail")
	}

	breakerSettings := ledger.BreakerSettings{
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		OpenTimeout:         time.Duration(cfg.Breaker.OpenSeconds) * time.Second,
		HalfOpenRequests:    cfg.Breaker.HalfOpenRequests,
	}
	ledgerBreaker := breakerSettings
	ledgerBreaker.Name = "ledger"
	ledgerClient := ledger.NewClient(rpc, execSigner, ledger.NewBreaker(ledgerBreaker), ledger.Options{
		Contract:           common.HexToAddress(cfg.Chain.PermissionManager),
		CallTimeout:        cfg.Chain.CallTimeout(),
		ReceiptTimeout:     cfg.Chain.ReceiptTimeout(),
		ReceiptPoll:        cfg.Chain.ReceiptPoll(),
		GasLimitMultiplier: cfg.Chain.GasLimitMultiplier,
	})

	tokenBreaker := breakerSettings
	tokenBreaker.Name = "tokens"
	tokens := oracle.NewTokenReader(rpc, ledger.NewBreaker(tokenBreaker))

	var stream pricefeed.Provider
	var feed *pricefeed.Service
	if cfg.Oracle.PriceWSURL != "" {
		feed = pricefeed.NewService(cfg.Oracle.PriceWSURL)
		feed.Start(ctx)
		stream = feed
	}
	var fallback oracle.PriceSource
	if cfg.Oracle.PriceURL != "" {
		priceBreaker := breakerSettings
		priceBreaker.Name = "price-http"
		fallback = oracle.NewHTTPPriceSource(oracle.HTTPPriceOptions{
			URLTemplate:       cfg.Oracle.PriceURL,
			PathTemplate:      cfg.Oracle.PricePath,
			CacheTTL:          time.Duration(cfg.Oracle.CacheSeconds) * time.Second,
			RequestsPerSecond: cfg.Oracle.RequestsPerSecond,
			Timeout:           time.Duration(cfg.Oracle.TimeoutMs) * time.Millisecond,
		}, ledger.NewBreaker(priceBreaker))
	}
	prices, err := oracle.New(tokens, stream, fallback, time.Duration(cfg.Oracle.StaleSeconds)*time.Second)
	if err != nil {
		log.Fatalf("Failed to initialize oracle: %v", err)
	}
	watchConfiguredAssets(ctx, store, prices)

	// Engines and scheduler
	engineCfg, err := service.EngineConfigFrom(cfg.Execution)
	if err != nil {
		log.Fatalf("Invalid execution config: %v", err)
	}
	validator := service.NewAllowanceValidator(ledgerClient, store, cfg.Chain.LedgerAllowanceCheck)
	dca := service.NewDCAEngine(store, validator, ledgerClient, prices, analytics, engineCfg)
	rebalance := service.NewRebalanceEngine(store, validator, ledgerClient, prices, analytics, engineCfg)
	scheduler := service.NewScheduler(service.SchedulerConfigFrom(cfg.Scheduler), store, analytics, dca, rebalance)
	if cfg.Scheduler.AutoStart {
		if err := scheduler.Start(ctx); err != nil {
			log.Fatalf("Failed to start scheduler: %v", err)
		}
	}

	// Admin API
	idemTTL := time.Duration(cfg.Redis.IdempotencyTTLSeconds) * time.Second
	var idempotency middleware.IdempotencyStore = middleware.NewInMemIdempotencyStore(idemTTL)
	switch {
	case redisClient != nil:
		idempotency = repository.NewRedisIdempotencyStore(redisClient.Client, idemTTL)
	case db != nil:
		idempotency = repository.NewPostgresIdempotencyStore(db, idemTTL)
	}
	var limiter *rate.Limiter
	if cfg.Admin.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Admin.RateLimit), cfg.Admin.RateBurst)
	}
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	router := handler.NewRouter(handler.RouterOptions{
		AdminKey:    cfg.Admin.Key,
		ReadOnly:    cfg.Admin.ReadOnly,
		Limiter:     limiter,
		Idempotency: idempotency,
		MetricsPath: metricsPath,
	}, service.NewCatalogService(store), scheduler, analytics)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("🚀 Autopilot started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil && !errors.Is(err, service.ErrNotRunning) {
		logger.Error("scheduler stop failed", "error", err)
	}
	analytics.Close()
	if feed != nil {
		feed.Stop()
	}
	if queueClient != nil {
		_ = queueClient.Close()
	}
	rpc.Close()
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}

	logger.Info("Server exiting")
}

// watchConfiguredAssets subscribes the price stream to every asset already
// referenced, so the first cycle finds fresh prices.
func watchConfiguredAssets(ctx context.Context, store service.Store, prices *oracle.Oracle) {
	var assets []string
	if plans, err := store.ActivePlans(ctx); err == nil {
		for _, p := range plans {
			assets = append(assets, p.AssetFrom, p.AssetTo)
		}
	}
	if configs, err := store.ActiveRebalancers(ctx); err == nil {
		for _, c := range configs {
			assets = append(assets, c.AssetIDs()...)
		}
	}
	if len(assets) > 0 {
		prices.Watch(assets...)
	}
}
