package main

import (
	"context"
	"errors"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptoScalper/config"
	"cryptoScalper/internal/adapters/binanceclient"
	"cryptoScalper/internal/adapters/logger"
	"cryptoScalper/internal/adapters/paper"
	"cryptoScalper/internal/adapters/sqlite"
	"cryptoScalper/internal/app"
	"cryptoScalper/internal/audit"
	"cryptoScalper/internal/fusion"
	"cryptoScalper/internal/metrics"
	"cryptoScalper/internal/ports"
	"cryptoScalper/internal/risk"
	"cryptoScalper/internal/store"
	"cryptoScalper/internal/strategy"
	"cryptoScalper/internal/strategy/indicators"
)

func main() {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, syncLogger := logger.New(cfg.LogFormat, cfg.LogLevel)
	defer syncLogger()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{
		"level":  cfg.LogLevel.String(),
		"format": cfg.LogFormat,
	})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err) // Also log to stderr
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized")

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:             cfg.APIKey,
		SecretKey:          cfg.SecretKey,
		UseTestnet:         cfg.IsTestnet,
		Logger:             appLogger,
		QuoteAsset:         cfg.QuoteAsset,
		RateLimitPerSecond: cfg.APIRateLimit,
		FeeRate:            cfg.FeeRate,
	})
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	if err := binanceClient.Ping(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Binance API unreachable")
		log.Fatalf("FATAL: Binance API unreachable: %v", err)
	}
	appLogger.Info(ctx, "Binance client initialized", map[string]interface{}{"testnet": cfg.IsTestnet})

	var gateway ports.ExecutionGateway = binanceClient
	var balance ports.BalanceProvider = binanceClient
	if cfg.DryRun {
		paperGateway, err := paper.New(binanceClient, paper.Config{
			QuoteAsset:    cfg.QuoteAsset,
			InitialEquity: cfg.PaperEquity,
			FeeRate:       cfg.FeeRate,
			Logger:        appLogger,
		})
		if err != nil {
			appLogger.Error(ctx, err, "FATAL: Failed to initialize paper gateway")
			log.Fatalf("FATAL: Failed to initialize paper gateway: %v", err)
		}
		gateway, balance = paperGateway, paperGateway
		appLogger.Warn(ctx, "DRY_RUN enabled, orders are simulated", map[string]interface{}{"equity": cfg.PaperEquity})
	}

	// 5. Initialize signal pipeline
	indicatorProvider, err := indicators.NewProvider(cfg.Tuning.Indicators)
	if err != nil {
		log.Fatalf("FATAL: Invalid indicator configuration: %v", err)
	}
	evaluator, err := strategy.NewEvaluator(cfg.Tuning.Strategy)
	if err != nil {
		log.Fatalf("FATAL: Invalid strategy configuration: %v", err)
	}
	fusionUnit, err := fusion.NewUnit(cfg.Tuning.Fusion)
	if err != nil {
		log.Fatalf("FATAL: Invalid fusion configuration: %v", err)
	}

	// 6. Restore positions and risk state
	positionStore, err := store.New(repo, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize position store: %v", err)
	}
	if err := positionStore.Load(ctx); err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to load open positions")
		log.Fatalf("FATAL: Failed to load open positions: %v", err)
	}

	riskManager, err := risk.NewRiskManager(cfg.RiskConfig())
	if err != nil {
		log.Fatalf("FATAL: Invalid risk configuration: %v", err)
	}
	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	todaysTrades, err := repo.FindClosedSince(ctx, startOfDay)
	if err != nil {
		appLogger.Error(ctx, err, "FATAL: Failed to read today's trades")
		log.Fatalf("FATAL: Failed to read today's trades: %v", err)
	}
	riskManager.Restore(todaysTrades, positionStore.Snapshot())
	snap := riskManager.Snapshot()
	appLogger.Info(ctx, "Risk state restored", map[string]interface{}{
		"openPositions":  snap.OpenPositions,
		"dailyPnl":       snap.DailyRealizedPnL,
		"circuitBreaker": snap.CircuitBreakerEngaged,
	})

	// 7. Audit dispatcher and metrics
	auditDispatcher, err := audit.NewDispatcher(audit.Config{}, repo, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to start audit dispatcher: %v", err)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = metrics.NewServer(cfg.MetricsAddr)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error(context.Background(), err, "Metrics server stopped", map[string]interface{}{"addr": cfg.MetricsAddr})
			}
		}()
		appLogger.Info(ctx, "Metrics server listening", map[string]interface{}{"addr": cfg.MetricsAddr})
	}

	// 8. Build one trader per symbol
	deps := app.Dependencies{
		Logger:     appLogger,
		Market:     binanceClient,
		Gateway:    gateway,
		Balance:    balance,
		Indicators: indicatorProvider,
		Evaluator:  evaluator,
		Fusion:     fusionUnit,
		Risk:       riskManager,
		Store:      positionStore,
		Audit:      auditDispatcher,
	}
	tickers := make([]app.Ticker, 0, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		trader, err := app.NewSymbolTrader(app.TraderConfig{
			Symbol:            symbol,
			QuoteAsset:        cfg.QuoteAsset,
			CandleInterval:    cfg.CandleInterval,
			CandleLimit:       cfg.CandleLimit,
			OrderBookDepth:    cfg.OrderBookDepth,
			SlippageTolerance: cfg.SlippageTolerance,
			CommitTimeout:     cfg.CommitTimeout,
		}, deps)
		if err != nil {
			log.Fatalf("FATAL: Failed to initialize trader for %s: %v", symbol, err)
		}
		tickers = append(tickers, trader)
	}

	coordinator, err := app.NewCoordinator(app.CoordinatorConfig{
		TickInterval: cfg.TickInterval,
		TickTimeout:  cfg.TickTimeout,
	}, tickers, positionStore, riskManager, auditDispatcher, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize coordinator: %v", err)
	}

	// 9. Run until a termination signal arrives
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := make(chan error, 1)
	go func() { runErr <- coordinator.Run(ctx) }()
	appLogger.Info(ctx, "Scalper started", map[string]interface{}{"symbols": cfg.Symbols, "dryRun": cfg.DryRun})

	select {
	case <-sigCtx.Done():
		appLogger.Info(ctx, "Shutdown signal received")
	case err := <-runErr:
		if err != nil {
			appLogger.Error(ctx, err, "Coordinator exited with error")
		}
	}

	if err := coordinator.Shutdown(cfg.ShutdownTimeout); err != nil {
		appLogger.Error(ctx, err, "Symbol loops did not stop in time")
	}
	for _, p := range coordinator.Positions() {
		appLogger.Info(ctx, "Position left open", map[string]interface{}{
			"symbol":     p.Symbol,
			"entryPrice": p.EntryPrice,
			"quantity":   p.Quantity,
		})
	}

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := auditDispatcher.Close(drainCtx); err != nil {
		appLogger.Error(ctx, err, "Audit records lost during shutdown", map[string]interface{}{"dropped": auditDispatcher.Dropped()})
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(drainCtx); err != nil {
			appLogger.Error(ctx, err, "Metrics server shutdown failed")
		}
	}

	appLogger.Info(ctx, "Application finished gracefully.")
}
