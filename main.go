package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"fxscalper/config"
	"fxscalper/internal/adapters/ctraderws"
	"fxscalper/internal/adapters/logger"
	"fxscalper/internal/adapters/sqlite"
	"fxscalper/internal/app"
	"fxscalper/internal/decision"
	"fxscalper/internal/lifecycle"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger := logger.NewStdLogger(cfg.LogLevel)
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database repository")
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database repository")
		}
	}()
	appLogger.Info(context.Background(), "Database repository initialized")

	// 4. Initialize Transport Adapters (market data feed + order gateway)
	feed, err := ctraderws.NewFeed(ctraderws.Config{
		URL:                  cfg.FeedURL,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectDelay:    cfg.MaxReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize market data feed")
		log.Fatalf("FATAL: Failed to initialize market data feed: %v", err)
	}
	gateway, err := ctraderws.NewGateway(ctraderws.Config{
		URL:                  cfg.GatewayURL,
		Logger:               appLogger,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectDelay:    cfg.MaxReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize order gateway")
		log.Fatalf("FATAL: Failed to initialize order gateway: %v", err)
	}
	appLogger.Info(context.Background(), "Transport adapters initialized",
		map[string]interface{}{"feedURL": cfg.FeedURL, "gatewayURL": cfg.GatewayURL})

	// 5. Initialize Decision Engine
	engine, err := decision.New(decision.Config{
		MaxSpreadPips:      cfg.MaxSpreadPips,
		MinConfidence:      cfg.MinConfidence,
		BiasThreshold:      cfg.BiasThreshold,
		ImbalanceThreshold: cfg.ImbalanceThreshold,
	}, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize decision engine")
		log.Fatalf("FATAL: Failed to initialize decision engine: %v", err)
	}
	appLogger.Info(context.Background(), "Decision engine initialized")

	// 6. Initialize Lifecycle Manager
	manager, err := lifecycle.NewManager(lifecycle.Config{
		Symbols:        cfg.Symbols,
		LotSize:        cfg.LotSize,
		StopLossPips:   cfg.StopLossPips,
		TakeProfitPips: cfg.TakeProfitPips,
		MaxSpreadPips:  cfg.MaxSpreadPips,
	}, gateway, repo, appLogger)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize lifecycle manager")
		log.Fatalf("FATAL: Failed to initialize lifecycle manager: %v", err)
	}
	appLogger.Info(context.Background(), "Lifecycle manager initialized")

	// 7. Initialize Application Service
	tradingService, err := app.NewTradingService(cfg, appLogger, feed, gateway, repo, engine, manager)
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trading service")
		log.Fatalf("FATAL: Failed to initialize trading service: %v", err)
	}
	appLogger.Info(context.Background(), "Trading service initialized")

	// 8. Start the Service
	if err := tradingService.Start(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Trading service exited with error")
		log.Fatalf("FATAL: Trading service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
