package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/advisory"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/api"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/broker"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/config"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/execution"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/journal"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/logging"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/market"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/notify"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/resilience"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/risk"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/scheduler"
	tradesignal "github.com/EdgarTomas2001/FinGPT-Ollama/internal/signal"
)

func main() {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.NewStandardLogger(cfg.LogLevel, cfg.Environment)
	logger.WithFields(map[string]interface{}{
		"environment": cfg.Environment,
		"symbols":     cfg.Trading.Symbols,
	}).Info("trader starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bridge := broker.NewClient(cfg.Broker, logger)
	if err := bridge.Health(ctx); err != nil {
		logger.WithError(err).Warn("brokerage bridge not reachable at startup")
	}

	layer := resilience.NewLayer(cfg, logger)
	indicators := market.NewIndicatorService(bridge, cfg.Market, logger)
	advisor := advisory.NewClient(cfg.Advisory, logger)
	aggregator := tradesignal.NewAggregator(layer, advisor, cfg.Signal, logger)
	riskManager := risk.NewManager(cfg.Risk, logger)
	executor := execution.NewExecutor(bridge, layer, logger)

	var jnl *journal.Journal
	if cfg.Redis.Host != "" {
		jnl, err = journal.New(ctx, cfg.Redis, logger)
		if err != nil {
			log.Fatalf("Failed to connect journal: %v", err)
		}
		defer func() {
			if err := jnl.Close(); err != nil {
				logger.WithError(err).Warn("journal close failed")
			}
		}()
	} else {
		logger.Info("journaling disabled: no redis host configured")
	}

	notifier, err := notify.New(cfg.Telegram, logger)
	if err != nil {
		log.Fatalf("Failed to initialize notifier: %v", err)
	}

	session := scheduler.NewSessionState(cfg.Trading.Symbols)

	var schedJournal scheduler.Journal
	if jnl != nil {
		schedJournal = jnl
	}
	sched := scheduler.New(cfg, session, indicators, bridge, aggregator, riskManager,
		executor, layer, schedJournal, notifier, logger)

	server := api.New(cfg, session, layer, jnl, logger)
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("status server failed")
			cancel()
		}
	}()

	go func() {
		if err := sched.Run(ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Error("scheduler stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("status server shutdown failed")
	}
	logger.Info("trader stopped")
}
