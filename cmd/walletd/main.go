package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cypherd-wallet-go/internal/config"
	"cypherd-wallet-go/internal/database"
	"cypherd-wallet-go/internal/engine"
	"cypherd-wallet-go/internal/ledger"
	"cypherd-wallet-go/internal/logger"
	"cypherd-wallet-go/internal/notify"
	"cypherd-wallet-go/internal/oracle"
	"cypherd-wallet-go/internal/quotes"
	"cypherd-wallet-go/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Initialize rate oracle client
	converter, err := oracle.NewClient(&cfg.Oracle, log.Named("oracle"))
	if err != nil {
		log.Fatal("Failed to initialize oracle client", zap.Error(err))
	}

	seedMin, seedMax, slippage, err := walletPolicy(&cfg.Wallet)
	if err != nil {
		log.Fatal("Invalid wallet configuration", zap.Error(err))
	}

	// Wire up the core components
	led := ledger.New(db, log.Named("ledger"), seedMin, seedMax)
	store := quotes.NewStore(db, log.Named("quotes"), time.Duration(cfg.Wallet.QuoteTTLSeconds)*time.Second)
	notifier := notify.NewEmailNotifier(&cfg.SMTP, log.Named("notify"))
	eng := engine.New(converter, store, led, notifier, log.Named("engine"), slippage)

	handler := server.NewHandler(eng, led, log)
	srv := server.New(cfg.Server.Port, handler, log)
	srv.Start()

	// Wait for shutdown signal
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	<-sigchan
	log.Info("Shutdown signal received, gracefully shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}

	log.Info("Wallet service has been shut down.")
}

// walletPolicy parses the decimal-valued policy knobs from config.
func walletPolicy(cfg *config.Wallet) (seedMin, seedMax, slippage decimal.Decimal, err error) {
	if seedMin, err = decimal.NewFromString(cfg.SeedMin); err != nil {
		return seedMin, seedMax, slippage, fmt.Errorf("invalid seed_min %q: %w", cfg.SeedMin, err)
	}
	if seedMax, err = decimal.NewFromString(cfg.SeedMax); err != nil {
		return seedMin, seedMax, slippage, fmt.Errorf("invalid seed_max %q: %w", cfg.SeedMax, err)
	}
	if slippage, err = decimal.NewFromString(cfg.SlippageTolerance); err != nil {
		return seedMin, seedMax, slippage, fmt.Errorf("invalid slippage_tolerance %q: %w", cfg.SlippageTolerance, err)
	}
	return seedMin, seedMax, slippage, nil
}
