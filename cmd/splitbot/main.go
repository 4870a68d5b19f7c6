package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/susu3304/splitbot/internal/api"
	"github.com/susu3304/splitbot/internal/bot"
	"github.com/susu3304/splitbot/internal/config"
	"github.com/susu3304/splitbot/internal/conversation"
	"github.com/susu3304/splitbot/internal/db"
	"github.com/susu3304/splitbot/internal/extract"
	"github.com/susu3304/splitbot/internal/logging"
	"github.com/susu3304/splitbot/internal/paylink"
	"github.com/susu3304/splitbot/internal/pricefeed"
	"github.com/susu3304/splitbot/internal/sessionstore"
	"github.com/susu3304/splitbot/internal/split"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("splitbot stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	machineCfg := conversation.Config{
		Extractor: extract.NewVisionClient(extract.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.VisionModel,
			Timeout: cfg.ExtractTimeout,
			Retry:   cfg.RetryPolicy(),
			RPS:     cfg.ExtractRPS,
			Logger:  logger.Named("extract"),
		}),
		Calculator: split.Calculator{
			CryptoPlaces:    int32(cfg.CryptoPlaces),
			MaxParticipants: cfg.MaxParticipants,
		},
		Encoder:        paylink.Encoder{Decimals: int32(cfg.WeiDecimals)},
		ChainID:        cfg.ChainID,
		Asset:          cfg.CryptoAsset,
		SessionTimeout: cfg.SessionTimeout,
		Logger:         logger.Named("conversation"),
	}

	prices, err := priceFeed(cfg)
	if err != nil {
		return err
	}
	machineCfg.Prices = prices

	// Connect to database
	var database *db.DB
	if cfg.DatabaseURL != "" {
		database, err = db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()

		if err := database.RunMigrations(ctx); err != nil {
			return err
		}
		machineCfg.Ledger = database
	} else {
		logger.Warn("DATABASE_URL not set, payment requests will not be recorded")
	}

	if cfg.RedisAddr != "" {
		client, err := sessionstore.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return err
		}
		defer client.Close()
		machineCfg.Store = sessionstore.New(client, cfg.SessionTimeout)
	}

	registry := conversation.NewRegistry()
	machine := conversation.New(registry, machineCfg)

	// Every transport gets the whole extraction budget per event.
	eventTimeout := cfg.EventTimeout()

	deps := api.Deps{
		Conversation: machine,
		Sessions:     registry,
		Logger:       logger,
		EventTimeout: eventTimeout,
	}
	if database != nil {
		deps.Payments = database
	}
	apiServer := api.New(cfg, deps)

	notify := func(_ context.Context, msg conversation.Outbound) {}
	if !cfg.DiscordDisabled {
		// Initialize Discord bot
		discordBot, err := bot.New(cfg.DiscordToken, bot.Options{
			Conversation: machine,
			Sessions:     registry,
			Logger:       logger,
			EventTimeout: eventTimeout,
		})
		if err != nil {
			return err
		}
		if err := discordBot.Start(); err != nil {
			return err
		}
		defer discordBot.Stop()
		notify = discordBot.Notify
	}

	sweeper := bot.NewSweeper(machine, cfg.SweepInterval, notify, logger)
	sweeper.Start()
	defer sweeper.Stop()

	// Start API server
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- apiServer.Start()
	}()

	// Wait for signal to stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return apiServer.Shutdown(shutdownCtx)
}

func priceFeed(cfg *config.Config) (pricefeed.Feed, error) {
	if cfg.PriceFeedURL != "" {
		return pricefeed.NewHTTPFeed(cfg.PriceFeedURL, cfg.CryptoAsset, cfg.PriceTimeout), nil
	}
	rates, err := cfg.Prices()
	if err != nil {
		return nil, err
	}
	return &pricefeed.Static{Asset: cfg.CryptoAsset, Rates: rates}, nil
}
