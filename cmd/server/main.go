// Package main is the entry point for the loyalty rewards service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"loyalty-service/internal/config"
	"loyalty-service/internal/httpapi"
	"loyalty-service/internal/model"
	"loyalty-service/internal/pkg/db"
	"loyalty-service/internal/pkg/lock"
	"loyalty-service/internal/pkg/mail"
	"loyalty-service/internal/pkg/ocr"
	"loyalty-service/internal/pkg/token"
	"loyalty-service/internal/repository"
	"loyalty-service/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := db.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(dbPool.Pool)
	storeRepo := repository.NewSupermarketRepository(dbPool.Pool)
	campaignRepo := repository.NewCampaignRepository(dbPool.Pool)
	receiptRepo := repository.NewReceiptRepository(dbPool.Pool)
	rewardRepo := repository.NewRewardRepository(dbPool.Pool)
	notificationRepo := repository.NewNotificationRepository(dbPool.Pool)
	ledgerRepo := repository.NewPointTxRepository(dbPool.Pool)

	// Initialize collaborators
	tokens := token.NewManager(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
	mailer := mail.NewClient(cfg.Mail.BaseURL, cfg.Mail.APIKey, cfg.Mail.From)
	extractor := ocr.NewClient(cfg.OCR.BaseURL, cfg.OCR.APIKey, cfg.OCR.Timeout)
	userLock := lock.NewUserLock()

	segmentRules := model.DefaultSegmentRules
	if cfg.Points.VIPSpend > 0 {
		segmentRules.VIPSpend = cfg.Points.VIPSpend
	}

	// Initialize services
	pipeline := service.NewReceiptPipeline(
		dbPool.Pool,
		userRepo,
		storeRepo,
		campaignRepo,
		receiptRepo,
		notificationRepo,
		ledgerRepo,
		userLock,
		service.PipelineSettings{
			CurrencyPerPoint:     cfg.Points.CurrencyPerPoint,
			AutoVerifyConfidence: cfg.Pipeline.AutoVerifyConfidence,
			MinConfidence:        cfg.Pipeline.MinConfidence,
			MaxAmount:            cfg.Pipeline.MaxAmount,
			RateLimitWindow:      cfg.Pipeline.RateLimitWindow,
			RateLimitMax:         cfg.Pipeline.RateLimitMax,
			ExpiryMonths:         cfg.Points.ExpiryMonths,
			SegmentRules:         segmentRules,
		},
	)

	accountService := service.NewAccountService(
		dbPool.Pool,
		userRepo,
		rewardRepo,
		receiptRepo,
		ledgerRepo,
		notificationRepo,
		mailer,
		userLock,
		service.AccountSettings{
			SignupBonus:  cfg.Points.SignupBonus,
			ExpiryMonths: cfg.Points.ExpiryMonths,
			SegmentRules: segmentRules,
		},
	)

	authService := service.NewAuthService(userRepo, tokens, mailer, cfg.IsAdmin, cfg.Auth.OTPTTL)

	expirationService := service.NewExpirationService(
		dbPool.Pool, userRepo, ledgerRepo, notificationRepo, cfg.Points.WarningDays)

	// Start the expiration sweep in the background
	go expirationService.Run(ctx, cfg.Pipeline.SweepInterval)

	// Assemble the HTTP server
	handler := httpapi.NewHandler(
		authService, accountService, pipeline, extractor,
		userRepo, storeRepo, campaignRepo, receiptRepo, rewardRepo,
		dbPool, tokens,
		cfg.Server.RatePerSecond, cfg.Server.RateBurst,
	)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
