package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/clashforge/bracket-engine/config"
	"github.com/clashforge/bracket-engine/db"
	"github.com/clashforge/bracket-engine/events"
	"github.com/clashforge/bracket-engine/repositories"
	"github.com/clashforge/bracket-engine/services"
	"github.com/clashforge/bracket-engine/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	dbConn, err := db.Connect(cfg.DatabaseURL, 5*time.Second)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close database connection", slog.Any("error", err))
		}
	}()
	logger.Info("database connection established")

	evidenceStore, err := storage.NewCloudflareR2Store(storage.CloudflareR2Config{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		SecretAccessKey: cfg.R2SecretAccessKey,
		BucketName:      cfg.R2BucketName,
		PublicBaseURL:   cfg.R2PublicBaseURL,
	})
	if err != nil {
		logger.Error("failed to initialize evidence store", slog.Any("error", err))
		os.Exit(1)
	}

	hub := events.NewHub(logger)
	go hub.Run()
	publisher := events.NewHubPublisher(hub, logger)

	tournamentRepo := repositories.NewPostgresTournamentRepository(dbConn)
	nodeRepo := repositories.NewPostgresBracketNodeRepository(dbConn)
	matchRepo := repositories.NewPostgresMatchRepository(dbConn)
	groupRepo := repositories.NewPostgresGroupRepository(dbConn)
	standingRepo := repositories.NewPostgresStandingRepository(dbConn)
	submissionRepo := repositories.NewPostgresSubmissionRepository(dbConn)
	disputeRepo := repositories.NewPostgresDisputeRepository(dbConn)
	transitionRepo := repositories.NewPostgresTransitionRepository(dbConn)

	rules := config.NewRulesResolver()
	locks := services.NewMatchLocks()

	standingsService := services.NewStandingsService(
		groupRepo, standingRepo, matchRepo, tournamentRepo, rules, publisher, logger)
	advancementService := services.NewAdvancementService(
		dbConn, nodeRepo, matchRepo, transitionRepo, tournamentRepo,
		standingsService, rules, publisher, logger)
	matchService := services.NewMatchService(
		dbConn, matchRepo, transitionRepo, tournamentRepo, rules,
		advancementService, locks, logger)
	resultService := services.NewResultService(
		dbConn, matchRepo, submissionRepo, disputeRepo, transitionRepo,
		tournamentRepo, rules, advancementService, publisher, locks, logger)
	disputeService := services.NewDisputeService(
		dbConn, disputeRepo, matchRepo, submissionRepo, transitionRepo,
		tournamentRepo, rules, advancementService, publisher, evidenceStore, locks, logger)
	logger.Info("engine services initialized")

	sweeper, err := services.NewSweeper(matchService, resultService, disputeService, logger)
	if err != nil {
		logger.Error("failed to create deadline sweeper", slog.Any("error", err))
		os.Exit(1)
	}
	if err := sweeper.Start(cfg.SweepInterval); err != nil {
		logger.Error("failed to start deadline sweeper", slog.Any("error", err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/events", events.SubscribeHandler(hub, logger))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.EventHubPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("event hub listening", slog.Int("port", cfg.EventHubPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("event hub server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("event hub shutdown failed", slog.Any("error", err))
	}
	if err := sweeper.Stop(); err != nil {
		logger.Error("sweeper shutdown failed", slog.Any("error", err))
	}
	logger.Info("shutdown complete")
}
