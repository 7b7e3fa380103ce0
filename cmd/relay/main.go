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

	"github.com/joho/godotenv"
	"github.com/nightyworks/dm-relay-bridge/internal/app"
	"github.com/nightyworks/dm-relay-bridge/internal/config"
	"github.com/nightyworks/dm-relay-bridge/internal/discord"
	"github.com/nightyworks/dm-relay-bridge/internal/domain"
	"github.com/nightyworks/dm-relay-bridge/internal/logging"
	"github.com/nightyworks/dm-relay-bridge/internal/service"
	"github.com/nightyworks/dm-relay-bridge/internal/storage"
	"github.com/nightyworks/dm-relay-bridge/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "relay: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg)
	if err != nil {
		return err
	}

	telemetry.Init()

	store, err := storage.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		return err
	}

	client, err := discord.NewClient(cfg.BotToken, logger)
	if err != nil {
		return err
	}

	owners := domain.NewOwnerSet(cfg.OwnerUserIDs)
	relays := service.NewRelayService(logger, client, store, cfg.GuildID, cfg.CategoryID)
	forwarder := service.NewForwardService(logger, client, relays, cfg.AttachmentLimitBytes)
	confirms := service.NewConfirmations(owners, 60*time.Second)
	runtime := discord.NewRuntime(logger, client, owners, relays, forwarder, confirms, cfg.GuildID)

	healthServer := app.NewHealthServer(cfg, logger, client.CheckConnectivity, store.Ping, relays.Snapshot)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- healthServer.ListenAndServe()
	}()

	if err := runtime.Start(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	defer runtime.Stop()

	logger.Info("dm relay bridge serving",
		"guild_id", cfg.GuildID,
		"category_id", cfg.CategoryID,
		"health_port", cfg.HealthPort,
	)

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		logger.Info("shutting down relay bridge")
		if err := healthServer.Shutdown(shutdownCtx); err != nil && !app.IsServerClosed(err) {
			return err
		}
		return nil
	case err := <-errCh:
		if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
