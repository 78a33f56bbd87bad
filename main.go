package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"license-gateway/config"
	"license-gateway/internal/api"
	"license-gateway/internal/auth"
	"license-gateway/internal/cache"
	"license-gateway/internal/events"
	"license-gateway/internal/license"
	"license-gateway/internal/logging"
	"license-gateway/internal/metrics"
	"license-gateway/internal/storage"
	"license-gateway/internal/vault"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "license-gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize structured logging
	logger, closer, err := logging.New(logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
	})
	if err != nil {
		return err
	}
	defer closer.Close()
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Overlay secrets from Vault before anything connects
	if cfg.VaultConfig.Enabled {
		if err := loadVaultSecrets(ctx, cfg, logger); err != nil {
			return err
		}
	}

	store, err := storage.Open(ctx, cfg.DatabaseConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()
	logger.Info().Str("driver", store.Driver).Msg("license store ready")

	m := metrics.New()
	bus := events.NewEventBus()
	recorder := events.NewRecorder(store, bus, m, events.Config{
		BufferSize:   cfg.LicenseConfig.RecorderBuffer,
		Workers:      cfg.LicenseConfig.RecorderWorkers,
		WriteTimeout: cfg.LicenseConfig.RecorderTimeout,
	}, logger)

	// Heartbeat presence is optional; the manager treats a nil tracker as off
	var (
		presence     license.PresenceTracker
		presenceInfo *cache.CacheService
	)
	if cfg.RedisConfig.Enabled {
		cs, err := cache.NewCacheService(cfg.RedisConfig, logger)
		if err != nil {
			return fmt.Errorf("failed to create presence cache: %w", err)
		}
		defer cs.Close()
		presence, presenceInfo = cs, cs
	}

	keys := auth.NewKeyService(store, auth.Config{
		BcryptCost: cfg.AuthConfig.BcryptCost,
		CacheTTL:   cfg.AuthConfig.KeyCacheTTL,
	}, logger)
	if err := bootstrapKey(ctx, keys, cfg, store.Driver, logger); err != nil {
		return err
	}

	var tokens *auth.JWTManager
	if cfg.AuthConfig.JWTSecret != "" {
		tokens = auth.NewJWTManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.Issuer, cfg.AuthConfig.TokenDuration)
	}

	server := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		ProductionMode: cfg.ServerConfig.Production,
		AllowedOrigins: api.ParseList(cfg.ServerConfig.AllowedOrigins),
		TrustedProxies: api.ParseList(cfg.ServerConfig.TrustedProxies),
		ReadTimeout:    time.Duration(cfg.ServerConfig.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.ServerConfig.WriteTimeout) * time.Second,
		TLSCertFile:    cfg.ServerConfig.TLSCertFile,
		TLSKeyFile:     cfg.ServerConfig.TLSKeyFile,
		RateLimit: api.RateLimitConfig{
			Enabled:           cfg.RateLimitConfig.Enabled,
			RequestsPerSecond: cfg.RateLimitConfig.RequestsPerSecond,
			Burst:             cfg.RateLimitConfig.Burst,
		},
	}, api.Deps{
		Validator: license.NewValidator(store, recorder, logger),
		Manager:   license.NewManager(store, recorder, presence, logger),
		Store:     store,
		Auth:      auth.NewAuthenticator(keys, tokens, logger),
		Bus:       bus,
		Recorder:  recorder,
		Presence:  presenceInfo,
		Metrics:   m,
		Logger:    logger,
	})

	shutdownTimeout := time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown failed")
		}
		// Drain audit events only after no request can record new ones
		return recorder.Close(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info().Msg("shutdown complete")
	return nil
}

func loadVaultSecrets(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	client, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		return err
	}
	if err := client.Health(ctx); err != nil {
		return err
	}
	secrets, err := client.LoadSecrets(ctx)
	if errors.Is(err, vault.ErrSecretNotFound) {
		logger.Warn().Str("path", cfg.VaultConfig.SecretPath).Msg("no gateway secret in vault, keeping local configuration")
		return nil
	}
	if err != nil {
		return err
	}
	secrets.Apply(cfg)
	logger.Info().Str("path", cfg.VaultConfig.SecretPath).Msg("secrets loaded from vault")
	return nil
}

// bootstrapKey registers the configured API key. A memory store without one
// gets a generated admin key so the gateway is usable in development.
func bootstrapKey(ctx context.Context, keys *auth.KeyService, cfg *config.Config, driver string, logger zerolog.Logger) error {
	if raw := cfg.AuthConfig.BootstrapAPIKey; raw != "" {
		if _, err := keys.Bootstrap(ctx, raw, auth.ScopeAdmin); err != nil {
			return fmt.Errorf("failed to register bootstrap API key: %w", err)
		}
		return nil
	}
	if driver != "memory" {
		return nil
	}

	raw, _, err := keys.Generate(ctx, "development", auth.ScopeAdmin)
	if err != nil {
		return fmt.Errorf("failed to generate development API key: %w", err)
	}
	logger.Warn().Str("api_key", raw).Msg("no LICENSE_API_KEY configured, generated a development admin key")
	return nil
}
