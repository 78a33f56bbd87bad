// Package storage selects the license store backend from configuration.
package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"license-gateway/config"
	"license-gateway/internal/auth"
	"license-gateway/internal/database"
	"license-gateway/internal/license"
	"license-gateway/internal/memstore"
)

// Backend is everything the gateway persists: licenses, audit events and
// API keys
type Backend interface {
	license.AdminStore
	license.EventSink
	license.EventHistory
	auth.KeyStore
}

// Handle is an opened backend
type Handle struct {
	Backend
	Driver string
	db     *database.DB
}

// Close releases the connection pool, if any
func (h *Handle) Close() {
	if h.db != nil {
		h.db.Close()
	}
}

// Open connects to the configured store, running migrations for PostgreSQL
// when AutoMigrate is set
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Handle, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn().Msg("using the in-memory store; data is lost on restart")
		return &Handle{Backend: memstore.New(), Driver: cfg.Driver}, nil

	case "postgres", "":
		db, err := database.NewDB(ctx, database.Config{
			URL:             cfg.URL,
			Host:            cfg.Host,
			Port:            cfg.Port,
			User:            cfg.User,
			Password:        cfg.Password,
			Database:        cfg.Name,
			SSLMode:         cfg.SSLMode,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLifetime,
			MaxConnIdleTime: cfg.MaxConnIdleTime,
		}, logger)
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := db.RunMigrations(ctx); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		return &Handle{Backend: database.NewRepository(db), Driver: "postgres", db: db}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
