// Command license-admin manages products, licensees, licenses and API keys
// directly against the configured store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"license-gateway/config"
	"license-gateway/internal/auth"
	"license-gateway/internal/events"
	"license-gateway/internal/license"
	"license-gateway/internal/logging"
	"license-gateway/internal/storage"
	"license-gateway/internal/vault"
)

func main() {
	if len(os.Args) < 2 || os.Args[1] == "help" || os.Args[1] == "-h" {
		fmt.Print(usage)
		return
	}
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "license-admin: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, closer, err := logging.New(logging.Config{
		Level:      "warn",
		Output:     "stderr",
		Component:  "license-admin",
		JSONFormat: false,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var vc *vault.Client
	if cfg.VaultConfig.Enabled {
		if vc, err = vault.NewClient(cfg.VaultConfig); err != nil {
			return err
		}
		if args[0] != "vault" {
			secrets, err := vc.LoadSecrets(ctx)
			if err == nil {
				secrets.Apply(cfg)
			}
		}
	}

	// vault put only needs the configuration, not a store
	if args[0] == "vault" {
		a := &app{cfg: cfg, vault: vc, out: os.Stdout}
		return a.dispatch(ctx, args)
	}

	if cfg.DatabaseConfig.Driver == "memory" {
		return fmt.Errorf("the memory driver has no shared state; set DB_DRIVER=postgres")
	}
	store, err := storage.Open(ctx, cfg.DatabaseConfig, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	recorder := events.NewRecorder(store, nil, nil, events.Config{BufferSize: 16, Workers: 1}, logger)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		recorder.Close(closeCtx)
	}()

	status, _ := license.ParseStatus(cfg.LicenseConfig.InitialStatus)
	keys := auth.NewKeyService(store, auth.Config{BcryptCost: cfg.AuthConfig.BcryptCost}, logger)
	a := &app{
		cfg:     cfg,
		admin:   license.NewAdmin(store, recorder, status, logger),
		history: store,
		keys:    keys,
		vault:   vc,
		out:     os.Stdout,
	}
	if cfg.AuthConfig.JWTSecret != "" {
		a.tokens = auth.NewJWTManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.Issuer, cfg.AuthConfig.TokenDuration)
	}
	return a.dispatch(ctx, args)
}

const usage = `usage: license-admin <command> [flags]

commands:
  product create  -name NAME [-version V] [-price P]
  product retire  -id ID
  user create     -name NAME [-company C] [-role user|admin]
  license create  -product ID -user ID [-max N] [-expires DATE]
  license show    -id ID
  license status  -id ID -to pending|active|expired|suspended
  license renew   -id ID [-expires DATE]     (no date makes it perpetual)
  license reset-binding -id ID
  license events  -id ID [-limit N]
  key create      -name NAME [-scope client|admin]
  key list
  key revoke      -id ID
  token issue     -subject S [-name N] [-scope client|admin] [-ttl 24h]
  vault put       store the configured secrets in Vault

DATE is RFC 3339 or YYYY-MM-DD. Configuration is read from config.json and
the environment, the same way the gateway reads it.
`
