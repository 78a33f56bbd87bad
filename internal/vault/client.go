package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/vault/api"

	"license-gateway/config"
)

// ErrSecretNotFound is returned when the gateway secret does not exist
var ErrSecretNotFound = errors.New("secret not found")

// Secrets are the gateway credentials kept in Vault
type Secrets struct {
	DatabasePassword string `json:"database_password"`
	JWTSecret        string `json:"jwt_secret"`
	RedisPassword    string `json:"redis_password"`
	BootstrapAPIKey  string `json:"bootstrap_api_key"`
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		client: client,
		config: cfg,
	}, nil
}

// LoadSecrets reads the gateway secret from the KV v2 engine
func (c *Client) LoadSecrets(ctx context.Context) (*Secrets, error) {
	if !c.config.Enabled {
		return nil, fmt.Errorf("vault is disabled")
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.secretPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, ErrSecretNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format")
	}

	return &Secrets{
		DatabasePassword: getString(data, "database_password"),
		JWTSecret:        getString(data, "jwt_secret"),
		RedisPassword:    getString(data, "redis_password"),
		BootstrapAPIKey:  getString(data, "bootstrap_api_key"),
	}, nil
}

// StoreSecrets writes the gateway secret, replacing the current version
func (c *Client) StoreSecrets(ctx context.Context, s Secrets) error {
	if !c.config.Enabled {
		return fmt.Errorf("vault is disabled")
	}

	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"database_password": s.DatabasePassword,
			"jwt_secret":        s.JWTSecret,
			"redis_password":    s.RedisPassword,
			"bootstrap_api_key": s.BootstrapAPIKey,
		},
	}

	if _, err := c.client.Logical().WriteWithContext(ctx, c.secretPath(), payload); err != nil {
		return fmt.Errorf("failed to store secret in vault: %w", err)
	}
	return nil
}

// Apply overlays every non-empty secret onto cfg
func (s *Secrets) Apply(cfg *config.Config) {
	if s.DatabasePassword != "" {
		cfg.DatabaseConfig.Password = s.DatabasePassword
	}
	if s.JWTSecret != "" {
		cfg.AuthConfig.JWTSecret = s.JWTSecret
	}
	if s.RedisPassword != "" {
		cfg.RedisConfig.Password = s.RedisPassword
	}
	if s.BootstrapAPIKey != "" {
		cfg.AuthConfig.BootstrapAPIKey = s.BootstrapAPIKey
	}
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

// secretPath returns the KV v2 data path of the gateway secret
func (c *Client) secretPath() string {
	return fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
