package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.ServerConfig.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.ServerConfig.Port)
	}
	if cfg.DatabaseConfig.Driver != "postgres" {
		t.Errorf("Driver = %q, want postgres", cfg.DatabaseConfig.Driver)
	}
	if cfg.LicenseConfig.InitialStatus != "pending" {
		t.Errorf("InitialStatus = %q, want pending", cfg.LicenseConfig.InitialStatus)
	}
	if cfg.RedisConfig.HeartbeatTTL != 24*time.Hour {
		t.Errorf("HeartbeatTTL = %v, want 24h", cfg.RedisConfig.HeartbeatTTL)
	}
	if cfg.RateLimitConfig.Enabled {
		t.Error("rate limiting should be off by default")
	}
	if !cfg.DatabaseConfig.AutoMigrate || !cfg.LoggingConfig.JSONFormat || !cfg.ServerConfig.Production {
		t.Errorf("boolean defaults = migrate %v json %v production %v, want all true",
			cfg.DatabaseConfig.AutoMigrate, cfg.LoggingConfig.JSONFormat, cfg.ServerConfig.Production)
	}
	if cfg.ServerConfig.TrustedProxies != "" {
		t.Errorf("TrustedProxies = %q, want none", cfg.ServerConfig.TrustedProxies)
	}
}

func TestFileDisablesBooleanDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"server": {"production": false, "trusted_proxies": "10.0.0.0/8"},
		"database": {"driver": "memory", "auto_migrate": false},
		"logging": {"json_format": false}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.DatabaseConfig.AutoMigrate {
		t.Error("auto_migrate false in the file was overridden")
	}
	if cfg.LoggingConfig.JSONFormat {
		t.Error("json_format false in the file was overridden")
	}
	if cfg.ServerConfig.Production {
		t.Error("production false in the file was overridden")
	}
	if cfg.ServerConfig.TrustedProxies != "10.0.0.0/8" {
		t.Errorf("TrustedProxies = %q, want 10.0.0.0/8", cfg.ServerConfig.TrustedProxies)
	}

	t.Setenv("LOG_JSON", "true")
	t.Setenv("SERVER_PRODUCTION", "true")
	cfg, err = LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !cfg.LoggingConfig.JSONFormat || !cfg.ServerConfig.Production {
		t.Error("environment should still win over the file")
	}
	if cfg.DatabaseConfig.AutoMigrate {
		t.Error("auto_migrate should keep the file value")
	}
}

func TestFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"server": {"port": 9000, "host": "127.0.0.1"},
		"database": {"driver": "memory"},
		"license": {"initial_status": "active", "recorder_workers": 4}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PORT", "9100")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_HEARTBEAT_TTL", "90s")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"env wins over file", cfg.ServerConfig.Port, 9100},
		{"file value kept", cfg.ServerConfig.Host, "127.0.0.1"},
		{"driver from file", cfg.DatabaseConfig.Driver, "memory"},
		{"status from file", cfg.LicenseConfig.InitialStatus, "active"},
		{"workers from file", cfg.LicenseConfig.RecorderWorkers, 4},
		{"buffer default", cfg.LicenseConfig.RecorderBuffer, 1024},
		{"redis enabled", cfg.RedisConfig.Enabled, true},
		{"ttl from env", cfg.RedisConfig.HeartbeatTTL, 90 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"DB_DRIVER": "sqlite"}},
		{"unknown status", map[string]string{"LICENSE_INITIAL_STATUS": "expired"}},
		{"bad port", map[string]string{"PORT": "70000"}},
		{"tls without cert", map[string]string{"SERVER_TLS_ENABLED": "true"}},
		{"zero rate", map[string]string{"RATE_LIMIT_ENABLED": "true", "RATE_LIMIT_RPS": "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Error("expected a parse error")
	}
}

func TestGenerateSampleConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")
	if err := GenerateSampleConfig(path); err != nil {
		t.Fatalf("GenerateSampleConfig: %v", err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile(sample): %v", err)
	}
	if cfg.VaultConfig.SecretPath != "license-gateway" {
		t.Errorf("SecretPath = %q", cfg.VaultConfig.SecretPath)
	}
}
