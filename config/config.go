package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerConfig    ServerConfig    `json:"server"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	AuthConfig      AuthConfig      `json:"auth"`
	VaultConfig     VaultConfig     `json:"vault"`
	LoggingConfig   LoggingConfig   `json:"logging"`
	LicenseConfig   LicenseConfig   `json:"license"`
	RateLimitConfig RateLimitConfig `json:"rate_limit"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"` // CORS allowed origins
	TrustedProxies  string `json:"trusted_proxies"` // comma separated IPs/CIDRs allowed to set X-Forwarded-For
	Production      bool   `json:"production"`      // gin release mode
	TLSEnabled      bool   `json:"tls_enabled"`
	TLSCertFile     string `json:"tls_cert_file"`
	TLSKeyFile      string `json:"tls_key_file"`
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects and configures the license store
type DatabaseConfig struct {
	Driver          string        `json:"driver"` // postgres or memory
	URL             string        `json:"url"`
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	Name            string        `json:"name"`
	SSLMode         string        `json:"sslmode"`
	MaxConns        int32         `json:"max_conns"`
	MinConns        int32         `json:"min_conns"`
	MaxConnLifetime time.Duration `json:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `json:"max_conn_idle_time"`
	AutoMigrate     bool          `json:"auto_migrate"`
}

// RedisConfig holds Redis configuration for heartbeat presence
type RedisConfig struct {
	Enabled      bool          `json:"enabled"`
	Address      string        `json:"address"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	HeartbeatTTL time.Duration `json:"heartbeat_ttl"`
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	JWTSecret       string        `json:"jwt_secret"`
	Issuer          string        `json:"issuer"`
	TokenDuration   time.Duration `json:"token_duration"`
	BootstrapAPIKey string        `json:"bootstrap_api_key"`
	BcryptCost      int           `json:"bcrypt_cost"`
	KeyCacheTTL     time.Duration `json:"key_cache_ttl"`
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV v2 secrets engine mount path
	SecretPath string `json:"secret_path"` // Path of the gateway's secret under the mount
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// LicenseConfig holds license lifecycle and recorder settings
type LicenseConfig struct {
	InitialStatus   string        `json:"initial_status"`
	RecorderBuffer  int           `json:"recorder_buffer"`
	RecorderWorkers int           `json:"recorder_workers"`
	RecorderTimeout time.Duration `json:"recorder_timeout"`
}

// RateLimitConfig holds the per-client-IP limiter settings
type RateLimitConfig struct {
	Enabled           bool    `json:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

func Load() (*Config, error) {
	return LoadFile("config.json")
}

// LoadFile loads .env (when present), then the given JSON file (when present),
// then applies environment overrides.
func LoadFile(filename string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg, err := loadFromFile(filename)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = defaultConfig()
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Values from config.json act as the defaults.
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("PORT", orInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("HOST", orString(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", orString(cfg.ServerConfig.AllowedOrigins, "*"))
	cfg.ServerConfig.TrustedProxies = getEnvOrDefault("SERVER_TRUSTED_PROXIES", cfg.ServerConfig.TrustedProxies)
	cfg.ServerConfig.Production = getEnvBoolOrDefault("SERVER_PRODUCTION", cfg.ServerConfig.Production)
	cfg.ServerConfig.TLSEnabled = getEnvBoolOrDefault("SERVER_TLS_ENABLED", cfg.ServerConfig.TLSEnabled)
	cfg.ServerConfig.TLSCertFile = getEnvOrDefault("SERVER_TLS_CERT", cfg.ServerConfig.TLSCertFile)
	cfg.ServerConfig.TLSKeyFile = getEnvOrDefault("SERVER_TLS_KEY", cfg.ServerConfig.TLSKeyFile)
	cfg.ServerConfig.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", orInt(cfg.ServerConfig.ReadTimeout, 15))
	cfg.ServerConfig.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", orInt(cfg.ServerConfig.WriteTimeout, 15))
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", orInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Database config
	cfg.DatabaseConfig.Driver = strings.ToLower(getEnvOrDefault("DB_DRIVER", orString(cfg.DatabaseConfig.Driver, "postgres")))
	cfg.DatabaseConfig.URL = getEnvOrDefault("DATABASE_URL", cfg.DatabaseConfig.URL)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", orString(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", orInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", orString(cfg.DatabaseConfig.User, "license_gateway"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Name = getEnvOrDefault("DB_NAME", orString(cfg.DatabaseConfig.Name, "license_gateway"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", orString(cfg.DatabaseConfig.SSLMode, "disable"))
	cfg.DatabaseConfig.MaxConns = int32(getEnvIntOrDefault("DB_MAX_CONNS", orInt(int(cfg.DatabaseConfig.MaxConns), 20)))
	cfg.DatabaseConfig.MinConns = int32(getEnvIntOrDefault("DB_MIN_CONNS", orInt(int(cfg.DatabaseConfig.MinConns), 2)))
	cfg.DatabaseConfig.MaxConnLifetime = getEnvDurationOrDefault("DB_MAX_CONN_LIFETIME", orDuration(cfg.DatabaseConfig.MaxConnLifetime, time.Hour))
	cfg.DatabaseConfig.MaxConnIdleTime = getEnvDurationOrDefault("DB_MAX_CONN_IDLE_TIME", orDuration(cfg.DatabaseConfig.MaxConnIdleTime, 30*time.Minute))
	cfg.DatabaseConfig.AutoMigrate = getEnvBoolOrDefault("DB_AUTO_MIGRATE", cfg.DatabaseConfig.AutoMigrate)

	// Redis config
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", orString(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", orInt(cfg.RedisConfig.PoolSize, 10))
	cfg.RedisConfig.HeartbeatTTL = getEnvDurationOrDefault("REDIS_HEARTBEAT_TTL", orDuration(cfg.RedisConfig.HeartbeatTTL, 24*time.Hour))

	// Auth config
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.Issuer = getEnvOrDefault("AUTH_ISSUER", orString(cfg.AuthConfig.Issuer, "license-gateway"))
	cfg.AuthConfig.TokenDuration = getEnvDurationOrDefault("AUTH_TOKEN_DURATION", orDuration(cfg.AuthConfig.TokenDuration, 24*time.Hour))
	cfg.AuthConfig.BootstrapAPIKey = getEnvOrDefault("LICENSE_API_KEY", cfg.AuthConfig.BootstrapAPIKey)
	cfg.AuthConfig.BcryptCost = getEnvIntOrDefault("AUTH_BCRYPT_COST", orInt(cfg.AuthConfig.BcryptCost, 12))
	cfg.AuthConfig.KeyCacheTTL = getEnvDurationOrDefault("AUTH_KEY_CACHE_TTL", orDuration(cfg.AuthConfig.KeyCacheTTL, 5*time.Minute))

	// Vault config
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", orString(cfg.VaultConfig.Address, "http://localhost:8200"))
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", orString(cfg.VaultConfig.MountPath, "secret"))
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", orString(cfg.VaultConfig.SecretPath, "license-gateway"))
	cfg.VaultConfig.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.VaultConfig.TLSEnabled)
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", orString(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", orString(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)

	// License config
	cfg.LicenseConfig.InitialStatus = strings.ToLower(getEnvOrDefault("LICENSE_INITIAL_STATUS", orString(cfg.LicenseConfig.InitialStatus, "pending")))
	cfg.LicenseConfig.RecorderBuffer = getEnvIntOrDefault("LICENSE_RECORDER_BUFFER", orInt(cfg.LicenseConfig.RecorderBuffer, 1024))
	cfg.LicenseConfig.RecorderWorkers = getEnvIntOrDefault("LICENSE_RECORDER_WORKERS", orInt(cfg.LicenseConfig.RecorderWorkers, 2))
	cfg.LicenseConfig.RecorderTimeout = getEnvDurationOrDefault("LICENSE_RECORDER_TIMEOUT", orDuration(cfg.LicenseConfig.RecorderTimeout, 5*time.Second))

	// Rate limit config
	cfg.RateLimitConfig.Enabled = getEnvBoolOrDefault("RATE_LIMIT_ENABLED", cfg.RateLimitConfig.Enabled)
	cfg.RateLimitConfig.RequestsPerSecond = getEnvFloatOrDefault("RATE_LIMIT_RPS", orFloat(cfg.RateLimitConfig.RequestsPerSecond, 20))
	cfg.RateLimitConfig.Burst = getEnvIntOrDefault("RATE_LIMIT_BURST", orInt(cfg.RateLimitConfig.Burst, 40))
}

// Validate rejects settings the server cannot start with
func (c *Config) Validate() error {
	switch c.DatabaseConfig.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q (want postgres or memory)", c.DatabaseConfig.Driver)
	}
	switch c.LicenseConfig.InitialStatus {
	case "pending", "active":
	default:
		return fmt.Errorf("unsupported initial license status %q (want pending or active)", c.LicenseConfig.InitialStatus)
	}
	if c.ServerConfig.Port <= 0 || c.ServerConfig.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.ServerConfig.Port)
	}
	if c.ServerConfig.TLSEnabled && (c.ServerConfig.TLSCertFile == "" || c.ServerConfig.TLSKeyFile == "") {
		return fmt.Errorf("tls enabled but certificate or key file is missing")
	}
	if c.RateLimitConfig.Enabled && (c.RateLimitConfig.RequestsPerSecond <= 0 || c.RateLimitConfig.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive requests_per_second and burst")
	}
	return nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := defaultConfig()
	if err := json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// defaultConfig seeds the booleans whose default is true; a zero value cannot
// tell "false in the file" from "absent"
func defaultConfig() *Config {
	cfg := &Config{}
	cfg.ServerConfig.Production = true
	cfg.DatabaseConfig.AutoMigrate = true
	cfg.LoggingConfig.JSONFormat = true
	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orFloat(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

func orDuration(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			Production:      true,
			ReadTimeout:     15,
			WriteTimeout:    15,
			ShutdownTimeout: 10,
		},
		DatabaseConfig: DatabaseConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			User:     "license_gateway",
			Name:     "license_gateway",
			SSLMode:     "disable",
			MaxConns:    20,
			MinConns:    2,
			AutoMigrate: true,
		},
		RedisConfig: RedisConfig{
			Enabled:      false,
			Address:      "localhost:6379",
			PoolSize:     10,
			HeartbeatTTL: 24 * time.Hour,
		},
		AuthConfig: AuthConfig{
			Issuer:        "license-gateway",
			TokenDuration: 24 * time.Hour,
			BcryptCost:    12,
		},
		VaultConfig: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "license-gateway",
		},
		LoggingConfig: LoggingConfig{
			Level:       "INFO",
			Output:      "stdout",
			JSONFormat:  true,
			IncludeFile: false,
		},
		LicenseConfig: LicenseConfig{
			InitialStatus:   "pending",
			RecorderBuffer:  1024,
			RecorderWorkers: 2,
		},
		RateLimitConfig: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 20,
			Burst:             40,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
