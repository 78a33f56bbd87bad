package auth

import (
	"context"
	"errors"
	"time"
)

// Scope is the permission level of a credential
type Scope string

const (
	// ScopeClient may call the licensing endpoints
	ScopeClient Scope = "client"
	// ScopeAdmin may additionally watch the live event stream
	ScopeAdmin Scope = "admin"
)

// ParseScope converts a string to a Scope
func ParseScope(s string) (Scope, bool) {
	switch Scope(s) {
	case ScopeClient, ScopeAdmin:
		return Scope(s), true
	default:
		return "", false
	}
}

// Allows reports whether a credential with scope s may act with scope need
func (s Scope) Allows(need Scope) bool {
	if s == ScopeAdmin {
		return true
	}
	return s == need
}

// APIKey is a stored API key. The raw key is shown once at creation; only the
// bcrypt hash is kept.
type APIKey struct {
	ID         string     `json:"id" db:"id"`
	Name       string     `json:"name" db:"name"`
	Prefix     string     `json:"prefix" db:"prefix"`
	Hash       string     `json:"-" db:"key_hash"`
	Scope      Scope      `json:"scope" db:"scope"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// Revoked reports whether the key has been revoked
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// KeyStore persists API keys
type KeyStore interface {
	CreateAPIKey(ctx context.Context, k *APIKey) error
	// FindAPIKeyByPrefix returns ErrKeyNotFound when no key has the prefix
	FindAPIKeyByPrefix(ctx context.Context, prefix string) (*APIKey, error)
	ListAPIKeys(ctx context.Context) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, id string, at time.Time) error
	TouchAPIKey(ctx context.Context, id string, at time.Time) error
}

// ErrKeyNotFound is returned by a KeyStore for an unknown key
var ErrKeyNotFound = errors.New("api key not found")

// Principal is the authenticated caller of a request
type Principal struct {
	Subject string `json:"subject"`
	Name    string `json:"name"`
	Scope   Scope  `json:"scope"`
	// Method is "api_key" or "token"
	Method string `json:"method"`
}

// Config holds authentication configuration
type Config struct {
	JWTSecret     string        `json:"jwt_secret"`
	Issuer        string        `json:"issuer"`
	TokenDuration time.Duration `json:"token_duration"`
	// BootstrapAPIKey is registered at startup when no key with its prefix exists
	BootstrapAPIKey string        `json:"bootstrap_api_key"`
	BcryptCost      int           `json:"bcrypt_cost"`
	CacheTTL        time.Duration `json:"cache_ttl"`
}

// DefaultConfig returns default authentication configuration
func DefaultConfig() Config {
	return Config{
		Issuer:        "license-gateway",
		TokenDuration: 24 * time.Hour,
		BcryptCost:    DefaultBcryptCost,
		CacheTTL:      5 * time.Minute,
	}
}

// AuthError is an authentication failure returned to HTTP clients
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrAPIKeyRequired = AuthError{Code: "api_key_required", Message: "an API key or bearer token is required"}
	ErrInvalidAPIKey  = AuthError{Code: "invalid_api_key", Message: "invalid API key"}
	ErrInvalidToken   = AuthError{Code: "invalid_api_key", Message: "invalid or expired token"}
	ErrTokenExpired   = AuthError{Code: "invalid_api_key", Message: "token has expired"}
	ErrForbidden      = AuthError{Code: "forbidden", Message: "insufficient scope"}
)
