package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// KeyPrefix starts every API key issued by this service
const KeyPrefix = "lk"

const (
	prefixBytes = 4
	secretBytes = 32
)

type cachedKey struct {
	key     APIKey
	expires time.Time
}

// KeyService issues and verifies API keys. Keys look like lk_<prefix>_<secret>;
// the prefix locates the stored row and the secret is checked against its
// bcrypt hash. Successful verifications are cached by key fingerprint so the
// hot path does not pay for bcrypt on every request.
type KeyService struct {
	store    KeyStore
	cost     int
	cacheTTL time.Duration
	logger   zerolog.Logger
	nowFn    func() time.Time

	mu    sync.RWMutex
	cache map[string]cachedKey
}

// NewKeyService creates a key service
func NewKeyService(store KeyStore, cfg Config, logger zerolog.Logger) *KeyService {
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = DefaultBcryptCost
	}
	return &KeyService{
		store:    store,
		cost:     cfg.BcryptCost,
		cacheTTL: cfg.CacheTTL,
		logger:   logger.With().Str("component", "api_keys").Logger(),
		nowFn:    time.Now,
		cache:    make(map[string]cachedKey),
	}
}

// SplitKey splits a raw key into its prefix and secret
func SplitKey(raw string) (prefix, secret string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(raw), "_", 3)
	if len(parts) != 3 || parts[0] != KeyPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// Generate creates and stores a new key. The raw key is returned once and
// cannot be recovered afterwards.
func (s *KeyService) Generate(ctx context.Context, name string, scope Scope) (string, *APIKey, error) {
	prefix, err := randomHex(prefixBytes)
	if err != nil {
		return "", nil, err
	}
	secret, err := randomToken(secretBytes)
	if err != nil {
		return "", nil, err
	}
	raw := KeyPrefix + "_" + prefix + "_" + secret

	key, err := s.register(ctx, name, scope, prefix, secret)
	if err != nil {
		return "", nil, err
	}
	return raw, key, nil
}

// Bootstrap registers a configured raw key unless a key with the same prefix
// already exists. It lets a fresh deployment accept its first client.
func (s *KeyService) Bootstrap(ctx context.Context, raw string, scope Scope) (*APIKey, error) {
	prefix, secret, ok := SplitKey(raw)
	if !ok {
		return nil, fmt.Errorf("bootstrap key must look like %s_<prefix>_<secret>", KeyPrefix)
	}

	existing, err := s.store.FindAPIKeyByPrefix(ctx, prefix)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return nil, fmt.Errorf("failed to look up bootstrap key: %w", err)
	}

	key, err := s.register(ctx, "bootstrap", scope, prefix, secret)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("prefix", prefix).Str("scope", string(scope)).Msg("bootstrap API key registered")
	return key, nil
}

func (s *KeyService) register(ctx context.Context, name string, scope Scope, prefix, secret string) (*APIKey, error) {
	if _, ok := ParseScope(string(scope)); !ok {
		return nil, fmt.Errorf("unknown scope %q", scope)
	}
	hash, err := HashSecret(secret, s.cost)
	if err != nil {
		return nil, err
	}
	key := &APIKey{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(name),
		Prefix:    prefix,
		Hash:      hash,
		Scope:     scope,
		CreatedAt: s.nowFn().UTC(),
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to store API key: %w", err)
	}
	return key, nil
}

// Verify checks a raw key and returns the stored key it belongs to.
// Any mismatch is reported as ErrInvalidAPIKey.
func (s *KeyService) Verify(ctx context.Context, raw string) (*APIKey, error) {
	fp := fingerprint(raw)
	now := s.nowFn()

	s.mu.RLock()
	hit, ok := s.cache[fp]
	s.mu.RUnlock()
	if ok && now.Before(hit.expires) {
		k := hit.key
		return &k, nil
	}

	prefix, secret, ok := SplitKey(raw)
	if !ok {
		return nil, ErrInvalidAPIKey
	}

	key, err := s.store.FindAPIKeyByPrefix(ctx, prefix)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up API key: %w", err)
	}
	if key.Revoked() || !VerifySecret(secret, key.Hash) {
		return nil, ErrInvalidAPIKey
	}

	if err := s.store.TouchAPIKey(ctx, key.ID, now.UTC()); err != nil {
		s.logger.Warn().Err(err).Str("prefix", prefix).Msg("failed to record API key use")
	}

	if s.cacheTTL > 0 {
		s.mu.Lock()
		s.cache[fp] = cachedKey{key: *key, expires: now.Add(s.cacheTTL)}
		s.mu.Unlock()
	}
	return key, nil
}

// Revoke revokes a key and drops it from the verification cache
func (s *KeyService) Revoke(ctx context.Context, id string) error {
	if err := s.store.RevokeAPIKey(ctx, id, s.nowFn().UTC()); err != nil {
		return err
	}

	s.mu.Lock()
	for fp, c := range s.cache {
		if c.key.ID == id {
			delete(s.cache, fp)
		}
	}
	s.mu.Unlock()
	return nil
}

// List returns every stored key
func (s *KeyService) List(ctx context.Context) ([]APIKey, error) {
	return s.store.ListAPIKeys(ctx)
}
