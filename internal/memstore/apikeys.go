package memstore

import (
	"context"
	"sort"
	"time"

	"license-gateway/internal/auth"
)

// CreateAPIKey implements auth.KeyStore
func (s *Store) CreateAPIKey(_ context.Context, k *auth.APIKey) error {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	if s.keys == nil {
		s.keys = make(map[string]*auth.APIKey)
	}
	cp := *k
	s.keys[k.Prefix] = &cp
	return nil
}

// FindAPIKeyByPrefix implements auth.KeyStore
func (s *Store) FindAPIKeyByPrefix(_ context.Context, prefix string) (*auth.APIKey, error) {
	s.keysMu.RLock()
	defer s.keysMu.RUnlock()
	k, ok := s.keys[prefix]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	cp := *k
	return &cp, nil
}

// ListAPIKeys implements auth.KeyStore
func (s *Store) ListAPIKeys(context.Context) ([]auth.APIKey, error) {
	s.keysMu.RLock()
	defer s.keysMu.RUnlock()
	out := make([]auth.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, *k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RevokeAPIKey implements auth.KeyStore
func (s *Store) RevokeAPIKey(_ context.Context, id string, at time.Time) error {
	return s.updateKey(id, func(k *auth.APIKey) {
		if k.RevokedAt == nil {
			t := at
			k.RevokedAt = &t
		}
	})
}

// TouchAPIKey implements auth.KeyStore
func (s *Store) TouchAPIKey(_ context.Context, id string, at time.Time) error {
	return s.updateKey(id, func(k *auth.APIKey) {
		t := at
		k.LastUsedAt = &t
	})
}

func (s *Store) updateKey(id string, fn func(k *auth.APIKey)) error {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	for _, k := range s.keys {
		if k.ID == id {
			fn(k)
			return nil
		}
	}
	return auth.ErrKeyNotFound
}
