package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"license-gateway/internal/auth"
)

const apiKeyColumns = `id::text, name, prefix, key_hash, scope, created_at, revoked_at, last_used_at`

func scanAPIKey(row pgx.Row) (*auth.APIKey, error) {
	var (
		k     auth.APIKey
		scope string
	)
	if err := row.Scan(&k.ID, &k.Name, &k.Prefix, &k.Hash, &scope, &k.CreatedAt, &k.RevokedAt, &k.LastUsedAt); err != nil {
		return nil, err
	}
	k.Scope = auth.Scope(scope)
	return &k, nil
}

// CreateAPIKey implements auth.KeyStore
func (r *Repository) CreateAPIKey(ctx context.Context, k *auth.APIKey) error {
	_, err := r.db.Pool.Exec(ctx, `
	INSERT INTO api_keys (id, name, prefix, key_hash, scope, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	`, k.ID, k.Name, k.Prefix, k.Hash, string(k.Scope), k.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert api key: %w", err)
	}
	return nil
}

// FindAPIKeyByPrefix implements auth.KeyStore
func (r *Repository) FindAPIKeyByPrefix(ctx context.Context, prefix string) (*auth.APIKey, error) {
	k, err := scanAPIKey(r.db.Pool.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE prefix = $1`, prefix))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return k, nil
}

// ListAPIKeys implements auth.KeyStore
func (r *Repository) ListAPIKeys(ctx context.Context) ([]auth.APIKey, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+apiKeyColumns+` FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []auth.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey implements auth.KeyStore
func (r *Repository) RevokeAPIKey(ctx context.Context, id string, at time.Time) error {
	if !validID(id) {
		return auth.ErrKeyNotFound
	}
	tag, err := r.db.Pool.Exec(ctx, `UPDATE api_keys SET revoked_at = COALESCE(revoked_at, $2) WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrKeyNotFound
	}
	return nil
}

// TouchAPIKey implements auth.KeyStore
func (r *Repository) TouchAPIKey(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}
