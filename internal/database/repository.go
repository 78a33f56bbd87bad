package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"license-gateway/internal/auth"
	"license-gateway/internal/license"
)

// PostgreSQL error codes
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// Repository provides data access methods for licenses, audit events and
// API keys
type Repository struct {
	db *DB
}

var (
	_ license.AdminStore   = (*Repository)(nil)
	_ license.EventSink    = (*Repository)(nil)
	_ license.EventHistory = (*Repository)(nil)
	_ auth.KeyStore        = (*Repository)(nil)
)

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Ping implements license.Store
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}

// validID reports whether s can be compared against a UUID column without a
// cast error
func validID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// nullable maps an empty string to SQL NULL
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func pgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapLicenseInsertError translates constraint violations on licenses into
// domain errors
func mapLicenseInsertError(err error) error {
	pgErr, ok := pgError(err)
	if !ok {
		return err
	}
	switch {
	case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == "licenses_license_key_key":
		return license.ErrDuplicateKey
	case pgErr.Code == pgForeignKeyViolation && pgErr.ConstraintName == "licenses_product_id_fkey":
		return license.ErrProductNotFound
	case pgErr.Code == pgForeignKeyViolation && pgErr.ConstraintName == "licenses_user_id_fkey":
		return license.ErrUserNotFound
	}
	return err
}
