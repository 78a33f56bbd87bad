package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"license-gateway/internal/license"
)

const licenseColumns = `
	l.id::text, l.license_key, l.product_id::text, l.user_id::text, l.status,
	l.expires_at, l.max_activations, l.current_activations,
	COALESCE(l.bound_hwid, ''), l.created_at`

const activationColumns = `
	id::text, license_id::text, hwid, COALESCE(ip_address, ''), COALESCE(user_agent, ''),
	COALESCE(machine_name, ''), activated_at, deactivated_at, is_active`

type licenseRow struct {
	license.License
	status string
}

func (r *licenseRow) dest() []interface{} {
	return []interface{}{
		&r.ID, &r.Key, &r.ProductID, &r.UserID, &r.status,
		&r.ExpiresAt, &r.MaxActivations, &r.CurrentActivations,
		&r.BoundHWID, &r.CreatedAt,
	}
}

func (r *licenseRow) value() license.License {
	l := r.License
	l.Status = license.Status(r.status)
	return l
}

func scanActivation(row pgx.Row) (*license.Activation, error) {
	var a license.Activation
	err := row.Scan(
		&a.ID, &a.LicenseID, &a.HWID, &a.IPAddress, &a.UserAgent,
		&a.MachineName, &a.ActivatedAt, &a.DeactivatedAt, &a.IsActive,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindLicense implements license.Store
func (r *Repository) FindLicense(ctx context.Context, key, productID string) (*license.Record, error) {
	query := `
	SELECT ` + licenseColumns + `,
	       p.id::text, p.name, COALESCE(p.version, ''), p.price::float8, p.active, p.created_at,
	       u.id::text, u.display_name, COALESCE(u.company, ''), u.role, u.created_at
	FROM licenses l
	JOIN products p ON p.id = l.product_id
	JOIN users u ON u.id = l.user_id
	WHERE l.license_key = $1 AND ($2 = '' OR l.product_id::text = $2)
	`

	var (
		row  licenseRow
		rec  license.Record
		role string
	)
	dest := append(row.dest(),
		&rec.Product.ID, &rec.Product.Name, &rec.Product.Version, &rec.Product.Price,
		&rec.Product.Active, &rec.Product.CreatedAt,
		&rec.User.ID, &rec.User.DisplayName, &rec.User.Company, &role, &rec.User.CreatedAt,
	)

	err := r.db.Pool.QueryRow(ctx, query, key, productID).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, license.ErrLicenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license by key: %w", err)
	}

	rec.License = row.value()
	rec.User.Role = license.Role(role)
	return &rec, nil
}

// ListActivations implements license.Store
func (r *Repository) ListActivations(ctx context.Context, licenseID string) ([]license.Activation, error) {
	if !validID(licenseID) {
		return nil, license.ErrLicenseNotFound
	}

	query := `SELECT ` + activationColumns + `
	FROM license_activations
	WHERE license_id = $1
	ORDER BY activated_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activations: %w", err)
	}
	defer rows.Close()

	var activations []license.Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activation: %w", err)
		}
		activations = append(activations, *a)
	}
	return activations, rows.Err()
}

// ExpireLicense implements license.Store
func (r *Repository) ExpireLicense(ctx context.Context, licenseID string, at time.Time) error {
	if !validID(licenseID) {
		return license.ErrLicenseNotFound
	}
	_, err := r.db.Pool.Exec(ctx, `
	UPDATE licenses SET status = 'expired'
	WHERE id = $1 AND status = 'active' AND expires_at IS NOT NULL AND expires_at < $2
	`, licenseID, at)
	if err != nil {
		return fmt.Errorf("failed to expire license: %w", err)
	}
	return nil
}

// lockLicense reads a license row and holds its row lock until tx ends.
// Every writer of current_activations goes through here, which serializes
// them per license while other licenses proceed in parallel.
func lockLicense(ctx context.Context, tx pgx.Tx, licenseID string) (*license.License, error) {
	if !validID(licenseID) {
		return nil, license.ErrLicenseNotFound
	}
	var row licenseRow
	err := tx.QueryRow(ctx, `SELECT `+licenseColumns+` FROM licenses l WHERE l.id = $1 FOR UPDATE`, licenseID).
		Scan(row.dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, license.ErrLicenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock license: %w", err)
	}
	l := row.value()
	return &l, nil
}

// ActivateLicense implements license.Store
func (r *Repository) ActivateLicense(ctx context.Context, licenseID string, candidate license.Activation) (*license.ActivationOutcome, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := lockLicense(ctx, tx, licenseID)
	if err != nil {
		return nil, err
	}

	existing, err := scanActivation(tx.QueryRow(ctx, `SELECT `+activationColumns+`
	FROM license_activations
	WHERE license_id = $1 AND hwid = $2 AND is_active
	LIMIT 1`, licenseID, candidate.HWID))
	if err == nil {
		return &license.ActivationOutcome{Activation: *existing, Existing: true, License: *l}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up activation: %w", err)
	}

	if err := l.AttachActivation(candidate.HWID); err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
	UPDATE licenses
	SET current_activations = current_activations + 1,
	    bound_hwid = COALESCE(bound_hwid, $2)
	WHERE id = $1 AND current_activations < max_activations
	`, licenseID, nullable(l.BoundHWID))
	if err != nil {
		return nil, fmt.Errorf("failed to update activation count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, license.ErrLimitReached
	}

	candidate.LicenseID = licenseID
	candidate.IsActive = true
	candidate.DeactivatedAt = nil
	_, err = tx.Exec(ctx, `
	INSERT INTO license_activations (id, license_id, hwid, ip_address, user_agent, machine_name, activated_at, is_active)
	VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
	`, candidate.ID, licenseID, candidate.HWID, nullable(candidate.IPAddress),
		nullable(candidate.UserAgent), nullable(candidate.MachineName), candidate.ActivatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert activation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit activation: %w", err)
	}
	return &license.ActivationOutcome{Activation: candidate, License: *l}, nil
}

// DeactivateLicense implements license.Store
func (r *Repository) DeactivateLicense(ctx context.Context, licenseID, hwid string, at time.Time) (*license.Activation, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := lockLicense(ctx, tx, licenseID); err != nil {
		return nil, err
	}

	a, err := scanActivation(tx.QueryRow(ctx, `
	UPDATE license_activations
	SET is_active = FALSE, deactivated_at = $3
	WHERE license_id = $1 AND hwid = $2 AND is_active
	RETURNING `+activationColumns, licenseID, hwid, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, license.ErrNoActiveActivation
	}
	if err != nil {
		return nil, fmt.Errorf("failed to close activation: %w", err)
	}

	_, err = tx.Exec(ctx, `
	UPDATE licenses SET current_activations = GREATEST(current_activations - 1, 0)
	WHERE id = $1
	`, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to update activation count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit deactivation: %w", err)
	}
	return a, nil
}

// CreateProduct implements license.AdminStore
func (r *Repository) CreateProduct(ctx context.Context, p *license.Product) error {
	_, err := r.db.Pool.Exec(ctx, `
	INSERT INTO products (id, name, version, price, active, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Name, nullable(p.Version), p.Price, p.Active, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

// SetProductActive implements license.AdminStore
func (r *Repository) SetProductActive(ctx context.Context, productID string, active bool) error {
	if !validID(productID) {
		return license.ErrProductNotFound
	}
	tag, err := r.db.Pool.Exec(ctx, `UPDATE products SET active = $2 WHERE id = $1`, productID, active)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return license.ErrProductNotFound
	}
	return nil
}

// CreateUser implements license.AdminStore
func (r *Repository) CreateUser(ctx context.Context, u *license.User) error {
	_, err := r.db.Pool.Exec(ctx, `
	INSERT INTO users (id, display_name, company, role, created_at)
	VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.DisplayName, nullable(u.Company), string(u.Role), u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// CreateLicense implements license.AdminStore
func (r *Repository) CreateLicense(ctx context.Context, l *license.License) error {
	if !validID(l.ProductID) {
		return license.ErrProductNotFound
	}
	if !validID(l.UserID) {
		return license.ErrUserNotFound
	}
	_, err := r.db.Pool.Exec(ctx, `
	INSERT INTO licenses (id, license_key, product_id, user_id, status, expires_at,
	                      max_activations, current_activations, bound_hwid, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, l.ID, l.Key, l.ProductID, l.UserID, string(l.Status), l.ExpiresAt,
		l.MaxActivations, l.CurrentActivations, nullable(l.BoundHWID), l.CreatedAt)
	if err != nil {
		mapped := mapLicenseInsertError(err)
		if mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to insert license: %w", err)
	}
	return nil
}

// GetLicense implements license.AdminStore
func (r *Repository) GetLicense(ctx context.Context, licenseID string) (*license.License, error) {
	if !validID(licenseID) {
		return nil, license.ErrLicenseNotFound
	}
	var row licenseRow
	err := r.db.Pool.QueryRow(ctx, `SELECT `+licenseColumns+` FROM licenses l WHERE l.id = $1`, licenseID).
		Scan(row.dest()...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, license.ErrLicenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get license: %w", err)
	}
	l := row.value()
	return &l, nil
}

// UpdateLicense implements license.AdminStore. The activation counter is not
// written; it only changes through ActivateLicense and DeactivateLicense.
func (r *Repository) UpdateLicense(ctx context.Context, licenseID string, fn func(l *license.License) error) (*license.License, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	l, err := lockLicense(ctx, tx, licenseID)
	if err != nil {
		return nil, err
	}
	if err := fn(l); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
	UPDATE licenses
	SET status = $2, expires_at = $3, max_activations = $4, bound_hwid = $5
	WHERE id = $1
	`, licenseID, string(l.Status), l.ExpiresAt, l.MaxActivations, nullable(l.BoundHWID))
	if err != nil {
		return nil, fmt.Errorf("failed to update license: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit license update: %w", err)
	}
	return l, nil
}
