package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// keyAttempts bounds retries when a generated key collides with an existing one
const keyAttempts = 5

// CreateLicenseInput describes a license to issue
type CreateLicenseInput struct {
	ProductID      string
	UserID         string
	MaxActivations int
	ExpiresAt      *time.Time
}

// Admin performs administrative lifecycle operations
type Admin struct {
	store         AdminStore
	recorder      Recorder
	initialStatus Status
	logger        zerolog.Logger
	nowFn         func() time.Time
	generateKey   func() (string, error)
}

// NewAdmin creates the admin service. initialStatus is the status given to
// newly issued licenses.
func NewAdmin(store AdminStore, recorder Recorder, initialStatus Status, logger zerolog.Logger) *Admin {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if initialStatus != StatusActive {
		initialStatus = StatusPending
	}
	return &Admin{
		store:         store,
		recorder:      recorder,
		initialStatus: initialStatus,
		logger:        logger.With().Str("component", "license_admin").Logger(),
		nowFn:         time.Now,
		generateKey:   GenerateKey,
	}
}

// CreateProduct registers a product
func (a *Admin) CreateProduct(ctx context.Context, name, version string, price float64) (*Product, error) {
	name = strings.TrimSpace(name)
	if name == "" || price < 0 {
		return nil, ErrInvalidInput
	}
	p := &Product{
		ID:        uuid.New().String(),
		Name:      name,
		Version:   strings.TrimSpace(version),
		Price:     price,
		Active:    true,
		CreatedAt: a.nowFn().UTC(),
	}
	if err := a.store.CreateProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	return p, nil
}

// RetireProduct soft-deletes a product
func (a *Admin) RetireProduct(ctx context.Context, productID string) error {
	return a.store.SetProductActive(ctx, productID, false)
}

// CreateUser registers a licensee
func (a *Admin) CreateUser(ctx context.Context, displayName, company string, role Role) (*User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, ErrInvalidInput
	}
	if role != RoleAdmin {
		role = RoleUser
	}
	u := &User{
		ID:          uuid.New().String(),
		DisplayName: displayName,
		Company:     strings.TrimSpace(company),
		Role:        role,
		CreatedAt:   a.nowFn().UTC(),
	}
	if err := a.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// CreateLicense issues a license with a freshly generated key
func (a *Admin) CreateLicense(ctx context.Context, in CreateLicenseInput) (*License, error) {
	if in.ProductID == "" || in.UserID == "" || in.MaxActivations < 1 {
		return nil, ErrInvalidInput
	}

	for attempt := 0; attempt < keyAttempts; attempt++ {
		key, err := a.generateKey()
		if err != nil {
			return nil, err
		}
		l := &License{
			ID:             uuid.New().String(),
			Key:            key,
			ProductID:      in.ProductID,
			UserID:         in.UserID,
			Status:         a.initialStatus,
			ExpiresAt:      in.ExpiresAt,
			MaxActivations: in.MaxActivations,
			CreatedAt:      a.nowFn().UTC(),
		}
		err = a.store.CreateLicense(ctx, l)
		if errors.Is(err, ErrDuplicateKey) {
			a.logger.Warn().Int("attempt", attempt+1).Msg("generated license key collided, retrying")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create license: %w", err)
		}

		a.recorder.Record(AnalyticsEvent{
			Type:      EventLicenseCreated,
			LicenseID: l.ID,
			UserID:    l.UserID,
			Metadata: map[string]interface{}{
				"product_id":      l.ProductID,
				"status":          string(l.Status),
				"max_activations": l.MaxActivations,
			},
			CreatedAt: l.CreatedAt,
		})
		return l, nil
	}
	return nil, fmt.Errorf("%w: %d consecutive key collisions", ErrKeyGenerationFailed, keyAttempts)
}

// SetStatus applies an administrative status change
func (a *Admin) SetStatus(ctx context.Context, licenseID string, to Status) (*License, error) {
	var from Status
	l, err := a.store.UpdateLicense(ctx, licenseID, func(l *License) error {
		from = l.Status
		return l.TransitionTo(to)
	})
	if err != nil {
		return nil, err
	}

	a.recorder.Record(AnalyticsEvent{
		Type:      EventLicenseStatusChanged,
		LicenseID: l.ID,
		UserID:    l.UserID,
		Metadata: map[string]interface{}{
			"from": string(from),
			"to":   string(to),
		},
		CreatedAt: a.nowFn().UTC(),
	})
	return l, nil
}

// Renew moves the expiry date of a license. A zero time makes it perpetual.
func (a *Admin) Renew(ctx context.Context, licenseID string, expiresAt time.Time) (*License, error) {
	return a.store.UpdateLicense(ctx, licenseID, func(l *License) error {
		if expiresAt.IsZero() {
			l.ExpiresAt = nil
			return nil
		}
		t := expiresAt.UTC()
		l.ExpiresAt = &t
		return nil
	})
}

// ResetBinding clears the hardware binding of a license
func (a *Admin) ResetBinding(ctx context.Context, licenseID string) (*License, error) {
	return a.store.UpdateLicense(ctx, licenseID, func(l *License) error {
		l.ResetBinding()
		return nil
	})
}

// GetLicense returns a license by id
func (a *Admin) GetLicense(ctx context.Context, licenseID string) (*License, error) {
	return a.store.GetLicense(ctx, licenseID)
}
