package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ValidateInput is a validation request from a licensed client
type ValidateInput struct {
	LicenseKey string
	HWID       string
	ProductID  string
	IPAddress  string
	UserAgent  string
}

// ValidationResult is the outcome of a validation. Reason is empty when Valid.
type ValidationResult struct {
	Valid   bool
	Reason  Reason
	License *Snapshot
}

// Validator decides whether a license may be used on a machine
type Validator struct {
	store    Store
	recorder Recorder
	logger   zerolog.Logger
	nowFn    func() time.Time
}

// NewValidator creates a validator over store. recorder may be nil.
func NewValidator(store Store, recorder Recorder, logger zerolog.Logger) *Validator {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Validator{
		store:    store,
		recorder: recorder,
		logger:   logger.With().Str("component", "validator").Logger(),
		nowFn:    time.Now,
	}
}

// Validate runs the validation algorithm. Business negatives come back in the
// result; an error means the store could not be read.
func (v *Validator) Validate(ctx context.Context, in ValidateInput) (*ValidationResult, error) {
	key := NormalizeKey(in.LicenseKey)
	hwid := strings.TrimSpace(in.HWID)
	if key == "" || hwid == "" {
		return nil, ErrInvalidInput
	}

	result, licenseID, err := v.evaluate(ctx, key, hwid, strings.TrimSpace(in.ProductID))

	outcome := "valid"
	switch {
	case err != nil:
		outcome = "error"
	case !result.Valid:
		outcome = string(result.Reason)
	}
	v.recorder.Record(AnalyticsEvent{
		Type:      EventLicenseValidated,
		LicenseID: licenseID,
		Metadata: map[string]interface{}{
			"hwid":       hwid,
			"ip_address": in.IPAddress,
			"product_id": in.ProductID,
			"result":     outcome,
		},
		CreatedAt: v.nowFn().UTC(),
	})

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (v *Validator) evaluate(ctx context.Context, key, hwid, productID string) (*ValidationResult, string, error) {
	rec, err := v.store.FindLicense(ctx, key, productID)
	if errors.Is(err, ErrLicenseNotFound) {
		return &ValidationResult{Reason: ReasonNotFound}, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to look up license: %w", err)
	}

	now := v.nowFn()
	reason := Evaluate(&rec.License, hwid, now)
	if reason == ReasonExpired {
		// Best effort: a failed write is corrected by the next validation.
		if err := v.store.ExpireLicense(ctx, rec.ID, now); err != nil {
			v.logger.Error().Err(err).
				Str("license_key", key).
				Str("license_id", rec.ID).
				Msg("failed to persist expired status")
		}
	}
	if reason != ReasonNone {
		return &ValidationResult{Reason: reason}, rec.ID, nil
	}

	snap := SnapshotOf(rec)
	return &ValidationResult{Valid: true, License: &snap}, rec.ID, nil
}
