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

// Messages returned alongside successful activation and deactivation results
const (
	MessageActivated          = "activated"
	MessageAlreadyActivated   = "already_activated"
	MessageDeactivated        = "deactivated"
	MessageAlreadyDeactivated = "already_deactivated"
	MessageHeartbeatReceived  = "heartbeat_received"
)

// ActivateInput is an activation request
type ActivateInput struct {
	LicenseKey  string
	HWID        string
	MachineName string
	IPAddress   string
	UserAgent   string
}

// ActivationResult is the outcome of an activation. Reason is empty on success.
type ActivationResult struct {
	Success      bool
	Reason       Reason
	Message      string
	ActivationID string
	ActivatedAt  time.Time
}

// DeactivateInput is a deactivation request
type DeactivateInput struct {
	LicenseKey string
	HWID       string
}

// DeactivationResult is the outcome of a deactivation
type DeactivationResult struct {
	Success bool
	Reason  Reason
	Message string
}

// HeartbeatInput is a liveness signal from a running client
type HeartbeatInput struct {
	LicenseKey string
	HWID       string
	Status     string
	IPAddress  string
}

// HeartbeatResult is the outcome of a heartbeat
type HeartbeatResult struct {
	Success    bool
	Reason     Reason
	ServerTime time.Time
}

// ActivationInfo is one activation as listed by Info
type ActivationInfo struct {
	ID            string     `json:"id"`
	HWID          string     `json:"hwid"`
	MachineName   string     `json:"machine_name,omitempty"`
	ActivatedAt   time.Time  `json:"activated_at"`
	DeactivatedAt *time.Time `json:"deactivated_at"`
	IsActive      bool       `json:"is_active"`
	LastSeenAt    *time.Time `json:"last_seen_at,omitempty"`
}

// Details is a license snapshot with its activations
type Details struct {
	Snapshot
	Activations []ActivationInfo `json:"activations"`
}

// Manager runs the activation protocol against a Store
type Manager struct {
	store    Store
	recorder Recorder
	presence PresenceTracker
	logger   zerolog.Logger
	nowFn    func() time.Time
	newID    func() string
}

// NewManager creates an activation manager. recorder and presence may be nil.
func NewManager(store Store, recorder Recorder, presence PresenceTracker, logger zerolog.Logger) *Manager {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	return &Manager{
		store:    store,
		recorder: recorder,
		presence: presence,
		logger:   logger.With().Str("component", "activation_manager").Logger(),
		nowFn:    time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Activate binds a machine to a license, consuming a seat unless the machine
// is already active on it.
func (m *Manager) Activate(ctx context.Context, in ActivateInput) (*ActivationResult, error) {
	key := NormalizeKey(in.LicenseKey)
	hwid := strings.TrimSpace(in.HWID)
	if key == "" || hwid == "" {
		return nil, ErrInvalidInput
	}

	rec, err := m.store.FindLicense(ctx, key, "")
	if errors.Is(err, ErrLicenseNotFound) {
		return &ActivationResult{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up license: %w", err)
	}

	candidate := Activation{
		ID:          m.newID(),
		LicenseID:   rec.ID,
		HWID:        hwid,
		IPAddress:   in.IPAddress,
		UserAgent:   in.UserAgent,
		MachineName: strings.TrimSpace(in.MachineName),
		ActivatedAt: m.nowFn().UTC(),
		IsActive:    true,
	}

	outcome, err := m.store.ActivateLicense(ctx, rec.ID, candidate)
	switch {
	case errors.Is(err, ErrLimitReached):
		return &ActivationResult{Reason: ReasonLimitReached}, nil
	case errors.Is(err, ErrLicenseNotFound):
		return &ActivationResult{Reason: ReasonNotFound}, nil
	case err != nil:
		return nil, fmt.Errorf("failed to activate license: %w", err)
	}

	if outcome.Existing {
		return &ActivationResult{
			Success:      true,
			Message:      MessageAlreadyActivated,
			ActivationID: outcome.Activation.ID,
			ActivatedAt:  outcome.Activation.ActivatedAt,
		}, nil
	}

	m.recorder.Record(AnalyticsEvent{
		Type:      EventLicenseActivated,
		LicenseID: rec.ID,
		UserID:    rec.UserID,
		Metadata: map[string]interface{}{
			"hwid":          hwid,
			"machine_name":  candidate.MachineName,
			"ip_address":    in.IPAddress,
			"activation_id": outcome.Activation.ID,
		},
		CreatedAt: candidate.ActivatedAt,
	})
	m.logger.Info().
		Str("license_id", rec.ID).
		Str("activation_id", outcome.Activation.ID).
		Int("current_activations", outcome.License.CurrentActivations).
		Int("max_activations", outcome.License.MaxActivations).
		Msg("license activated")

	return &ActivationResult{
		Success:      true,
		Message:      MessageActivated,
		ActivationID: outcome.Activation.ID,
		ActivatedAt:  outcome.Activation.ActivatedAt,
	}, nil
}

// Deactivate releases the seat held by a machine
func (m *Manager) Deactivate(ctx context.Context, in DeactivateInput) (*DeactivationResult, error) {
	key := NormalizeKey(in.LicenseKey)
	hwid := strings.TrimSpace(in.HWID)
	if key == "" || hwid == "" {
		return nil, ErrInvalidInput
	}

	rec, err := m.store.FindLicense(ctx, key, "")
	if errors.Is(err, ErrLicenseNotFound) {
		return &DeactivationResult{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up license: %w", err)
	}

	act, err := m.store.DeactivateLicense(ctx, rec.ID, hwid, m.nowFn().UTC())
	if errors.Is(err, ErrNoActiveActivation) {
		return &DeactivationResult{Success: true, Message: MessageAlreadyDeactivated}, nil
	}
	if errors.Is(err, ErrLicenseNotFound) {
		return &DeactivationResult{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate license: %w", err)
	}

	m.recorder.Record(AnalyticsEvent{
		Type:      EventLicenseDeactivated,
		LicenseID: rec.ID,
		UserID:    rec.UserID,
		Metadata: map[string]interface{}{
			"hwid":          hwid,
			"activation_id": act.ID,
		},
		CreatedAt: m.nowFn().UTC(),
	})

	return &DeactivationResult{Success: true, Message: MessageDeactivated}, nil
}

// Info returns a license with all of its activations.
// Returns ErrLicenseNotFound for an unknown key.
func (m *Manager) Info(ctx context.Context, licenseKey string) (*Details, error) {
	key := NormalizeKey(licenseKey)
	if key == "" {
		return nil, ErrInvalidInput
	}

	rec, err := m.store.FindLicense(ctx, key, "")
	if err != nil {
		return nil, err
	}

	acts, err := m.store.ListActivations(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activations: %w", err)
	}

	var seen map[string]time.Time
	if m.presence != nil {
		seen, err = m.presence.LastSeen(ctx, rec.ID)
		if err != nil {
			m.logger.Warn().Err(err).Str("license_id", rec.ID).Msg("presence lookup failed")
		}
	}

	details := &Details{
		Snapshot:    SnapshotOf(rec),
		Activations: make([]ActivationInfo, 0, len(acts)),
	}
	for _, a := range acts {
		info := ActivationInfo{
			ID:            a.ID,
			HWID:          a.HWID,
			MachineName:   a.MachineName,
			ActivatedAt:   a.ActivatedAt,
			DeactivatedAt: a.DeactivatedAt,
			IsActive:      a.IsActive,
		}
		if t, ok := seen[a.HWID]; ok && a.IsActive {
			info.LastSeenAt = &t
		}
		details.Activations = append(details.Activations, info)
	}
	return details, nil
}

// Heartbeat records a liveness signal. It never affects validity.
func (m *Manager) Heartbeat(ctx context.Context, in HeartbeatInput) (*HeartbeatResult, error) {
	key := NormalizeKey(in.LicenseKey)
	hwid := strings.TrimSpace(in.HWID)
	if key == "" || hwid == "" {
		return nil, ErrInvalidInput
	}

	rec, err := m.store.FindLicense(ctx, key, "")
	if errors.Is(err, ErrLicenseNotFound) {
		return &HeartbeatResult{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up license: %w", err)
	}

	now := m.nowFn().UTC()
	m.recorder.Record(AnalyticsEvent{
		Type:      EventLicenseHeartbeat,
		LicenseID: rec.ID,
		Metadata: map[string]interface{}{
			"hwid":       hwid,
			"status":     in.Status,
			"ip_address": in.IPAddress,
			"timestamp":  now.Format(time.RFC3339),
		},
		CreatedAt: now,
	})

	if m.presence != nil {
		if err := m.presence.Touch(ctx, rec.ID, hwid, now); err != nil {
			m.logger.Warn().Err(err).Str("license_id", rec.ID).Msg("presence update failed")
		}
	}

	return &HeartbeatResult{Success: true, ServerTime: now}, nil
}
