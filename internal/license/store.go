package license

import (
	"context"
	"time"
)

// ActivationOutcome is the result of the atomic activation step
type ActivationOutcome struct {
	Activation Activation
	// Existing is true when an active activation for the hardware id was
	// already present and no seat was consumed.
	Existing bool
	License  License
}

// Store is the data-access contract the licensing core runs against.
//
// ActivateLicense and DeactivateLicense are each a single atomic unit per
// license: the admission check, the activation row and the counter change
// must never be observed separately. Different licenses must not contend.
type Store interface {
	// FindLicense looks a license up by key, optionally restricted to a
	// product. Returns ErrLicenseNotFound when there is no match.
	FindLicense(ctx context.Context, key, productID string) (*Record, error)

	// ListActivations returns every activation of a license, newest first.
	ListActivations(ctx context.Context, licenseID string) ([]Activation, error)

	// ExpireLicense persists active -> expired. It is a no-op for a license
	// that is no longer active.
	ExpireLicense(ctx context.Context, licenseID string, at time.Time) error

	// ActivateLicense returns the existing active activation for
	// candidate.HWID, or admits candidate: inserts it, consumes a seat and
	// binds the hardware id if unbound. Returns ErrLimitReached when no seat
	// is left and ErrLicenseNotFound when the license vanished.
	ActivateLicense(ctx context.Context, licenseID string, candidate Activation) (*ActivationOutcome, error)

	// DeactivateLicense closes the active activation for hwid and releases
	// its seat. Returns ErrNoActiveActivation when there is none.
	DeactivateLicense(ctx context.Context, licenseID, hwid string, at time.Time) (*Activation, error)

	// Ping checks the store is reachable
	Ping(ctx context.Context) error
}

// AdminStore adds the administrative operations used by the admin tooling
type AdminStore interface {
	Store

	CreateProduct(ctx context.Context, p *Product) error
	SetProductActive(ctx context.Context, productID string, active bool) error
	CreateUser(ctx context.Context, u *User) error
	// CreateLicense inserts a new license. Returns ErrDuplicateKey when the
	// key is already taken.
	CreateLicense(ctx context.Context, l *License) error
	GetLicense(ctx context.Context, licenseID string) (*License, error)
	// UpdateLicense applies fn to the current license row under the same
	// serialization used by activation and persists the result.
	UpdateLicense(ctx context.Context, licenseID string, fn func(l *License) error) (*License, error)
}

// EventSink persists audit events
type EventSink interface {
	InsertEvent(ctx context.Context, e AnalyticsEvent) error
}

// EventHistory lists stored audit events of a license, newest first
type EventHistory interface {
	RecentEvents(ctx context.Context, licenseID string, limit int) ([]AnalyticsEvent, error)
}

// Recorder accepts audit events without blocking or failing the caller
type Recorder interface {
	Record(e AnalyticsEvent)
}

// PresenceTracker remembers when each machine last sent a heartbeat
type PresenceTracker interface {
	Touch(ctx context.Context, licenseID, hwid string, at time.Time) error
	LastSeen(ctx context.Context, licenseID string) (map[string]time.Time, error)
}

// NopRecorder drops every event
type NopRecorder struct{}

// Record implements Recorder
func (NopRecorder) Record(AnalyticsEvent) {}
