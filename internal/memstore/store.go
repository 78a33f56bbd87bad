// Package memstore is an in-process implementation of the license store.
// Each license has its own mutex, so activations on different licenses never
// contend; the key and id indexes sit behind a separate short-lived RWMutex.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"license-gateway/internal/auth"
	"license-gateway/internal/license"
)

type entry struct {
	mu          sync.Mutex
	license     license.License
	activations []license.Activation
}

// Store keeps licenses, activations and events in memory
type Store struct {
	mu       sync.RWMutex
	byID     map[string]*entry
	byKey    map[string]string
	products map[string]license.Product
	users    map[string]license.User

	eventsMu sync.Mutex
	events   []license.AnalyticsEvent

	keysMu sync.RWMutex
	keys   map[string]*auth.APIKey
}

// New creates an empty store
func New() *Store {
	return &Store{
		byID:     make(map[string]*entry),
		byKey:    make(map[string]string),
		products: make(map[string]license.Product),
		users:    make(map[string]license.User),
		keys:     make(map[string]*auth.APIKey),
	}
}

func (s *Store) entry(licenseID string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byID[licenseID]
	return e, ok
}

// FindLicense implements license.Store
func (s *Store) FindLicense(_ context.Context, key, productID string) (*license.Record, error) {
	s.mu.RLock()
	id, ok := s.byKey[strings.ToUpper(key)]
	var e *entry
	if ok {
		e = s.byID[id]
	}
	s.mu.RUnlock()
	if e == nil {
		return nil, license.ErrLicenseNotFound
	}

	e.mu.Lock()
	l := e.license
	e.mu.Unlock()

	if productID != "" && l.ProductID != productID {
		return nil, license.ErrLicenseNotFound
	}

	s.mu.RLock()
	rec := &license.Record{License: l, Product: s.products[l.ProductID], User: s.users[l.UserID]}
	s.mu.RUnlock()
	return rec, nil
}

// ListActivations implements license.Store
func (s *Store) ListActivations(_ context.Context, licenseID string) ([]license.Activation, error) {
	e, ok := s.entry(licenseID)
	if !ok {
		return nil, license.ErrLicenseNotFound
	}
	e.mu.Lock()
	out := make([]license.Activation, len(e.activations))
	copy(out, e.activations)
	e.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ActivatedAt.After(out[j].ActivatedAt)
	})
	return out, nil
}

// ExpireLicense implements license.Store
func (s *Store) ExpireLicense(_ context.Context, licenseID string, at time.Time) error {
	e, ok := s.entry(licenseID)
	if !ok {
		return license.ErrLicenseNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.license.Expire(at)
	return nil
}

// ActivateLicense implements license.Store
func (s *Store) ActivateLicense(_ context.Context, licenseID string, candidate license.Activation) (*license.ActivationOutcome, error) {
	e, ok := s.entry(licenseID)
	if !ok {
		return nil, license.ErrLicenseNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, a := range e.activations {
		if a.IsActive && a.HWID == candidate.HWID {
			return &license.ActivationOutcome{Activation: a, Existing: true, License: e.license}, nil
		}
	}

	if err := e.license.AttachActivation(candidate.HWID); err != nil {
		return nil, err
	}
	candidate.LicenseID = licenseID
	candidate.IsActive = true
	candidate.DeactivatedAt = nil
	e.activations = append(e.activations, candidate)

	return &license.ActivationOutcome{Activation: candidate, License: e.license}, nil
}

// DeactivateLicense implements license.Store
func (s *Store) DeactivateLicense(_ context.Context, licenseID, hwid string, at time.Time) (*license.Activation, error) {
	e, ok := s.entry(licenseID)
	if !ok {
		return nil, license.ErrLicenseNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.activations {
		a := &e.activations[i]
		if !a.IsActive || a.HWID != hwid {
			continue
		}
		t := at
		a.IsActive = false
		a.DeactivatedAt = &t
		e.license.DetachActivation()
		out := *a
		return &out, nil
	}
	return nil, license.ErrNoActiveActivation
}

// Ping implements license.Store
func (s *Store) Ping(context.Context) error {
	return nil
}

// CreateProduct implements license.AdminStore
func (s *Store) CreateProduct(_ context.Context, p *license.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = *p
	return nil
}

// SetProductActive implements license.AdminStore
func (s *Store) SetProductActive(_ context.Context, productID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return license.ErrProductNotFound
	}
	p.Active = active
	s.products[productID] = p
	return nil
}

// CreateUser implements license.AdminStore
func (s *Store) CreateUser(_ context.Context, u *license.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = *u
	return nil
}

// CreateLicense implements license.AdminStore
func (s *Store) CreateLicense(_ context.Context, l *license.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[l.ProductID]; !ok {
		return license.ErrProductNotFound
	}
	if _, ok := s.users[l.UserID]; !ok {
		return license.ErrUserNotFound
	}
	key := strings.ToUpper(l.Key)
	if _, taken := s.byKey[key]; taken {
		return license.ErrDuplicateKey
	}
	s.byKey[key] = l.ID
	s.byID[l.ID] = &entry{license: *l}
	return nil
}

// GetLicense implements license.AdminStore
func (s *Store) GetLicense(_ context.Context, licenseID string) (*license.License, error) {
	e, ok := s.entry(licenseID)
	if !ok {
		return nil, license.ErrLicenseNotFound
	}
	e.mu.Lock()
	l := e.license
	e.mu.Unlock()
	return &l, nil
}

// UpdateLicense implements license.AdminStore
func (s *Store) UpdateLicense(_ context.Context, licenseID string, fn func(l *license.License) error) (*license.License, error) {
	e, ok := s.entry(licenseID)
	if !ok {
		return nil, license.ErrLicenseNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	l := e.license
	if err := fn(&l); err != nil {
		return nil, err
	}
	e.license = l
	return &l, nil
}

// InsertEvent implements license.EventSink
func (s *Store) InsertEvent(_ context.Context, ev license.AnalyticsEvent) error {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

// RecentEvents implements license.EventHistory
func (s *Store) RecentEvents(_ context.Context, licenseID string, limit int) ([]license.AnalyticsEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()

	var out []license.AnalyticsEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if s.events[i].LicenseID == licenseID {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

// Events returns a copy of the recorded events
func (s *Store) Events() []license.AnalyticsEvent {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	out := make([]license.AnalyticsEvent, len(s.events))
	copy(out, s.events)
	return out
}
