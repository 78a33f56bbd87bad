package license_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"license-gateway/internal/license"
	"license-gateway/internal/memstore"
)

type captureRecorder struct {
	mu     sync.Mutex
	events []license.AnalyticsEvent
}

func (c *captureRecorder) Record(e license.AnalyticsEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureRecorder) ofType(t license.EventType) []license.AnalyticsEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []license.AnalyticsEvent
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fakePresence struct {
	mu   sync.Mutex
	seen map[string]map[string]time.Time
}

func (f *fakePresence) Touch(_ context.Context, licenseID, hwid string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]map[string]time.Time)
	}
	if f.seen[licenseID] == nil {
		f.seen[licenseID] = make(map[string]time.Time)
	}
	f.seen[licenseID][hwid] = at
	return nil
}

func (f *fakePresence) LastSeen(_ context.Context, licenseID string) (map[string]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]time.Time)
	for k, v := range f.seen[licenseID] {
		out[k] = v
	}
	return out, nil
}

type fixture struct {
	store     *memstore.Store
	recorder  *captureRecorder
	presence  *fakePresence
	admin     *license.Admin
	validator *license.Validator
	manager   *license.Manager
	product   *license.Product
	user      *license.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    memstore.New(),
		recorder: &captureRecorder{},
		presence: &fakePresence{},
	}
	log := zerolog.Nop()
	f.admin = license.NewAdmin(f.store, f.recorder, license.StatusActive, log)
	f.validator = license.NewValidator(f.store, f.recorder, log)
	f.manager = license.NewManager(f.store, f.recorder, f.presence, log)

	ctx := context.Background()
	var err error
	f.product, err = f.admin.CreateProduct(ctx, "Studio", "3.2.0", 49)
	require.NoError(t, err)
	f.user, err = f.admin.CreateUser(ctx, "Dana Reyes", "Acme", license.RoleUser)
	require.NoError(t, err)
	return f
}

func (f *fixture) issue(t *testing.T, maxActivations int, expiresAt *time.Time) *license.License {
	t.Helper()
	l, err := f.admin.CreateLicense(context.Background(), license.CreateLicenseInput{
		ProductID:      f.product.ID,
		UserID:         f.user.ID,
		MaxActivations: maxActivations,
		ExpiresAt:      expiresAt,
	})
	require.NoError(t, err)
	return l
}

func TestActivationRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.issue(t, 2, nil)

	act, err := f.manager.Activate(ctx, license.ActivateInput{LicenseKey: l.Key, HWID: "HW-A", MachineName: "build-box"})
	require.NoError(t, err)
	assert.True(t, act.Success)
	assert.Equal(t, license.MessageActivated, act.Message)
	assert.NotEmpty(t, act.ActivationID)

	res, err := f.validator.Validate(ctx, license.ValidateInput{LicenseKey: l.Key, HWID: "HW-A"})
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.Equal(t, 1, res.License.CurrentActivations)
	assert.Equal(t, "Studio", res.License.Product.Name)
	assert.Equal(t, "Dana Reyes", res.License.User.Name)

	deact, err := f.manager.Deactivate(ctx, license.DeactivateInput{LicenseKey: l.Key, HWID: "HW-A"})
	require.NoError(t, err)
	assert.True(t, deact.Success)
	assert.Equal(t, license.MessageDeactivated, deact.Message)

	info, err := f.manager.Info(ctx, l.Key)
	require.NoError(t, err)
	assert.Equal(t, 0, info.CurrentActivations)
	require.Len(t, info.Activations, 1)
	assert.False(t, info.Activations[0].IsActive)
	assert.NotNil(t, info.Activations[0].DeactivatedAt)

	again, err := f.manager.Deactivate(ctx, license.DeactivateInput{LicenseKey: l.Key, HWID: "HW-A"})
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.Equal(t, license.MessageAlreadyDeactivated, again.Message)

	assert.Len(t, f.recorder.ofType(license.EventLicenseActivated), 1)
	assert.Len(t, f.recorder.ofType(license.EventLicenseDeactivated), 1)
}

func TestActivateIsIdempotentPerMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.issue(t, 3, nil)

	first, err := f.manager.Activate(ctx, license.ActivateInput{LicenseKey: l.Key, HWID: "HW-A"})
	require.NoError(t, err)
	second, err := f.manager.Activate(ctx, license.ActivateInput{LicenseKey: l.Key, HWID: "HW-A"})
	require.NoError(t, err)

	assert.True(t, second.Success)
	assert.Equal(t, license.MessageAlreadyActivated, second.Message)
	assert.Equal(t, first.ActivationID, second.ActivationID)

	got, err := f.admin.GetLicense(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentActivations)
	assert.Len(t, f.recorder.ofType(license.EventLicenseActivated), 1)
}

func TestActivateLimitReached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.issue(t, 1, nil)

	_, err := f.manager.Activate(ctx, license.ActivateInput{LicenseKey: l.Key, HWID: "HW-A"})
	require.NoError(t, err)

	res, err := f.manager.Activate(ctx, license.ActivateInput{LicenseKey: l.Key, HWID: "HW-B"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, license.ReasonLimitReached, res.Reason)

	// releasing the seat makes room again
	_, err = f.manager.Deactivate(ctx, license.DeactivateInput{LicenseKey: l.Key, HWID: "HW-A"})
	require.NoError(t, err)
	res, err = f.manager.Activate(ctx, license.ActivateInput{LicenseKey: l.Key, HWID: "HW-B"})
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestConcurrentActivationsRespectCeiling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	const ceiling = 3
	const callers = 25
	l := f.issue(t, ceiling, nil)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		limited   int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.manager.Activate(ctx, license.ActivateInput{LicenseKey: l.Key, HWID: fmt.Sprintf("HW-%02d", i)})
			if err != nil {
				t.Errorf("activate %d: %v", i, err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if res.Success {
				successes++
			} else if res.Reason == license.ReasonLimitReached {
				limited++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, ceiling, successes)
	assert.Equal(t, callers-ceiling, limited)

	got, err := f.admin.GetLicense(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, ceiling, got.CurrentActivations)

	acts, err := f.store.ListActivations(ctx, l.ID)
	require.NoError(t, err)
	active := 0
	for _, a := range acts {
		if a.IsActive {
			active++
		}
	}
	assert.Equal(t, ceiling, active)
}

func TestConcurrentActivationsSameMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.issue(t, 5, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.manager.Activate(ctx, license.ActivateInput{LicenseKey: l.Key, HWID: "HW-SAME"})
			if err != nil || !res.Success {
				t.Errorf("activate: res=%+v err=%v", res, err)
			}
		}()
	}
	wg.Wait()

	got, err := f.admin.GetLicense(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentActivations)
	assert.Len(t, f.recorder.ofType(license.EventLicenseActivated), 1)
}

func TestValidateHardwareBinding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.issue(t, 2, nil)

	_, err := f.manager.Activate(ctx, license.ActivateInput{LicenseKey: l.Key, HWID: "HW-A"})
	require.NoError(t, err)

	res, err := f.validator.Validate(ctx, license.ValidateInput{LicenseKey: l.Key, HWID: "HW-B"})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, license.ReasonHardwareMismatch, res.Reason)
	assert.Nil(t, res.License)

	// the binding is set once and survives deactivation of the bound machine
	_, err = f.manager.Deactivate(ctx, license.DeactivateInput{LicenseKey: l.Key, HWID: "HW-A"})
	require.NoError(t, err)
	res, err = f.validator.Validate(ctx, license.ValidateInput{LicenseKey: l.Key, HWID: "HW-B"})
	require.NoError(t, err)
	assert.Equal(t, license.ReasonHardwareMismatch, res.Reason)

	_, err = f.admin.ResetBinding(ctx, l.ID)
	require.NoError(t, err)
	res, err = f.validator.Validate(ctx, license.ValidateInput{LicenseKey: l.Key, HWID: "HW-B"})
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestValidateExpiresLicense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	expiry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := f.issue(t, 1, &expiry)

	license.SetValidatorClock(f.validator, func() time.Time { return expiry.Add(time.Minute) })

	res, err := f.validator.Validate(ctx, license.ValidateInput{LicenseKey: l.Key, HWID: "HW-A"})
	require.NoError(t, err)
	assert.Equal(t, license.ReasonExpired, res.Reason)

	got, err := f.admin.GetLicense(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, license.StatusExpired, got.Status)

	res, err = f.validator.Validate(ctx, license.ValidateInput{LicenseKey: l.Key, HWID: "HW-A"})
	require.NoError(t, err)
	assert.Equal(t, license.StatusReason(license.StatusExpired), res.Reason)

	// renewal brings it back through the admin path
	_, err = f.admin.Renew(ctx, l.ID, expiry.AddDate(1, 0, 0))
	require.NoError(t, err)
	_, err = f.admin.SetStatus(ctx, l.ID, license.StatusActive)
	require.NoError(t, err)
	res, err = f.validator.Validate(ctx, license.ValidateInput{LicenseKey: l.Key, HWID: "HW-A"})
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestValidateUnknownAndProductScoped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.issue(t, 1, nil)

	res, err := f.validator.Validate(ctx, license.ValidateInput{LicenseKey: "ZZZZZ-ZZZZZ-ZZZZZ-ZZZZZ", HWID: "HW-A"})
	require.NoError(t, err)
	assert.Equal(t, license.ReasonNotFound, res.Reason)

	res, err = f.validator.Validate(ctx, license.ValidateInput{LicenseKey: l.Key, HWID: "HW-A", ProductID: "some-other-product"})
	require.NoError(t, err)
	assert.Equal(t, license.ReasonNotFound, res.Reason)

	res, err = f.validator.Validate(ctx, license.ValidateInput{LicenseKey: l.Key, HWID: "HW-A", ProductID: f.product.ID})
	require.NoError(t, err)
	assert.True(t, res.Valid)

	validated := f.recorder.ofType(license.EventLicenseValidated)
	require.Len(t, validated, 3)
	assert.Equal(t, "not_found", validated[0].Metadata["result"])
	assert.Equal(t, "valid", validated[2].Metadata["result"])
}

func TestValidateAcceptsLowercaseKey(t *testing.T) {
	f := newFixture(t)
	l := f.issue(t, 1, nil)

	res, err := f.validator.Validate(context.Background(), license.ValidateInput{LicenseKey: " " + strings.ToLower(l.Key) + " ", HWID: "HW-A"})
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestBlankInputRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.validator.Validate(ctx, license.ValidateInput{LicenseKey: "  ", HWID: "HW-A"})
	assert.True(t, errors.Is(err, license.ErrInvalidInput))

	_, err = f.manager.Activate(ctx, license.ActivateInput{LicenseKey: "AAAAA-AAAAA-AAAAA-AAAAA"})
	assert.True(t, errors.Is(err, license.ErrInvalidInput))

	_, err = f.manager.Heartbeat(ctx, license.HeartbeatInput{HWID: "HW-A"})
	assert.True(t, errors.Is(err, license.ErrInvalidInput))
}

func TestActivationIgnoresStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.issue(t, 1, nil)

	_, err := f.admin.SetStatus(ctx, l.ID, license.StatusSuspended)
	require.NoError(t, err)

	res, err := f.manager.Activate(ctx, license.ActivateInput{LicenseKey: l.Key, HWID: "HW-A"})
	require.NoError(t, err)
	assert.True(t, res.Success)

	v, err := f.validator.Validate(ctx, license.ValidateInput{LicenseKey: l.Key, HWID: "HW-A"})
	require.NoError(t, err)
	assert.Equal(t, license.Reason("status:suspended"), v.Reason)
}

func TestInfoAndHeartbeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.issue(t, 3, nil)
	beat := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	license.SetManagerClock(f.manager, func() time.Time { return beat })

	for _, hw := range []string{"HW-A", "HW-B"} {
		_, err := f.manager.Activate(ctx, license.ActivateInput{LicenseKey: l.Key, HWID: hw})
		require.NoError(t, err)
	}

	hb, err := f.manager.Heartbeat(ctx, license.HeartbeatInput{LicenseKey: l.Key, HWID: "HW-B", Status: "running"})
	require.NoError(t, err)
	assert.True(t, hb.Success)
	assert.Equal(t, beat, hb.ServerTime)

	info, err := f.manager.Info(ctx, l.Key)
	require.NoError(t, err)
	assert.Equal(t, 2, info.CurrentActivations)
	require.Len(t, info.Activations, 2)
	for _, a := range info.Activations {
		if a.HWID == "HW-B" {
			require.NotNil(t, a.LastSeenAt)
			assert.Equal(t, beat, *a.LastSeenAt)
		} else {
			assert.Nil(t, a.LastSeenAt)
		}
	}

	events := f.recorder.ofType(license.EventLicenseHeartbeat)
	require.Len(t, events, 1)
	assert.Equal(t, "running", events[0].Metadata["status"])

	miss, err := f.manager.Heartbeat(ctx, license.HeartbeatInput{LicenseKey: "ZZZZZ-ZZZZZ-ZZZZZ-ZZZZZ", HWID: "HW-A"})
	require.NoError(t, err)
	assert.False(t, miss.Success)
	assert.Equal(t, license.ReasonNotFound, miss.Reason)

	_, err = f.manager.Info(ctx, "ZZZZZ-ZZZZZ-ZZZZZ-ZZZZZ")
	assert.True(t, errors.Is(err, license.ErrLicenseNotFound))
}
