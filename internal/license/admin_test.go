package license_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"license-gateway/internal/license"
	"license-gateway/internal/memstore"
)

func TestCreateLicenseDefaultsToPending(t *testing.T) {
	store := memstore.New()
	rec := &captureRecorder{}
	admin := license.NewAdmin(store, rec, "", zerolog.Nop())
	ctx := context.Background()

	p, err := admin.CreateProduct(ctx, "Studio", "1.0", 10)
	require.NoError(t, err)
	u, err := admin.CreateUser(ctx, "Lee", "", "")
	require.NoError(t, err)
	assert.Equal(t, license.RoleUser, u.Role)

	l, err := admin.CreateLicense(ctx, license.CreateLicenseInput{ProductID: p.ID, UserID: u.ID, MaxActivations: 1})
	require.NoError(t, err)
	assert.Equal(t, license.StatusPending, l.Status)
	assert.Regexp(t, license.KeyPattern, l.Key)

	created := rec.ofType(license.EventLicenseCreated)
	require.Len(t, created, 1)
	assert.Equal(t, l.ID, created[0].LicenseID)
}

func TestCreateLicenseRetriesOnCollision(t *testing.T) {
	store := memstore.New()
	admin := license.NewAdmin(store, nil, license.StatusActive, zerolog.Nop())
	ctx := context.Background()

	p, err := admin.CreateProduct(ctx, "Studio", "1.0", 10)
	require.NoError(t, err)
	u, err := admin.CreateUser(ctx, "Lee", "", license.RoleUser)
	require.NoError(t, err)

	keys := []string{"AAAAA-AAAAA-AAAAA-AAAAA", "AAAAA-AAAAA-AAAAA-AAAAA", "BBBBB-BBBBB-BBBBB-BBBBB"}
	license.SetAdminKeyGenerator(admin, func() (string, error) {
		k := keys[0]
		keys = keys[1:]
		return k, nil
	})

	first, err := admin.CreateLicense(ctx, license.CreateLicenseInput{ProductID: p.ID, UserID: u.ID, MaxActivations: 1})
	require.NoError(t, err)
	second, err := admin.CreateLicense(ctx, license.CreateLicenseInput{ProductID: p.ID, UserID: u.ID, MaxActivations: 1})
	require.NoError(t, err)

	assert.Equal(t, "AAAAA-AAAAA-AAAAA-AAAAA", first.Key)
	assert.Equal(t, "BBBBB-BBBBB-BBBBB-BBBBB", second.Key)
}

func TestCreateLicenseGivesUpAfterRepeatedCollisions(t *testing.T) {
	store := memstore.New()
	admin := license.NewAdmin(store, nil, license.StatusActive, zerolog.Nop())
	ctx := context.Background()

	p, _ := admin.CreateProduct(ctx, "Studio", "1.0", 10)
	u, _ := admin.CreateUser(ctx, "Lee", "", license.RoleUser)
	license.SetAdminKeyGenerator(admin, func() (string, error) { return "CCCCC-CCCCC-CCCCC-CCCCC", nil })

	_, err := admin.CreateLicense(ctx, license.CreateLicenseInput{ProductID: p.ID, UserID: u.ID, MaxActivations: 1})
	require.NoError(t, err)
	_, err = admin.CreateLicense(ctx, license.CreateLicenseInput{ProductID: p.ID, UserID: u.ID, MaxActivations: 1})
	assert.True(t, errors.Is(err, license.ErrKeyGenerationFailed))
}

func TestCreateLicenseValidation(t *testing.T) {
	admin := license.NewAdmin(memstore.New(), nil, license.StatusActive, zerolog.Nop())
	ctx := context.Background()

	_, err := admin.CreateLicense(ctx, license.CreateLicenseInput{ProductID: "p", UserID: "u", MaxActivations: 0})
	assert.True(t, errors.Is(err, license.ErrInvalidInput))

	_, err = admin.CreateLicense(ctx, license.CreateLicenseInput{ProductID: "missing", UserID: "u", MaxActivations: 1})
	assert.True(t, errors.Is(err, license.ErrProductNotFound))

	_, err = admin.CreateProduct(ctx, " ", "1", 1)
	assert.True(t, errors.Is(err, license.ErrInvalidInput))
}

func TestSetStatusRejectsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.issue(t, 1, nil)

	_, err := f.admin.SetStatus(ctx, l.ID, license.StatusPending)
	assert.True(t, errors.Is(err, license.ErrInvalidTransition))

	got, err := f.admin.SetStatus(ctx, l.ID, license.StatusSuspended)
	require.NoError(t, err)
	assert.Equal(t, license.StatusSuspended, got.Status)

	changed := f.recorder.ofType(license.EventLicenseStatusChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "active", changed[0].Metadata["from"])
	assert.Equal(t, "suspended", changed[0].Metadata["to"])

	_, err = f.admin.SetStatus(ctx, "no-such-license", license.StatusActive)
	assert.True(t, errors.Is(err, license.ErrLicenseNotFound))
}

func TestRetireProduct(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.admin.RetireProduct(context.Background(), f.product.ID))
	assert.True(t, errors.Is(f.admin.RetireProduct(context.Background(), "missing"), license.ErrProductNotFound))
}
