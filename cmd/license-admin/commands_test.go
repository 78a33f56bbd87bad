package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"license-gateway/config"
	"license-gateway/internal/auth"
	"license-gateway/internal/license"
	"license-gateway/internal/memstore"
)

// syncRecorder writes events straight to the store
type syncRecorder struct{ store *memstore.Store }

func (r syncRecorder) Record(e license.AnalyticsEvent) {
	r.store.InsertEvent(context.Background(), e)
}

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	store := memstore.New()
	out := &bytes.Buffer{}
	return &app{
		cfg:     &config.Config{},
		admin:   license.NewAdmin(store, syncRecorder{store}, license.StatusPending, zerolog.Nop()),
		history: store,
		keys:    auth.NewKeyService(store, auth.Config{BcryptCost: bcrypt.MinCost}, zerolog.Nop()),
		tokens:  auth.NewJWTManager("test-secret", "license-gateway", time.Hour),
		out:     out,
	}, out
}

func runJSON(t *testing.T, a *app, out *bytes.Buffer, v interface{}, args ...string) {
	t.Helper()
	out.Reset()
	require.NoError(t, a.dispatch(context.Background(), args))
	require.NoError(t, json.Unmarshal(out.Bytes(), v))
}

func TestLicenseLifecycleCommands(t *testing.T) {
	a, out := newTestApp(t)

	var p license.Product
	runJSON(t, a, out, &p, "product", "create", "-name", "Studio", "-version", "2.1", "-price", "49")
	var u license.User
	runJSON(t, a, out, &u, "user", "create", "-name", "Ada", "-company", "Acme")

	var l license.License
	runJSON(t, a, out, &l, "license", "create", "-product", p.ID, "-user", u.ID, "-max", "3", "-expires", "2030-01-01")
	assert.Equal(t, license.StatusPending, l.Status)
	assert.Equal(t, 3, l.MaxActivations)
	require.NotNil(t, l.ExpiresAt)
	assert.Equal(t, 2030, l.ExpiresAt.Year())

	runJSON(t, a, out, &l, "license", "status", "-id", l.ID, "-to", "active")
	assert.Equal(t, license.StatusActive, l.Status)

	runJSON(t, a, out, &l, "license", "renew", "-id", l.ID)
	assert.Nil(t, l.ExpiresAt)

	runJSON(t, a, out, &l, "license", "reset-binding", "-id", l.ID)
	assert.Empty(t, l.BoundHWID)

	var shown license.License
	runJSON(t, a, out, &shown, "license", "show", "-id", l.ID)
	assert.Equal(t, l.Key, shown.Key)

	out.Reset()
	require.NoError(t, a.dispatch(context.Background(), []string{"license", "events", "-id", l.ID}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], string(license.EventLicenseStatusChanged))
	assert.Contains(t, lines[2], string(license.EventLicenseCreated))
}

func TestCommandErrors(t *testing.T) {
	a, _ := newTestApp(t)
	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"license", "explode"}},
		{"missing subcommand", []string{"license"}},
		{"bad status", []string{"license", "status", "-id", "x", "-to", "revoked"}},
		{"bad date", []string{"license", "create", "-product", "p", "-user", "u", "-expires", "soon"}},
		{"unknown license", []string{"license", "show", "-id", "missing"}},
		{"bad scope", []string{"key", "create", "-name", "ci", "-scope", "root"}},
		{"token without subject", []string{"token", "issue"}},
		{"vault disabled", []string{"vault", "put"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, a.dispatch(context.Background(), tt.args))
		})
	}
}

func TestKeyCommands(t *testing.T) {
	a, out := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, a.dispatch(ctx, []string{"key", "create", "-name", "ci", "-scope", "admin"}))
	first, rest, ok := strings.Cut(out.String(), "\n")
	require.True(t, ok)
	raw := strings.TrimPrefix(first, "api key (shown once): ")
	require.True(t, strings.HasPrefix(raw, "lk_"))

	var k auth.APIKey
	require.NoError(t, json.Unmarshal([]byte(rest), &k))
	assert.Equal(t, auth.ScopeAdmin, k.Scope)

	_, err := a.keys.Verify(ctx, raw)
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, a.dispatch(ctx, []string{"key", "list"}))
	assert.Contains(t, out.String(), k.Prefix)

	require.NoError(t, a.dispatch(ctx, []string{"key", "revoke", "-id", k.ID}))
	_, err = a.keys.Verify(ctx, raw)
	assert.Error(t, err)
}

func TestTokenIssue(t *testing.T) {
	a, out := newTestApp(t)

	var resp struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	runJSON(t, a, out, &resp, "token", "issue", "-subject", "desktop-app", "-ttl", "10m")

	claims, err := a.tokens.Validate(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "desktop-app", claims.Subject)
	assert.Equal(t, auth.ScopeClient, claims.Scope)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), resp.ExpiresAt, time.Minute)
}

func TestParseDate(t *testing.T) {
	got, err := parseDate("2031-06-15T10:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2031, 6, 15, 8, 0, 0, 0, time.UTC), got)

	_, err = parseDate("15/06/2031")
	assert.Error(t, err)
}
