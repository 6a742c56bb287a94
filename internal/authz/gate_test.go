package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	verrors "github.com/systmms/secretvault/internal/errors"
	"github.com/systmms/secretvault/internal/logging"
	"github.com/systmms/secretvault/internal/store"
)

var testConfig = Config{
	Secret:   "test-signing-secret",
	Issuer:   "secretvault-test",
	Audience: "secretvault",
}

type failingRoles struct{}

func (failingRoles) RolesFor(context.Context, string) ([]string, error) {
	return nil, errors.New("db down")
}

func newTestGate(t *testing.T) (*Gate, *store.MemoryStore) {
	t.Helper()
	roles := store.NewMemoryStore()
	roles.SetRoles("admin-1", "viewer", DefaultSuperAdminRole)
	roles.SetRoles("viewer-1", "viewer")

	g, err := NewGate(testConfig, roles, logging.Discard())
	require.NoError(t, err)
	return g, roles
}

func mustSign(t *testing.T, cfg Config, sub string, ttl time.Duration) string {
	t.Helper()
	tok, err := SignToken(cfg, sub, ttl)
	require.NoError(t, err)
	return tok
}

func TestNewGateRequiresSecret(t *testing.T) {
	_, err := NewGate(Config{}, store.NewMemoryStore(), nil)
	require.Error(t, err)

	_, err = NewGate(Config{Secret: "x"}, nil, nil)
	require.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", false},
		{"missing", "", "", true},
		{"wrong_scheme", "Basic dXNlcjpwYXNz", "", true},
		{"empty_token", "Bearer   ", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BearerToken(tt.header)
			if tt.wantErr {
				assert.ErrorIs(t, err, verrors.ErrUnauthorized)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	g, _ := newTestGate(t)

	otherIssuer := testConfig
	otherIssuer.Issuer = "someone-else"
	otherSecret := testConfig
	otherSecret.Secret = "different-secret"

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "admin-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"valid", mustSign(t, testConfig, "admin-1", time.Hour), false},
		{"empty", "", true},
		{"garbage", "not-a-jwt", true},
		{"expired", mustSign(t, testConfig, "admin-1", -time.Minute), true},
		{"wrong_issuer", mustSign(t, otherIssuer, "admin-1", time.Hour), true},
		{"wrong_secret", mustSign(t, otherSecret, "admin-1", time.Hour), true},
		{"no_subject", mustSign(t, testConfig, "", time.Hour), true},
		{"alg_none", noneToken, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := g.Authenticate(tt.token)
			if tt.wantErr {
				assert.ErrorIs(t, err, verrors.ErrUnauthorized)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "admin-1", id.UserID)
		})
	}
}

func TestAuthorizeSuperAdmin(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	p, err := g.AuthorizeSuperAdmin(ctx, Identity{UserID: "admin-1"})
	require.NoError(t, err)
	assert.True(t, p.Admitted())
	assert.Equal(t, "admin-1", p.Identity().UserID)

	p, err = g.AuthorizeSuperAdmin(ctx, Identity{UserID: "viewer-1"})
	assert.ErrorIs(t, err, verrors.ErrForbidden)
	assert.False(t, p.Admitted())

	_, err = g.AuthorizeSuperAdmin(ctx, Identity{UserID: "stranger"})
	assert.ErrorIs(t, err, verrors.ErrForbidden)
}

func TestAuthorizeRoleLookupFailure(t *testing.T) {
	g, err := NewGate(testConfig, failingRoles{}, logging.Discard())
	require.NoError(t, err)

	_, err = g.AuthorizeSuperAdmin(context.Background(), Identity{UserID: "admin-1"})
	assert.Equal(t, verrors.KindInternal, verrors.KindOf(err))
}

func TestAdmitStates(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"unauthenticated", "", 401},
		{"bad_token", "Bearer nope", 401},
		{"wrong_role", "Bearer " + mustSign(t, testConfig, "viewer-1", time.Hour), 403},
		{"super_admin", "Bearer " + mustSign(t, testConfig, "admin-1", time.Hour), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := g.Admit(ctx, tt.header)
			if tt.status == 0 {
				require.NoError(t, err)
				assert.True(t, p.Admitted())
				return
			}
			assert.Equal(t, tt.status, verrors.HTTPStatus(err))
		})
	}
}

func TestCustomSuperAdminRole(t *testing.T) {
	roles := store.NewMemoryStore()
	roles.SetRoles("u", "vault-owner")
	cfg := testConfig
	cfg.SuperAdminRole = "vault-owner"

	g, err := NewGate(cfg, roles, logging.Discard())
	require.NoError(t, err)

	_, err = g.Admit(context.Background(), "Bearer "+mustSign(t, cfg, "u", time.Hour))
	assert.NoError(t, err)
}
