package tenants

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funland/pkg/config"
	"funland/pkg/logger"
)

func fullPayload() map[string]any {
	return map[string]any{
		"state": "active",
		"oidc_configuration": map[string]any{
			"issuer":        "https://acme.idp.test",
			"authorizeUrl":  "https://acme.idp.test/v1/authorize",
			"tokenUrl":      "https://acme.idp.test/v1/token",
			"userInfoUrl":   "https://acme.idp.test/v1/userinfo",
			"client_id":     "acme-client",
			"client_secret": "acme-secret",
		},
		"settings": map[string]any{"theme": "dark"},
	}
}

func TestNewTenantExtractsFields(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tn := NewTenant(fullPayload(), "acme", BuildOptions{
		BaseURI:       "https://funland.test:8443",
		CacheDuration: 30 * time.Minute,
		Now:           func() time.Time { return now },
		Log:           logger.Nop(),
	})

	assert.Equal(t, "acme", tn.Key)
	assert.Equal(t, "active", tn.State)
	assert.Equal(t, "https://acme.idp.test", tn.Issuer)
	assert.Equal(t, "https://acme.idp.test/v1/authorize", tn.AuthorizationURL)
	assert.Equal(t, "https://acme.idp.test/v1/token", tn.TokenURL)
	assert.Equal(t, "https://acme.idp.test/v1/userinfo", tn.UserInfoURL)
	assert.Equal(t, "acme-client", tn.ClientID)
	assert.Equal(t, "acme-secret", tn.ClientSecret)
	assert.Equal(t, "https://acme.funland.test:8443/callback", tn.CallbackURL)
	assert.Equal(t, map[string]any{"theme": "dark"}, tn.Settings)
	require.NotNil(t, tn.ExpiresAt)
	assert.Equal(t, now.Add(30*time.Minute), *tn.ExpiresAt)
	assert.NoError(t, tn.Valid())
}

func TestNewTenantPartialPayload(t *testing.T) {
	tn := NewTenant(map[string]any{
		"state":              "pending",
		"oidc_configuration": map[string]any{"issuer": 42},
		"settings":           "not-a-map",
	}, "odd", BuildOptions{BaseURI: "https://funland.test", CacheDuration: time.Minute})

	assert.Equal(t, "pending", tn.State)
	assert.Empty(t, tn.Issuer)
	assert.Empty(t, tn.ClientID)
	assert.Nil(t, tn.Settings)
	assert.Equal(t, "https://odd.funland.test/callback", tn.CallbackURL)

	err := tn.Valid()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTenant))
	assert.Contains(t, err.Error(), "issuer")
	assert.Contains(t, err.Error(), "client_id")
}

func TestNewTenantEmptyPayload(t *testing.T) {
	tn := NewTenant(map[string]any{}, "ghost", BuildOptions{BaseURI: "http://localhost:8080"})
	assert.Equal(t, "ghost", tn.Key)
	assert.Empty(t, tn.State)
	assert.Equal(t, "http://ghost.localhost:8080/callback", tn.CallbackURL)
	require.NotNil(t, tn.ExpiresAt)
}

func TestNewDefaultTenant(t *testing.T) {
	tn := NewDefaultTenant(config.Config{
		BaseURI:             "http://localhost:8080",
		DefaultIssuer:       "https://default.idp.test/",
		DefaultClientID:     "cid",
		DefaultClientSecret: "secret",
	})
	assert.Equal(t, DefaultKey, tn.Key)
	assert.Equal(t, "https://default.idp.test", tn.Issuer)
	assert.Equal(t, "https://default.idp.test/v1/authorize", tn.AuthorizationURL)
	assert.Equal(t, "https://default.idp.test/v1/token", tn.TokenURL)
	assert.Equal(t, "https://default.idp.test/v1/userinfo", tn.UserInfoURL)
	assert.Equal(t, "http://localhost:8080/callback", tn.CallbackURL)
	assert.Nil(t, tn.ExpiresAt)
	assert.False(t, tn.IsExpired(time.Now().Add(24*365*time.Hour)))
}

func TestIsExpired(t *testing.T) {
	exp := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tn := Tenant{ExpiresAt: &exp}
	assert.False(t, tn.IsExpired(exp.Add(-time.Second)))
	assert.False(t, tn.IsExpired(exp))
	assert.True(t, tn.IsExpired(exp.Add(time.Nanosecond)))
}

func TestCallbackURL(t *testing.T) {
	cases := []struct {
		base, key, want string
		wantErr         bool
	}{
		{base: "https://funland.test", key: "acme", want: "https://acme.funland.test/callback"},
		{base: "http://localhost:3000/", key: "a.b", want: "http://a.b.localhost:3000/callback"},
		{base: "https://funland.test/app?x=1", key: "acme", want: "https://acme.funland.test/callback"},
		{base: "not a uri", key: "acme", wantErr: true},
	}
	for _, c := range cases {
		t.Run(c.base, func(t *testing.T) {
			got, err := CallbackURL(c.base, c.key)
			if c.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}
