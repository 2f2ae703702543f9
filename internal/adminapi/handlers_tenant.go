package adminapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"funland/pkg/problems"
	"funland/pkg/tenants"
)

// tenantView never carries the client secret.
type tenantView struct {
	Key              string         `json:"key"`
	State            string         `json:"state,omitempty"`
	Issuer           string         `json:"issuer"`
	AuthorizationURL string         `json:"authorization_url,omitempty"`
	TokenURL         string         `json:"token_url,omitempty"`
	UserInfoURL      string         `json:"userinfo_url,omitempty"`
	ClientID         string         `json:"client_id"`
	ClientSecretSet  bool           `json:"client_secret_set"`
	CallbackURL      string         `json:"callback_url"`
	Settings         map[string]any `json:"settings,omitempty"`
	ExpiresAt        *time.Time     `json:"expires_at"`
	Expired          bool           `json:"expired"`
	Valid            bool           `json:"valid"`
}

func (a *App) view(t tenants.Tenant) tenantView {
	return tenantView{
		Key:              t.Key,
		State:            t.State,
		Issuer:           t.Issuer,
		AuthorizationURL: t.AuthorizationURL,
		TokenURL:         t.TokenURL,
		UserInfoURL:      t.UserInfoURL,
		ClientID:         t.ClientID,
		ClientSecretSet:  t.ClientSecret != "",
		CallbackURL:      t.CallbackURL,
		Settings:         t.Settings,
		ExpiresAt:        t.ExpiresAt,
		Expired:          t.IsExpired(a.now()),
		Valid:            t.Valid() == nil,
	}
}

func (a *App) listTenants(w http.ResponseWriter, r *http.Request) {
	list := a.tenants.Tenants()
	out := make([]tenantView, 0, len(list))
	for _, t := range list {
		out = append(out, a.view(t))
	}
	problems.JSON(w, http.StatusOK, map[string]any{"tenants": out})
}

func (a *App) getTenant(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	t, ok := a.tenants.GetSettings(key)
	if !ok {
		problems.Write(w, r, http.StatusNotFound, "tenant-not-found", "tenant "+key+" is not cached")
		return
	}
	problems.JSON(w, http.StatusOK, a.view(t))
}

// deleteTenant evicts the tenant; the next request for it refetches from the
// bootstrap API.
func (a *App) deleteTenant(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, ok := a.tenants.GetSettings(key); !ok {
		problems.Write(w, r, http.StatusNotFound, "tenant-not-found", "tenant "+key+" is not cached")
		return
	}
	a.tenants.RemoveTenant(key)
	a.log.Infow("tenant evicted via admin api", "tenant", key, "by", claimsFrom(r.Context())["sub"])
	w.WriteHeader(http.StatusNoContent)
}
