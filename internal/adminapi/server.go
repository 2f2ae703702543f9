package adminapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"funland/pkg/openapi"
)

func (a *App) operations() *openapi.Registry {
	key := []openapi.Param{{Name: "key", Description: "tenant subdomain"}}
	reg := openapi.NewRegistry()
	reg.Register(
		openapi.Operation{Method: http.MethodGet, Path: "/tenants", Summary: "List cached tenants", Tags: []string{"tenants"},
			Responses: map[string]string{"200": "cached tenants, secrets redacted"}},
		openapi.Operation{Method: http.MethodGet, Path: "/tenants/{key}", Summary: "Get a cached tenant", Tags: []string{"tenants"},
			Params: key, Responses: map[string]string{"200": "tenant", "404": "not cached"}},
		openapi.Operation{Method: http.MethodDelete, Path: "/tenants/{key}", Summary: "Evict a tenant and its login strategy", Tags: []string{"tenants"},
			Params: key, Destructive: true, Responses: map[string]string{"204": "evicted", "404": "not cached"}},
	)
	return reg
}

// Routes returns the admin router, to be mounted at /admin. The OpenAPI
// document is served without authentication.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()
	if len(a.cfg.CORSOrigins) > 0 {
		r.Use(cors(a.cfg.CORSOrigins))
	}
	r.Get("/openapi.json", a.operations().ServeHandler("Funland admin API", "1.0.0", "/admin"))
	r.Group(func(r chi.Router) {
		r.Use(a.adminAuth)
		r.Get("/tenants", a.listTenants)
		r.Get("/tenants/{key}", a.getTenant)
		r.Delete("/tenants/{key}", a.deleteTenant)
	})
	return r
}
