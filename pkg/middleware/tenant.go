// pkg/middleware/tenant.go
package middleware

import (
	"context"
	"net/http"
	"strings"

	"funland/pkg/tenants"
)

// paths served without a tenant; /error must be here or a failed resolution
// would redirect to itself
var tenantFree = []string{"/error", "/healthz", "/metrics", "/static/", "/admin/", "/api/"}

// WithTenant runs the resolver for every request except the tenant-free paths.
func WithTenant(res *tenants.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		resolved := res.Middleware()(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tenantFreePath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			resolved.ServeHTTP(w, r)
		})
	}
}

func tenantFreePath(p string) bool {
	for _, free := range tenantFree {
		if p == strings.TrimSuffix(free, "/") {
			return true
		}
		if strings.HasSuffix(free, "/") && strings.HasPrefix(p, free) {
			return true
		}
	}
	return false
}

// TenantFrom returns the resolved tenant, or the zero Tenant on tenant-free paths.
func TenantFrom(ctx context.Context) tenants.Tenant {
	t, _ := tenants.TenantFrom(ctx)
	return t
}
