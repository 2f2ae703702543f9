package tenants

import "context"

type ctxTenantKey struct{}

// WithTenant stores the resolved tenant in ctx.
func WithTenant(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, ctxTenantKey{}, t)
}

// TenantFrom returns the tenant resolved for the current request.
func TenantFrom(ctx context.Context) (Tenant, bool) {
	t, ok := ctx.Value(ctxTenantKey{}).(Tenant)
	return t, ok
}

// SettingsFrom returns the tenant settings attached to the request, or nil.
func SettingsFrom(ctx context.Context) map[string]any {
	if t, ok := TenantFrom(ctx); ok {
		return t.Settings
	}
	return nil
}
