package adminapi

import (
	"context"
	"time"

	"go.uber.org/zap"

	"funland/pkg/middleware"
	"funland/pkg/tenants"
)

// Config holds admin-api specific configuration.
type Config struct {
	Issuer      string
	Audience    string
	JWKSURL     string
	APIKey      string
	PolicyFile  string
	CORSOrigins []string
}

// TenantStore is the resolver surface the admin API operates on.
type TenantStore interface {
	Tenants() []tenants.Tenant
	GetSettings(key string) (tenants.Tenant, bool)
	RemoveTenant(key string)
}

// App is the admin-api application container.
// Handlers and middleware have methods on this type.
type App struct {
	log     *zap.SugaredLogger
	tenants TenantStore
	cfg     Config
	jwks    *middleware.JWKSCache
	policy  *Policy
	now     func() time.Time
}

// New compiles the authorization policy. Bearer tokens are accepted when
// JWKSURL is set; the static API key when APIKey is set.
func New(ctx context.Context, log *zap.SugaredLogger, store TenantStore, cfg Config) (*App, error) {
	pol, err := LoadPolicy(ctx, cfg.PolicyFile)
	if err != nil {
		return nil, err
	}
	app := &App{
		log:     log,
		tenants: store,
		cfg:     cfg,
		policy:  pol,
		now:     time.Now,
	}
	if cfg.JWKSURL != "" {
		app.jwks = middleware.NewJWKSCache(6 * time.Hour)
	}
	if cfg.JWKSURL == "" && cfg.APIKey == "" {
		log.Warnw("admin api has no JWKS or API key configured, every request will be rejected")
	}
	return app, nil
}
