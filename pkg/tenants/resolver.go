package tenants

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"funland/pkg/config"
	"funland/pkg/session"
	"funland/pkg/strategy"
)

// ErrorPath is where the browser is sent when no tenant can be resolved.
const ErrorPath = "/error"

var tracer = otel.Tracer("funland/pkg/tenants")

// Resolver maps inbound hosts to tenants, caching bootstrap API results and
// keeping the login strategy registry in step with the cache.
type Resolver struct {
	cfg      config.Config
	baseHost string
	provider Provider
	tokens   TokenSource
	registry strategy.Registry
	log      *zap.SugaredLogger
	now      func() time.Time

	mu      sync.RWMutex
	tenants map[string]Tenant
	flight  singleflight.Group
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithClock overrides time.Now, for expiry tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver builds the resolver and registers the static default tenant when
// it is fully configured. tokens may be nil for providers that need no bearer.
func NewResolver(cfg config.Config, prov Provider, tokens TokenSource, reg strategy.Registry, log *zap.SugaredLogger, opts ...Option) *Resolver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &Resolver{
		cfg:      cfg,
		baseHost: cfg.BaseHost(),
		provider: prov,
		tokens:   tokens,
		registry: reg,
		log:      log,
		now:      time.Now,
		tenants:  map[string]Tenant{},
	}
	for _, o := range opts {
		o(r)
	}

	if cfg.HasDefaultTenant() {
		log.Infow("default config found, used for requests without a subdomain", "base_uri", cfg.BaseURI)
		t := NewDefaultTenant(cfg)
		r.store(t)
		if err := r.RegisterStrategy(t, DefaultKey); err != nil {
			log.Errorw("default strategy", "err", err)
		}
	} else {
		log.Warnw("no default tenant configured (DEFAULT_ISSUER, DEFAULT_CLIENT_ID, DEFAULT_CLIENT_SECRET)")
	}
	if !cfg.HasDemoAPI() {
		log.Warnw("missing environment variables for demo API, configuration cannot be dynamically retrieved")
	}
	return r
}

// DeriveTenantKey returns the subdomain label(s) in front of "."+baseHost, or
// DefaultKey when there are none.
func (r *Resolver) DeriveTenantKey(host string) string {
	i := strings.Index(host, "."+r.baseHost)
	if i <= 0 {
		return DefaultKey
	}
	return host[:i]
}

// GetSettings returns the cached tenant for key, expired or not.
func (r *Resolver) GetSettings(key string) (Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[key]
	return t, ok
}

// Tenants returns a snapshot of the cache ordered by key.
func (r *Resolver) Tenants() []Tenant {
	r.mu.RLock()
	out := make([]Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		out = append(out, t)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Middleware resolves the tenant for every request. Cache hits are served
// without I/O; misses and expired entries go to the bootstrap API. Every
// failure ends in a redirect to ErrorPath.
func (r *Resolver) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			key := r.DeriveTenantKey(req.Host)
			log := r.log.With("tenant", key)
			log.Debugw("request for tenant received", "path", req.URL.Path)

			t, ok := r.lookup(key)
			if !ok {
				var err error
				t, err = r.resolve(req.Context(), key)
				if err != nil {
					log.Warnw("tenant resolution failed", "err", err)
					if errors.Is(err, ErrTenantNotFound) {
						if s := session.FromContext(req.Context()); s != nil {
							s.ErrorMsg = "Unable to bootstrap demo " + key
						}
					}
					http.Redirect(w, req, ErrorPath, http.StatusFound)
					return
				}
			}
			if err := t.Valid(); err != nil {
				log.Warnw("tenant not usable", "err", err)
				http.Redirect(w, req, ErrorPath, http.StatusFound)
				return
			}

			if s := session.FromContext(req.Context()); s != nil {
				s.TenantKey = key
				s.Settings = t.Settings
			}
			next.ServeHTTP(w, req.WithContext(WithTenant(req.Context(), t)))
		})
	}
}

// RegisterStrategy (re)registers the login strategy for key.
func (r *Resolver) RegisterStrategy(t Tenant, key string) error {
	cfg := strategy.Config{
		Issuer:            t.Issuer,
		AuthorizationURL:  t.AuthorizationURL,
		TokenURL:          t.TokenURL,
		UserInfoURL:       t.UserInfoURL,
		ClientID:          t.ClientID,
		ClientSecret:      t.ClientSecret,
		CallbackURL:       t.CallbackURL,
		Scopes:            r.cfg.ScopeList(),
		DisableHTTPSCheck: r.cfg.DisableHTTPSCheck,
	}
	return r.registry.Register(key, cfg)
}

// RemoveTenant drops key from the cache and unregisters its strategy.
// Best effort: failures are logged and never reach the caller.
func (r *Resolver) RemoveTenant(key string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorw("unable to remove tenant", "tenant", key, "err", rec)
		}
	}()
	r.mu.Lock()
	delete(r.tenants, key)
	cachedTenants.Set(float64(len(r.tenants)))
	r.mu.Unlock()
	r.flight.Forget(key)

	if err := r.registry.Unregister(key); err != nil {
		r.log.Errorw("unable to remove tenant strategy", "tenant", key, "err", err)
		return
	}
	r.log.Infow("tenant removed", "tenant", key)
}

// lookup is the hot path: a read-locked map access.
func (r *Resolver) lookup(key string) (Tenant, bool) {
	t, ok := r.GetSettings(key)
	switch {
	case !ok:
		cacheLookups.WithLabelValues("miss").Inc()
		return Tenant{}, false
	case t.IsExpired(r.now()):
		cacheLookups.WithLabelValues("expired").Inc()
		return Tenant{}, false
	}
	cacheLookups.WithLabelValues("hit").Inc()
	return t, true
}

// resolve collapses concurrent misses for the same key into one fetch. The
// fetch is detached from the request so an abandoned request still fills the
// cache; it is bounded by the bootstrap timeout instead.
func (r *Resolver) resolve(ctx context.Context, key string) (Tenant, error) {
	v, err, shared := r.flight.Do(key, func() (any, error) {
		if t, ok := r.GetSettings(key); ok && !t.IsExpired(r.now()) {
			return t, nil
		}
		fctx, cancel := r.fetchContext(ctx)
		defer cancel()
		return r.fetch(fctx, key)
	})
	if shared {
		r.log.Debugw("shared in-flight bootstrap fetch", "tenant", key)
	}
	if err != nil {
		return Tenant{}, err
	}
	return v.(Tenant), nil
}

func (r *Resolver) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if r.cfg.BootstrapTimeout > 0 {
		return context.WithTimeout(base, r.cfg.BootstrapTimeout)
	}
	return context.WithCancel(base)
}

func (r *Resolver) fetch(ctx context.Context, key string) (Tenant, error) {
	ctx, span := tracer.Start(ctx, "tenants.fetch")
	defer span.End()
	span.SetAttributes(attribute.String("tenant.key", key))

	t, err := r.fetchAndStore(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return t, err
}

func (r *Resolver) fetchAndStore(ctx context.Context, key string) (Tenant, error) {
	log := r.log.With("tenant", key)
	bearer := ""
	if r.tokens != nil {
		bearer = r.tokens.Token(ctx)
		if bearer == "" {
			bootstrapFetches.WithLabelValues("no_token").Inc()
			return Tenant{}, ErrNoServiceToken
		}
	}

	log.Infow("consulting bootstrap API for tenant info")
	payload, err := r.provider.FetchTenant(ctx, key, bearer)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			bootstrapFetches.WithLabelValues("not_found").Inc()
		} else {
			bootstrapFetches.WithLabelValues("error").Inc()
		}
		return Tenant{}, fmt.Errorf("bootstrap %q: %w", key, err)
	}
	bootstrapFetches.WithLabelValues("ok").Inc()

	t := NewTenant(payload, key, BuildOptions{
		BaseURI:       r.cfg.BaseURI,
		CacheDuration: r.cfg.CacheDuration,
		Now:           r.now,
		Log:           r.log,
	})
	r.store(t)
	log.Infow("tenant stored", "expires_at", t.ExpiresAt)

	if err := r.RegisterStrategy(t, key); err != nil {
		// The tenant stays cached; Valid() turns it into an error redirect.
		log.Errorw("strategy registration failed", "err", err)
	}
	return t, nil
}

func (r *Resolver) store(t Tenant) {
	r.mu.Lock()
	r.tenants[t.Key] = t
	cachedTenants.Set(float64(len(r.tenants)))
	r.mu.Unlock()
}
