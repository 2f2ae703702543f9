// pkg/middleware/auth.go
package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"golang.org/x/sync/singleflight"

	"funland/pkg/session"
)

// JWKSCache caches JWKS sets per URL. Fetches run without holding the
// lock, so lookups for other URLs are never blocked by a slow key server;
// concurrent misses for one URL share a single fetch.
type JWKSCache struct {
	TTL time.Duration

	mu     sync.RWMutex
	sets   map[string]cachedJWKS
	flight singleflight.Group
	now    func() time.Time
}

type cachedJWKS struct {
	set     jwk.Set
	expires time.Time
}

func NewJWKSCache(ttl time.Duration) *JWKSCache {
	return &JWKSCache{TTL: ttl, sets: map[string]cachedJWKS{}, now: time.Now}
}

func (c *JWKSCache) Get(ctx context.Context, url string) (jwk.Set, error) {
	if set, ok := c.cached(url); ok {
		return set, nil
	}
	v, err, _ := c.flight.Do(url, func() (any, error) {
		if set, ok := c.cached(url); ok {
			return set, nil
		}
		set, err := jwk.Fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.sets[url] = cachedJWKS{set: set, expires: c.now().Add(c.TTL)}
		c.mu.Unlock()
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(jwk.Set), nil
}

func (c *JWKSCache) cached(url string) (jwk.Set, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.sets[url]; ok && c.now().Before(e.expires) {
		return e.set, true
	}
	return nil, false
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(authz[len("Bearer "):])
	return tok, tok != ""
}

// RequireLogin sends anonymous browsers to loginPath.
func RequireLogin(loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s := session.FromContext(r.Context()); s == nil || s.User == nil {
				http.Redirect(w, r, loginPath, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ActorSub is the subject of the logged-in user, or "".
func ActorSub(ctx context.Context) string {
	if s := session.FromContext(ctx); s != nil {
		return s.User.Subject()
	}
	return ""
}
