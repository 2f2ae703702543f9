package adminapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwt"

	"funland/pkg/middleware"
	"funland/pkg/problems"
)

var errNoVerifier = errors.New("no token verifier configured")

type ctxClaimsKey struct{}

func claimsFrom(ctx context.Context) map[string]any {
	c, _ := ctx.Value(ctxClaimsKey{}).(map[string]any)
	return c
}

// cors returns a middleware that sets CORS headers and handles preflight requests.
// allowed may contain exact origins (e.g., http://localhost:3001) or "*" to allow all.
func cors(allowed []string) func(http.Handler) http.Handler {
	match := func(origin string) bool {
		if origin == "" {
			return false
		}
		for _, a := range allowed {
			a = strings.TrimSpace(a)
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); match(origin) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,DELETE,OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Access-Control-Max-Age", "86400")
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// adminAuth authenticates the bearer (API key or JWKS-verified JWT) and asks
// the policy whether the caller may perform the request.
func (a *App) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, ok := middleware.BearerToken(r)
		if !ok {
			problems.Write(w, r, http.StatusUnauthorized, "missing-bearer", "Authorization: Bearer required")
			return
		}
		claims, err := a.authenticate(r.Context(), tok)
		if err != nil {
			a.log.Infow("admin auth rejected", "err", err, "request_id", middleware.RequestIDFrom(r.Context()))
			problems.Write(w, r, http.StatusUnauthorized, "invalid-token", "token rejected")
			return
		}

		input := map[string]any{
			"method": r.Method,
			"path":   strings.Split(strings.Trim(r.URL.Path, "/"), "/"),
			"claims": claims,
		}
		allowed, err := a.policy.Allow(r.Context(), input)
		if err != nil {
			a.log.Errorw("admin policy", "err", err)
			problems.Write(w, r, http.StatusInternalServerError, "policy-error", "authorization policy failed")
			return
		}
		if !allowed {
			problems.Write(w, r, http.StatusForbidden, "forbidden", "not allowed by admin policy")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxClaimsKey{}, claims)))
	})
}

func (a *App) authenticate(ctx context.Context, tok string) (map[string]any, error) {
	if a.cfg.APIKey != "" && subtle.ConstantTimeCompare([]byte(tok), []byte(a.cfg.APIKey)) == 1 {
		return map[string]any{"sub": "api-key", "role": "admin"}, nil
	}
	if a.jwks == nil {
		return nil, errNoVerifier
	}
	set, err := a.jwks.Get(ctx, a.cfg.JWKSURL)
	if err != nil {
		return nil, err
	}
	opts := []jwt.ParseOption{
		jwt.WithKeySet(set),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(a.now)),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}
	jt, err := jwt.ParseString(tok, opts...)
	if err != nil {
		return nil, err
	}
	claims, err := jt.AsMap(ctx)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
