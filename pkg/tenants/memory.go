// pkg/tenants/memory.go
package tenants

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// memProvider serves bootstrap payloads from a static seed instead of the
// remote API. Used for local runs and tests.
type memProvider struct {
	log   *zap.SugaredLogger
	mu    sync.RWMutex
	byKey map[string]map[string]any
}

// NewMemoryProvider returns a Provider seeded from TENANT_SEED_JSON style input:
//
//	[
//	  {"key":"acme","state":"active",
//	   "oidc_configuration":{"issuer":"...","authorizeUrl":"...","tokenUrl":"...",
//	                         "userInfoUrl":"...","client_id":"...","client_secret":"..."},
//	   "settings":{"theme":"dark"}}
//	]
func NewMemoryProvider(seed string, log *zap.SugaredLogger) Provider {
	p := &memProvider{log: log, byKey: map[string]map[string]any{}}
	if seed == "" {
		return p
	}
	var entries []map[string]any
	if err := json.Unmarshal([]byte(seed), &entries); err != nil {
		log.Warnw("tenant seed", "err", err)
		return p
	}
	for _, e := range entries {
		key, _ := e["key"].(string)
		if key == "" {
			log.Warnw("tenant seed entry without key skipped")
			continue
		}
		delete(e, "key")
		p.byKey[key] = e
	}
	log.Infow("tenant seed loaded", "tenants", len(p.byKey))
	return p
}

func (m *memProvider) FetchTenant(ctx context.Context, key, _ string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.byKey[key]; ok {
		out := make(map[string]any, len(p))
		for k, v := range p {
			out[k] = v
		}
		return out, nil
	}
	return nil, ErrTenantNotFound
}
