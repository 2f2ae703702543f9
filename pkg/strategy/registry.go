package strategy

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var registered = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "funland",
	Name:      "strategies_registered",
	Help:      "Login strategies currently registered.",
})

// ErrUnknownStrategy is returned when no strategy is registered under a key.
var ErrUnknownStrategy = errors.New("unknown strategy")

// Registry maps tenant keys to login strategies.
type Registry interface {
	Register(key string, cfg Config) error
	Unregister(key string) error
	Resolve(key string) (Strategy, bool)
}

// Factory builds a Strategy for a key.
type Factory func(key string, cfg Config) (Strategy, error)

// MemoryRegistry is the process-local Registry.
type MemoryRegistry struct {
	mu      sync.RWMutex
	byKey   map[string]Strategy
	factory Factory
	log     *zap.SugaredLogger
}

// NewMemoryRegistry returns a registry that builds OIDCStrategy values.
func NewMemoryRegistry(log *zap.SugaredLogger) *MemoryRegistry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	r := &MemoryRegistry{byKey: map[string]Strategy{}, log: log}
	r.factory = func(key string, cfg Config) (Strategy, error) {
		return NewOIDCStrategy(key, cfg, log)
	}
	return r
}

// WithFactory replaces the strategy constructor.
func (r *MemoryRegistry) WithFactory(f Factory) *MemoryRegistry {
	r.factory = f
	return r
}

// Register builds a strategy and stores it, replacing any previous one.
func (r *MemoryRegistry) Register(key string, cfg Config) error {
	s, err := r.factory(key, cfg)
	if err != nil {
		return fmt.Errorf("register %q: %w", key, err)
	}
	r.mu.Lock()
	_, replaced := r.byKey[key]
	r.byKey[key] = s
	registered.Set(float64(len(r.byKey)))
	r.mu.Unlock()
	r.log.Infow("strategy registered", "key", key, "issuer", cfg.Issuer, "replaced", replaced)
	return nil
}

func (r *MemoryRegistry) Unregister(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[key]; !ok {
		return fmt.Errorf("unregister %q: %w", key, ErrUnknownStrategy)
	}
	delete(r.byKey, key)
	registered.Set(float64(len(r.byKey)))
	return nil
}

func (r *MemoryRegistry) Resolve(key string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byKey[key]
	return s, ok
}

// Keys lists registered keys in order.
func (r *MemoryRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
