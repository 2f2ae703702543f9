package tenants

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "funland",
		Name:      "tenant_cache_lookups_total",
		Help:      "Tenant cache lookups by result (hit, miss, expired).",
	}, []string{"result"})

	bootstrapFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "funland",
		Name:      "tenant_bootstrap_fetches_total",
		Help:      "Bootstrap API fetches by outcome.",
	}, []string{"outcome"})

	cachedTenants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "funland",
		Name:      "tenants_cached",
		Help:      "Tenants currently held in the resolver cache.",
	})
)
