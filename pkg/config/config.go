// pkg/config/config.go
package config

import (
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultDemoAPIEndpoint      = "https://api.demo.okta.com"
	defaultDemoAPIAudience      = "https://api.demo.okta.com"
	defaultDemoAPITokenEndpoint = "https://auth.demo.okta.com/oauth/token"
)

type Config struct {
	Env      string
	HTTPAddr string
	LogLevel string

	// Public base URI of the storefront, e.g. https://funland.example.com.
	// Tenant subdomains hang off its host.
	BaseURI       string
	CacheDuration time.Duration

	// Static default tenant (used for requests without a subdomain)
	DefaultIssuer       string
	DefaultClientID     string
	DefaultClientSecret string

	// Bootstrap (demo) API
	DemoAPIEndpoint      string
	DemoAPIAudience      string
	DemoAPITokenEndpoint string
	DemoAPIAppID         string
	DemoAPIClientID      string
	DemoAPIClientSecret  string
	BootstrapTimeout     time.Duration

	Scopes            string
	DisableHTTPSCheck bool
	DebugDoubleWrite  bool

	// Sessions
	RedisURL      string
	SessionTTL    time.Duration
	SessionCookie string
	SessionSecure bool

	TenantSeedJSON string
	CatalogFile    string

	// Admin API
	AdminJWKSURL    string
	AdminIssuer     string
	AdminAudience   string
	AdminAPIKey     string
	AdminPolicyFile string
	// comma separated
	AdminCORSOrigins []string

	// Bank transaction demo (pushed authorization requests)
	BankIssuer       string
	BankClientID     string
	BankClientSecret string
	BankAudience     string
	BankScopes       string
	BankRedirectURI  string

	// Identity provider management API (profile editing)
	MgmtBaseURL      string
	MgmtClientID     string
	MgmtClientSecret string
	MgmtAudience     string

	// Fine-grained authorization
	FGAAPIURL       string
	FGAStoreID      string
	FGAClientID     string
	FGAClientSecret string
	FGATokenIssuer  string
	FGAAudience     string
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:                  env("FUNLAND_ENV", "dev"),
		HTTPAddr:             env("HTTP_ADDR", ":"+env("PORT", "8080")),
		LogLevel:             env("LOG_LEVEL", "info"),
		BaseURI:              strings.TrimRight(env("BASE_URI", "http://localhost:8080"), "/"),
		CacheDuration:        envDur("CACHE_DURATION", 60) * time.Minute,
		DefaultIssuer:        strings.TrimRight(env("DEFAULT_ISSUER", ""), "/"),
		DefaultClientID:      env("DEFAULT_CLIENT_ID", ""),
		DefaultClientSecret:  env("DEFAULT_CLIENT_SECRET", ""),
		DemoAPIEndpoint:      strings.TrimRight(env("DEMO_API_ENDPOINT", defaultDemoAPIEndpoint), "/"),
		DemoAPIAudience:      env("DEMO_API_AUDIENCE", defaultDemoAPIAudience),
		DemoAPITokenEndpoint: env("DEMO_API_TOKEN_ENDPOINT", defaultDemoAPITokenEndpoint),
		DemoAPIAppID:         env("DEMO_API_APP_ID", ""),
		DemoAPIClientID:      env("DEMO_API_CLIENT_ID", ""),
		DemoAPIClientSecret:  env("DEMO_API_CLIENT_SECRET", ""),
		BootstrapTimeout:     envDur("BOOTSTRAP_TIMEOUT_SEC", 10) * time.Second,
		Scopes:               env("SCOPES", "openid profile email"),
		DisableHTTPSCheck:    envBool("OKTA_TESTING_DISABLEHTTPSCHECK", false),
		DebugDoubleWrite:     envBool("DEBUG_DOUBLE_WRITE", false),
		RedisURL:             env("REDIS_URL", ""),
		SessionTTL:           envDur("SESSION_TTL_MIN", 60) * time.Minute,
		SessionCookie:        env("SESSION_COOKIE", "funland.sid"),
		TenantSeedJSON:       env("TENANT_SEED_JSON", ""),
		CatalogFile:          env("CATALOG_FILE", ""),
		AdminJWKSURL:         env("ADMIN_JWKS_URL", ""),
		AdminIssuer:          env("ADMIN_ISSUER", ""),
		AdminAudience:        env("ADMIN_AUDIENCE", ""),
		AdminAPIKey:          env("ADMIN_API_KEY", ""),
		AdminPolicyFile:      env("ADMIN_POLICY_FILE", ""),
		AdminCORSOrigins:     splitList(env("ADMIN_CORS_ORIGINS", "")),
		BankIssuer:           strings.TrimRight(env("BANK_ISSUER", ""), "/"),
		BankClientID:         env("BANK_CLIENT_ID", ""),
		BankClientSecret:     env("BANK_CLIENT_SECRET", ""),
		BankAudience:         env("BANK_AUDIENCE", ""),
		BankScopes:           env("BANK_AUD_SCOPES", ""),
		BankRedirectURI:      env("BANK_REDIRECT_URI", ""),
		MgmtClientID:         env("MGMT_CLIENT_ID", ""),
		MgmtClientSecret:     env("MGMT_CLIENT_SECRET", ""),
		MgmtAudience:         env("MGMT_AUDIENCE", ""),
		FGAAPIURL:            strings.TrimRight(env("OKTA_FGA_API_URL", "https://api.fga.us"), "/"),
		FGAStoreID:           env("OKTA_FGA_STORE_ID", ""),
		FGAClientID:          env("OKTA_FGA_CLIENT_ID", ""),
		FGAClientSecret:      env("OKTA_FGA_CLIENT_SECRET", ""),
		FGATokenIssuer:       env("OKTA_FGA_TOKEN_ISSUER", ""),
		FGAAudience:          env("OKTA_FGA_AUDIENCE", "https://api.us1.fga.dev/"),
	}
	cfg.SessionSecure = strings.HasPrefix(cfg.BaseURI, "https://")
	if cfg.BankRedirectURI == "" {
		cfg.BankRedirectURI = cfg.BaseURI + "/resume-transaction"
	}
	cfg.MgmtBaseURL = strings.TrimRight(env("MGMT_BASE_URL", cfg.DefaultIssuer), "/")
	if cfg.RedisURL == "" {
		log.Println("[WARN] REDIS_URL not set, using in-memory session store")
	}
	return cfg
}

// HasDefaultTenant reports whether the static default tenant is fully configured.
func (c Config) HasDefaultTenant() bool {
	return c.DefaultIssuer != "" && c.DefaultClientID != "" && c.DefaultClientSecret != ""
}

// HasDemoAPI reports whether tenant configuration can be fetched dynamically.
func (c Config) HasDemoAPI() bool {
	return c.DemoAPIAppID != "" && c.DemoAPIClientID != "" && c.DemoAPIClientSecret != ""
}

// HasBank reports whether the bank transaction demo can reach its authorization server.
func (c Config) HasBank() bool {
	return c.BankIssuer != "" && c.BankClientID != "" && c.BankClientSecret != ""
}

// HasMgmt reports whether profiles can be read and edited through the management API.
func (c Config) HasMgmt() bool {
	return c.MgmtBaseURL != "" && c.MgmtClientID != "" && c.MgmtClientSecret != ""
}

// HasFGA reports whether the fine-grained authorization client can be built.
func (c Config) HasFGA() bool {
	return c.FGAStoreID != "" && c.FGAClientID != "" && c.FGAClientSecret != "" && c.FGATokenIssuer != ""
}

// BaseHost is the hostname part of BaseURI (no port).
func (c Config) BaseHost() string {
	u, err := url.Parse(c.BaseURI)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// ScopeList splits SCOPES on whitespace or commas.
func (c Config) ScopeList() []string {
	return strings.FieldsFunc(c.Scopes, func(r rune) bool { return r == ' ' || r == ',' })
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			log.Printf("[WARN] %s=%q is not a boolean, using %t", k, v, def)
			return def
		}
		return b
	}
	return def
}

// envDur returns the integer in k as a unitless Duration; callers scale it.
func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || i < 0 {
			log.Printf("[WARN] %s=%q is not a non-negative integer, using %d", k, v, def)
			return time.Duration(def)
		}
		return time.Duration(i)
	}
	return time.Duration(def)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
