package tenants

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	jmes "github.com/jmespath/go-jmespath"
	"go.uber.org/zap"

	"funland/pkg/config"
)

// DefaultKey is the tenant key used for requests without a subdomain.
const DefaultKey = "default"

// Tenant is one tenant's resolved OIDC configuration.
type Tenant struct {
	Key              string
	State            string
	Issuer           string
	AuthorizationURL string
	TokenURL         string
	UserInfoURL      string
	ClientID         string
	ClientSecret     string
	CallbackURL      string         // always synthesized, never taken from the payload
	Settings         map[string]any // passed through to the request pipeline unmodified
	ExpiresAt        *time.Time     // nil = never expires
}

// BuildOptions carries what NewTenant needs besides the payload itself.
type BuildOptions struct {
	BaseURI       string
	CacheDuration time.Duration
	Now           func() time.Time
	Log           *zap.SugaredLogger
}

// payload paths, evaluated independently so one bad field does not spoil the rest
const (
	pathState        = "state"
	pathIssuer       = "oidc_configuration.issuer"
	pathAuthorizeURL = "oidc_configuration.authorizeUrl"
	pathTokenURL     = "oidc_configuration.tokenUrl"
	pathUserInfoURL  = "oidc_configuration.userInfoUrl"
	pathClientID     = "oidc_configuration.client_id"
	pathClientSecret = "oidc_configuration.client_secret"
	pathSettings     = "settings"
)

// NewTenant builds a tenant from a bootstrap API payload. Extraction is
// best-effort: a field that cannot be read is logged and left empty, so the
// result may be partial. Callers check Valid before relying on it.
func NewTenant(payload map[string]any, key string, opts BuildOptions) Tenant {
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	log = log.With("tenant", key)

	exp := now().Add(opts.CacheDuration)
	t := Tenant{Key: key, ExpiresAt: &exp}
	log.Debugw("tenant expiry", "expires_at", exp)

	t.State = extractString(log, payload, pathState)
	t.Issuer = extractString(log, payload, pathIssuer)
	t.AuthorizationURL = extractString(log, payload, pathAuthorizeURL)
	t.TokenURL = extractString(log, payload, pathTokenURL)
	t.UserInfoURL = extractString(log, payload, pathUserInfoURL)
	t.ClientID = extractString(log, payload, pathClientID)
	t.ClientSecret = extractString(log, payload, pathClientSecret)
	if t.ClientSecret != "" {
		log.Debugw("client secret", "present", true)
	} else {
		log.Warnw("client secret absent")
	}

	cb, err := CallbackURL(opts.BaseURI, key)
	if err != nil {
		log.Errorw("callback url", "base_uri", opts.BaseURI, "err", err)
	}
	t.CallbackURL = cb
	log.Debugw("callback url", "url", t.CallbackURL)

	if v, err := jmes.Search(pathSettings, payload); err != nil {
		log.Warnw("tenant field extraction failed", "field", pathSettings, "err", err)
	} else if v != nil {
		if m, ok := v.(map[string]any); ok {
			t.Settings = m
		} else {
			log.Warnw("tenant field has unexpected type", "field", pathSettings, "type", fmt.Sprintf("%T", v))
		}
	}
	return t
}

// NewDefaultTenant builds the statically configured default tenant. It never
// expires.
func NewDefaultTenant(cfg config.Config) Tenant {
	issuer := strings.TrimRight(cfg.DefaultIssuer, "/")
	return Tenant{
		Key:              DefaultKey,
		State:            "active",
		Issuer:           issuer,
		AuthorizationURL: issuer + "/v1/authorize",
		TokenURL:         issuer + "/v1/token",
		UserInfoURL:      issuer + "/v1/userinfo",
		ClientID:         cfg.DefaultClientID,
		ClientSecret:     cfg.DefaultClientSecret,
		CallbackURL:      strings.TrimRight(cfg.BaseURI, "/") + "/callback",
	}
}

// IsExpired reports whether the cached configuration should be refetched.
func (t Tenant) IsExpired(now time.Time) bool {
	if t.ExpiresAt == nil {
		return false
	}
	return now.After(*t.ExpiresAt)
}

// Valid reports whether the tenant carries enough to configure a login.
func (t Tenant) Valid() error {
	var missing []string
	if t.Issuer == "" {
		missing = append(missing, "issuer")
	}
	if t.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: tenant %q missing %s", ErrInvalidTenant, t.Key, strings.Join(missing, ", "))
	}
	return nil
}

// CallbackURL returns {scheme}://{key}.{host}/callback for the given base URI.
// The port, if any, is kept.
func CallbackURL(baseURI, key string) (string, error) {
	u, err := url.Parse(baseURI)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("base uri %q has no host", baseURI)
	}
	u.Host = key + "." + u.Host
	u.Path = "/callback"
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

func extractString(log *zap.SugaredLogger, payload map[string]any, path string) string {
	v, err := jmes.Search(path, payload)
	if err != nil {
		log.Warnw("tenant field extraction failed", "field", path, "err", err)
		return ""
	}
	switch s := v.(type) {
	case nil:
		log.Debugw("tenant field missing", "field", path)
		return ""
	case string:
		log.Debugw("tenant field", "field", path, "value", redact(path, s))
		return s
	default:
		log.Warnw("tenant field has unexpected type", "field", path, "type", fmt.Sprintf("%T", v))
		return ""
	}
}

func redact(path, v string) string {
	if path == pathClientSecret {
		return "--present--"
	}
	return v
}
