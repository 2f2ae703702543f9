// Package servicetoken holds the client-credentials token used to call the
// bootstrap API.
package servicetoken

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

var tokenFetches = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "funland",
	Name:      "service_token_fetches_total",
	Help:      "Service token requests by outcome.",
}, []string{"outcome"})

// Config describes the token endpoint and client credentials.
type Config struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Audience     string
	Scope        string // defaults to "bootstrap"
	Timeout      time.Duration
}

// Cache hands out the current service token, fetching a new one when the
// held token is absent or expired. It is safe for concurrent use.
type Cache struct {
	cfg    Config
	client *http.Client
	log    *zap.SugaredLogger
	now    func() time.Time

	mu    sync.Mutex
	token string
}

type Option func(*Cache)

// WithHTTPClient replaces the outbound client.
func WithHTTPClient(c *http.Client) Option { return func(tc *Cache) { tc.client = c } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(tc *Cache) { tc.now = now } }

func New(cfg Config, log *zap.SugaredLogger, opts ...Option) *Cache {
	if cfg.Scope == "" {
		cfg.Scope = "bootstrap"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	c := &Cache{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		log:    log,
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Token returns a token that was unexpired when checked. When a refresh
// fails the previously held value (possibly empty) is returned unchanged.
func (c *Cache) Token(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && !Expired(c.token, c.now()) {
		return c.token
	}
	tok, err := c.fetch(ctx)
	if err != nil {
		tokenFetches.WithLabelValues("error").Inc()
		c.log.Errorw("unable to retrieve service token", "endpoint", c.cfg.Endpoint, "err", err)
		return c.token
	}
	tokenFetches.WithLabelValues("ok").Inc()
	c.token = tok
	return c.token
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Scope        string `json:"scope"`
	Audience     string `json:"audience"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

func (c *Cache) fetch(ctx context.Context) (string, error) {
	body, err := json.Marshal(tokenRequest{
		GrantType:    "client_credentials",
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		Scope:        c.cfg.Scope,
		Audience:     c.cfg.Audience,
	})
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("token endpoint status %d", resp.StatusCode)
	}
	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token response has no access_token")
	}
	return tr.AccessToken, nil
}

// Expired reports whether token must be replaced: it cannot be decoded, has
// no exp claim, or exp is not after now. The signature is not checked.
func Expired(token string, now time.Time) bool {
	t, err := jwt.ParseString(token, jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return true
	}
	exp := t.Expiration()
	if exp.IsZero() {
		return true
	}
	return !exp.After(now)
}
