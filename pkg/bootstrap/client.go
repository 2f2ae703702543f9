// Package bootstrap is the HTTP client for the demo bootstrap API, which
// serves per-tenant OIDC configuration.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"funland/pkg/tenants"
)

// Client implements tenants.Provider against GET {endpoint}/bootstrap/{app}/{key}.
type Client struct {
	endpoint string
	appID    string
	http     *http.Client
	log      *zap.SugaredLogger
}

var _ tenants.Provider = (*Client)(nil)

func New(endpoint, appID string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		appID:    appID,
		http:     &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		log:      log,
	}
}

// FetchTenant returns the decoded payload. A 404 maps to
// tenants.ErrTenantNotFound; any other non-2xx status is a plain error.
func (c *Client) FetchTenant(ctx context.Context, key, bearer string) (map[string]any, error) {
	u := c.endpoint + "/bootstrap/" + url.PathEscape(c.appID) + "/" + url.PathEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bootstrap request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, tenants.ErrTenantNotFound
	case resp.StatusCode/100 != 2:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warnw("bootstrap api error", "tenant", key, "status", resp.StatusCode, "body", string(b))
		return nil, fmt.Errorf("bootstrap api status %d", resp.StatusCode)
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode bootstrap payload: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
