// Package mgmt is a client for the identity provider's management API, used
// to read and edit user profiles and to start MFA challenges.
package mgmt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrUserNotFound is returned when the management API has no such user.
var ErrUserNotFound = errors.New("user not found")

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// Audience defaults to BaseURL + "/api/v2/".
	Audience string
	Timeout  time.Duration
}

type Client struct {
	base string
	http *http.Client
	log  *zap.SugaredLogger
}

func New(cfg Config, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Audience == "" {
		cfg.Audience = base + "/api/v2/"
	}
	cc := &clientcredentials.Config{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		TokenURL:       base + "/oauth/token",
		EndpointParams: url.Values{"audience": {cfg.Audience}},
		AuthStyle:      oauth2.AuthStyleInParams,
	}
	plain := &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	hc := cc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, plain))
	hc.Timeout = cfg.Timeout
	return &Client{base: base, http: hc, log: log}
}

// User returns the full user record for id.
func (c *Client) User(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	if err := c.do(ctx, http.MethodGet, userPath(id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateUser PATCHes the given attributes. Nil values clear the attribute.
func (c *Client) UpdateUser(ctx context.Context, id string, patch map[string]any) error {
	return c.do(ctx, http.MethodPatch, userPath(id), patch, nil)
}

// ChallengeMFA asks the identity provider to challenge userID on behalf of
// the application clientID.
func (c *Client) ChallengeMFA(ctx context.Context, userID, clientID string) error {
	return c.do(ctx, http.MethodPost, "/mfa/challenge", map[string]string{
		"client_id": clientID,
		"user_id":   userID,
	}, nil)
}

func userPath(id string) string { return "/api/v2/users/" + url.PathEscape(id) }

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrUserNotFound
	case resp.StatusCode/100 != 2:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warnw("management api", "method", method, "path", path, "status", resp.StatusCode)
		return fmt.Errorf("management api %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
