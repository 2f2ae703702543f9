// Package fga is a small client for the fine-grained authorization (FGA)
// REST API: relationship checks, object listing and tuple writes.
package fga

import (
	"bytes"
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
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type Config struct {
	APIURL       string
	StoreID      string
	ClientID     string
	ClientSecret string
	// TokenIssuer is a host ("auth.fga.dev") or a full base URL.
	TokenIssuer string
	Audience    string
	Timeout     time.Duration
}

func (c Config) tokenURL() string {
	iss := strings.TrimRight(c.TokenIssuer, "/")
	if !strings.Contains(iss, "://") {
		iss = "https://" + iss
	}
	return iss + "/oauth/token"
}

// Tuple is one relationship: User has Relation to Object.
type Tuple struct {
	User     string `json:"user" yaml:"user"`
	Relation string `json:"relation" yaml:"relation"`
	Object   string `json:"object" yaml:"object"`
}

// UserRef formats a subject id as an FGA user.
func UserRef(id string) string { return "user:" + id }

type Client struct {
	base string
	http *http.Client
	log  *zap.SugaredLogger
}

// New builds a client whose requests carry a client-credentials token. The
// token is cached and refreshed by the oauth2 token source.
func New(cfg Config, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cc := &clientcredentials.Config{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		TokenURL:       cfg.tokenURL(),
		EndpointParams: url.Values{},
		AuthStyle:      oauth2.AuthStyleInParams,
	}
	if cfg.Audience != "" {
		cc.EndpointParams.Set("audience", cfg.Audience)
	}
	base := &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	hc := cc.Client(ctx)
	hc.Timeout = cfg.Timeout

	return &Client{
		base: strings.TrimRight(cfg.APIURL, "/") + "/stores/" + url.PathEscape(cfg.StoreID),
		http: hc,
		log:  log,
	}
}

type tupleKey struct {
	User     string `json:"user"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

// Check reports whether user has relation to object. Any failure is logged
// and reported as not allowed.
func (c *Client) Check(ctx context.Context, user, relation, object string, extra map[string]any) bool {
	body := map[string]any{
		"tuple_key": tupleKey{User: user, Relation: relation, Object: object},
	}
	if len(extra) > 0 {
		body["context"] = extra
	}
	var out struct {
		Allowed bool `json:"allowed"`
	}
	if err := c.post(ctx, "/check", body, &out); err != nil {
		c.log.Warnw("fga check failed", "user", user, "relation", relation, "object", object, "err", err)
		return false
	}
	return out.Allowed
}

// ListObjects returns the objects of type typ user has relation to. Failures
// are logged and yield an empty list.
func (c *Client) ListObjects(ctx context.Context, user, relation, typ string) []string {
	body := map[string]any{"user": user, "relation": relation, "type": typ}
	var out struct {
		Objects []string `json:"objects"`
	}
	if err := c.post(ctx, "/list-objects", body, &out); err != nil {
		c.log.Warnw("fga list-objects failed", "user", user, "relation", relation, "type", typ, "err", err)
		return []string{}
	}
	if out.Objects == nil {
		return []string{}
	}
	return out.Objects
}

// Write adds relationship tuples.
func (c *Client) Write(ctx context.Context, tuples ...Tuple) error {
	if len(tuples) == 0 {
		return nil
	}
	return c.post(ctx, "/write", map[string]any{"writes": map[string]any{"tuple_keys": keys(tuples)}}, nil)
}

// Delete removes relationship tuples.
func (c *Client) Delete(ctx context.Context, tuples ...Tuple) error {
	if len(tuples) == 0 {
		return nil
	}
	return c.post(ctx, "/write", map[string]any{"deletes": map[string]any{"tuple_keys": keys(tuples)}}, nil)
}

func keys(tuples []Tuple) []tupleKey {
	out := make([]tupleKey, len(tuples))
	for i, t := range tuples {
		out[i] = tupleKey(t)
	}
	return out
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("fga %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
