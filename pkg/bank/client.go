// Package bank talks to the bank's authorization server for the transaction
// demo: each transfer is authorized through a pushed authorization request
// carrying rich authorization details, then recorded in a ledger.
package bank

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var authorizations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "funland_bank_authorizations_total",
	Help: "Bank transaction authorization steps by stage and outcome.",
}, []string{"stage", "outcome"})

type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	Audience     string
	// Scopes are requested in addition to "openid profile".
	Scopes      []string
	RedirectURL string
	Timeout     time.Duration
}

// Transaction is one transfer. It is sent verbatim as an
// authorization_details entry.
type Transaction struct {
	Type   string  `json:"type"`
	Amount float64 `json:"amount"`
	From   string  `json:"from"`
	To     string  `json:"to"`
}

type Client struct {
	issuer string
	oauth  *oauth2.Config
	cfg    Config
	http   *http.Client
	log    *zap.SugaredLogger
}

func New(cfg Config, log *zap.SugaredLogger) *Client {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	iss := strings.TrimRight(cfg.Issuer, "/")
	return &Client{
		issuer: iss,
		cfg:    cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   iss + "/authorize",
				TokenURL:  iss + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: cfg.RedirectURL,
			Scopes:      append([]string{"openid", "profile"}, cfg.Scopes...),
		},
		http: &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		log:  log,
	}
}

// Push registers an authorization request for tx at the bank's PAR endpoint
// and returns the authorize URL the browser should be sent to.
func (c *Client) Push(ctx context.Context, tx Transaction, state, nonce string) (string, error) {
	details, err := json.Marshal([]Transaction{tx})
	if err != nil {
		return "", err
	}
	form := url.Values{
		"client_id":             {c.oauth.ClientID},
		"client_secret":         {c.oauth.ClientSecret},
		"response_type":         {"code"},
		"redirect_uri":          {c.oauth.RedirectURL},
		"scope":                 {strings.Join(c.oauth.Scopes, " ")},
		"state":                 {state},
		"nonce":                 {nonce},
		"authorization_details": {string(details)},
	}
	if c.cfg.Audience != "" {
		form.Set("audience", c.cfg.Audience)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.issuer+"/oauth/par", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		authorizations.WithLabelValues("par", "error").Inc()
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		authorizations.WithLabelValues("par", "rejected").Inc()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("bank par: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	var out struct {
		RequestURI string `json:"request_uri"`
		ExpiresIn  int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("bank par: %w", err)
	}
	if out.RequestURI == "" {
		authorizations.WithLabelValues("par", "rejected").Inc()
		return "", errors.New("bank par: empty request_uri")
	}
	authorizations.WithLabelValues("par", "ok").Inc()
	c.log.Infow("bank authorization pushed", "type", tx.Type, "amount", tx.Amount, "expires_in", out.ExpiresIn)

	q := url.Values{"client_id": {c.oauth.ClientID}, "request_uri": {out.RequestURI}}
	return c.oauth.Endpoint.AuthURL + "?" + q.Encode(), nil
}

// Exchange redeems the authorization code returned to the redirect URL.
func (c *Client) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.oauth.Exchange(ctx, code)
	if err != nil {
		authorizations.WithLabelValues("exchange", "error").Inc()
		return nil, err
	}
	authorizations.WithLabelValues("exchange", "ok").Inc()
	return tok, nil
}
