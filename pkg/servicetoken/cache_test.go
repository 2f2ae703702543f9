package servicetoken

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"funland/pkg/logger"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	b := jwt.NewBuilder().Subject("svc")
	if !exp.IsZero() {
		b = b.Expiration(exp)
	}
	tok, err := b.Build()
	require.NoError(t, err)
	raw, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte("test-secret")))
	require.NoError(t, err)
	return string(raw)
}

type tokenServer struct {
	srv    *httptest.Server
	calls  atomic.Int32
	mu     sync.Mutex
	next   string
	status int
	last   tokenRequest
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{status: http.StatusOK}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		ts.mu.Lock()
		defer ts.mu.Unlock()
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewDecoder(r.Body).Decode(&ts.last)
		if ts.status != http.StatusOK {
			w.WriteHeader(ts.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": ts.next, "token_type": "Bearer"})
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *tokenServer) set(tok string, status int) {
	ts.mu.Lock()
	ts.next, ts.status = tok, status
	ts.mu.Unlock()
}

func TestTokenFetchedOnceWhileValid(t *testing.T) {
	ts := newTokenServer(t)
	now := time.Now()
	ts.set(signed(t, now.Add(time.Hour)), http.StatusOK)

	c := New(Config{
		Endpoint:     ts.srv.URL,
		ClientID:     "cid",
		ClientSecret: "secret",
		Audience:     "https://api.demo.test",
	}, logger.Nop(), WithClock(func() time.Time { return now }))

	first := c.Token(context.Background())
	second := c.Token(context.Background())
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, ts.calls.Load())

	assert.Equal(t, tokenRequest{
		GrantType:    "client_credentials",
		ClientID:     "cid",
		ClientSecret: "secret",
		Scope:        "bootstrap",
		Audience:     "https://api.demo.test",
	}, ts.last)
}

func TestExpiredTokenIsReplaced(t *testing.T) {
	ts := newTokenServer(t)
	now := time.Now().Truncate(time.Second)
	clock := now
	old := signed(t, now.Add(time.Minute))
	ts.set(old, http.StatusOK)

	c := New(Config{Endpoint: ts.srv.URL}, logger.Nop(), WithClock(func() time.Time { return clock }))
	require.Equal(t, old, c.Token(context.Background()))

	fresh := signed(t, now.Add(2*time.Hour))
	ts.set(fresh, http.StatusOK)
	clock = now.Add(2 * time.Minute)
	assert.Equal(t, fresh, c.Token(context.Background()))
	assert.EqualValues(t, 2, ts.calls.Load())
}

func TestFailedRefreshReturnsPreviousToken(t *testing.T) {
	ts := newTokenServer(t)
	now := time.Now().Truncate(time.Second)
	clock := now
	old := signed(t, now.Add(time.Minute))
	ts.set(old, http.StatusOK)

	c := New(Config{Endpoint: ts.srv.URL}, logger.Nop(), WithClock(func() time.Time { return clock }))
	require.Equal(t, old, c.Token(context.Background()))

	ts.set("", http.StatusInternalServerError)
	clock = now.Add(time.Hour)
	assert.Equal(t, old, c.Token(context.Background()))
}

func TestInitialFailureReturnsEmpty(t *testing.T) {
	ts := newTokenServer(t)
	ts.set("", http.StatusUnauthorized)

	c := New(Config{Endpoint: ts.srv.URL}, logger.Nop())
	assert.Empty(t, c.Token(context.Background()))

	ts.set("", http.StatusOK)
	assert.Empty(t, c.Token(context.Background()), "empty access_token is a failure")
}

func TestConcurrentCallersShareToken(t *testing.T) {
	ts := newTokenServer(t)
	ts.set(signed(t, time.Now().Add(time.Hour)), http.StatusOK)
	c := New(Config{Endpoint: ts.srv.URL}, logger.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NotEmpty(t, c.Token(context.Background()))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, ts.calls.Load())
}

func TestExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		token string
		want  bool
	}{
		{"garbage", "not-a-jwt", true},
		{"empty", "", true},
		{"no exp", signed(t, time.Time{}), true},
		{"past", signed(t, now.Add(-time.Minute)), true},
		{"exactly now", signed(t, now), true},
		{"future", signed(t, now.Add(time.Minute)), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Expired(c.token, now))
		})
	}
}
