package storefront

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"funland/pkg/bank"
	"funland/pkg/fga"
	"funland/pkg/logger"
	"funland/pkg/session"
	"funland/pkg/strategy"
)

type stubStrategy struct {
	key  string
	fail bool
}

func (s stubStrategy) Name() string            { return s.key }
func (s stubStrategy) Config() strategy.Config { return strategy.Config{ClientID: s.key + "-client"} }
func (s stubStrategy) AuthCodeURL(state, nonce string) string {
	return "https://" + s.key + ".idp.test/authorize?state=" + state + "&nonce=" + nonce
}
func (s stubStrategy) Complete(_ context.Context, code, nonce string) (*strategy.User, error) {
	if s.fail || code != "good" {
		return nil, errors.New("exchange failed")
	}
	return &strategy.User{Profile: map[string]any{"sub": "u-1", "name": "Ada", "nonce": nonce}}, nil
}

type fakeAuthz struct {
	mu      sync.Mutex
	allow   bool
	written []fga.Tuple
}

func (f *fakeAuthz) Check(_ context.Context, user, relation, object string, _ map[string]any) bool {
	return f.allow && user == "user:u-1" && relation == "can_purchase" && strings.HasPrefix(object, "ticket:")
}

func (f *fakeAuthz) ListObjects(_ context.Context, user, relation, typ string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, t := range f.written {
		if t.User == user && t.Relation == relation && strings.HasPrefix(t.Object, typ+":") {
			out = append(out, t.Object)
		}
	}
	return out
}

func (f *fakeAuthz) Write(_ context.Context, tuples ...fga.Tuple) error {
	f.mu.Lock()
	f.written = append(f.written, tuples...)
	f.mu.Unlock()
	return nil
}

type shop struct {
	sess  *session.Session
	authz *fakeAuthz
	h     http.Handler
}

func newShop(t *testing.T, withAuthz bool, opts ...Option) *shop {
	t.Helper()
	reg := strategy.NewMemoryRegistry(logger.Nop()).WithFactory(func(key string, _ strategy.Config) (strategy.Strategy, error) {
		return stubStrategy{key: key}, nil
	})
	require.NoError(t, reg.Register("acme", strategy.Config{}))

	cat, err := LoadCatalog("")
	require.NoError(t, err)

	sh := &shop{sess: &session.Session{ID: "sid", TenantKey: "acme"}}
	var authz Authorizer
	if withAuthz {
		sh.authz = &fakeAuthz{allow: true}
		authz = sh.authz
	}
	mgr := session.NewManager(session.NewMemoryStore(time.Hour), "sid", time.Hour, false, logger.Nop())
	srv, err := New(reg, mgr, cat, authz, logger.Nop(), opts...)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(session.WithSession(req.Context(), sh.sess)))
		})
	})
	srv.Routes(r)
	sh.h = r
	return sh
}

func (sh *shop) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	sh.h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func (sh *shop) post(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	sh.h.ServeHTTP(rec, req)
	return rec
}

func (sh *shop) login() {
	sh.sess.User = &strategy.User{Profile: map[string]any{"sub": "u-1", "name": "Ada"}}
}

func TestAPIRoutes(t *testing.T) {
	sh := newShop(t, false)

	rec := sh.get("/api")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	before := time.Now().UnixMilli()
	rec = sh.get("/api/timestamp")
	ms, err := strconv.ParseInt(rec.Body.String(), 10, 64)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ms, before)
}

func TestLoginAndCallback(t *testing.T) {
	sh := newShop(t, false)

	rec := sh.get("/login")
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "acme.idp.test", loc.Host)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)
	assert.Equal(t, state, sh.sess.OAuthState)
	assert.Equal(t, loc.Query().Get("nonce"), sh.sess.OAuthNonce)

	rec = sh.get("/callback?code=good&state=" + url.QueryEscape(state))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	require.NotNil(t, sh.sess.User)
	assert.Equal(t, "u-1", sh.sess.User.Subject())
	assert.Empty(t, sh.sess.OAuthState)

	rec = sh.get("/profile")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ada")
}

func TestCallbackFailures(t *testing.T) {
	sh := newShop(t, false)

	sh.get("/login")
	rec := sh.get("/callback?code=good&state=forged")
	assert.Equal(t, "/error", rec.Header().Get("Location"))
	assert.Contains(t, sh.sess.ErrorMsg, "state")
	assert.Nil(t, sh.sess.User)

	sh.get("/login")
	rec = sh.get("/callback?code=bad&state=" + url.QueryEscape(sh.sess.OAuthState))
	assert.Equal(t, "/error", rec.Header().Get("Location"))
	assert.Equal(t, "Unable to complete login.", sh.sess.ErrorMsg)

	rec = sh.get("/callback?error=access_denied&error_description=User+said+no")
	assert.Equal(t, "/error", rec.Header().Get("Location"))
	assert.Equal(t, "User said no", sh.sess.ErrorMsg)
}

func TestLoginUnknownTenant(t *testing.T) {
	sh := newShop(t, false)
	sh.sess.TenantKey = "ghost"

	rec := sh.get("/login")
	assert.Equal(t, "/error", rec.Header().Get("Location"))
	assert.Equal(t, "No login is configured for ghost", sh.sess.ErrorMsg)
}

func TestErrorPageShowsAndClearsMessage(t *testing.T) {
	sh := newShop(t, false)
	sh.sess.ErrorMsg = "Unable to bootstrap demo acme"

	rec := sh.get("/error")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unable to bootstrap demo acme")
	assert.Empty(t, sh.sess.ErrorMsg)

	rec = sh.get("/error")
	assert.NotContains(t, rec.Body.String(), "Unable to bootstrap demo acme")
}

func TestProfileRequiresLogin(t *testing.T) {
	sh := newShop(t, false)
	rec := sh.get("/profile")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	sh.login()
	rec = sh.get("/user")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "access_token")
}

func TestLogoutClearsSession(t *testing.T) {
	sh := newShop(t, false)
	sh.login()
	rec := sh.get("/logout")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Nil(t, sh.sess.User)
}

func TestCartAndPayment(t *testing.T) {
	sh := newShop(t, false)

	rec := sh.post("/add-to-cart", url.Values{"ticketId": {"nope"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ticket not found.")

	rec = sh.post("/add-to-cart", url.Values{"ticketId": {"day"}})
	assert.Equal(t, "/checkout", rec.Header().Get("Location"))
	sh.post("/add-to-cart", url.Values{"ticketId": {"season"}})
	require.Len(t, sh.sess.Cart, 2)

	rec = sh.get("/checkout")
	assert.Contains(t, rec.Body.String(), "249.98")

	bad := url.Values{"cardNumber": {"1234"}, "name": {"Ada"}, "vendor": {"Visa"}, "expiry": {"12/30"}}
	rec = sh.post("/process-payment", bad)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid payment details")
	assert.Len(t, sh.sess.Cart, 2)

	good := url.Values{"cardNumber": {"4111111111111111"}, "name": {"Ada"}, "vendor": {"Visa"}, "expiry": {"12/30"}}
	rec = sh.post("/process-payment", good)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "MOCK-")
	assert.Contains(t, rec.Body.String(), "249.98")
	assert.Empty(t, sh.sess.Cart)
}

func TestAuthorizationGatesPurchases(t *testing.T) {
	sh := newShop(t, true)
	sh.login()

	sh.authz.allow = false
	rec := sh.post("/add-to-cart", url.Values{"ticketId": {"day"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, sh.sess.Cart)

	sh.authz.allow = true
	sh.post("/add-to-cart", url.Values{"ticketId": {"weekend"}})
	require.Len(t, sh.sess.Cart, 1)

	sh.post("/process-payment", url.Values{"cardNumber": {"4111111111111111"}, "name": {"Ada"}, "vendor": {"Visa"}, "expiry": {"12/30"}})
	assert.Equal(t, []fga.Tuple{{User: "user:u-1", Relation: "purchased", Object: "ticket:weekend"}}, sh.authz.written)

	rec = sh.get("/tickets")
	assert.Contains(t, rec.Body.String(), "Your passes")
	assert.Contains(t, rec.Body.String(), "Weekend Pass")
}

func TestLoadCatalog(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)
	require.Len(t, c.Tickets, 3)
	day, ok := c.Find("day")
	require.True(t, ok)
	assert.Equal(t, 49.99, day.Price)

	dir := t.TempDir()
	p := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(p, []byte("tickets:\n  - id: vip\n    name: VIP\n    price: 500\n"), 0o600))
	c, err = LoadCatalog(p)
	require.NoError(t, err)
	assert.Equal(t, []Ticket{{ID: "vip", Name: "VIP", Price: 500}}, c.Tickets)

	require.NoError(t, os.WriteFile(p, []byte("tickets:\n  - id: a\n  - id: a\n"), 0o600))
	_, err = LoadCatalog(p)
	assert.ErrorContains(t, err, "duplicate")

	_, err = LoadCatalog(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

type fakeBankAS struct {
	mu      sync.Mutex
	pushed  []bank.Transaction
	state   string
	pushErr error
}

func (f *fakeBankAS) Push(_ context.Context, tx bank.Transaction, state, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return "", f.pushErr
	}
	f.pushed = append(f.pushed, tx)
	f.state = state
	return "https://bank.test/authorize?client_id=funland&request_uri=urn%3Areq%3A1", nil
}

func (f *fakeBankAS) Exchange(_ context.Context, code string) (*oauth2.Token, error) {
	if code != "good" {
		return nil, errors.New("invalid_grant")
	}
	return &oauth2.Token{AccessToken: "bank-at"}, nil
}

func bankShop(t *testing.T) (*shop, *fakeBankAS, *bank.Ledger) {
	as := &fakeBankAS{}
	ledger := bank.NewLedger(nil, bank.Entry{Description: "opening", Value: 100})
	sh := newShop(t, false, WithBank(as), WithLedger(ledger))
	sh.login()
	return sh, as, ledger
}

var transfer = url.Values{"type": {"payment"}, "amount": {"25"}, "transferFrom": {"checking"}, "transferTo": {"Funland"}}

func TestSubmitTransactionRedirectsToBank(t *testing.T) {
	sh, as, _ := bankShop(t)

	rec := sh.post("/submit-transaction", transfer)
	require.Equal(t, http.StatusFound, rec.Code)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "bank.test", loc.Host)
	assert.Equal(t, "urn:req:1", loc.Query().Get("request_uri"))

	require.NotNil(t, sh.sess.PendingTransaction)
	assert.Equal(t, bank.Transaction{Type: "payment", Amount: 25, From: "checking", To: "Funland"}, *sh.sess.PendingTransaction)
	assert.Equal(t, []bank.Transaction{*sh.sess.PendingTransaction}, as.pushed)
	assert.Equal(t, sh.sess.BankState, as.state)
	assert.NotEmpty(t, sh.sess.BankNonce)
}

func TestResumeCompletesPendingTransaction(t *testing.T) {
	sh, _, ledger := bankShop(t)
	sh.post("/submit-transaction", transfer)

	rec := sh.get("/resume-transaction?code=good&state=" + url.QueryEscape(sh.sess.BankState))
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/transaction-complete", rec.Header().Get("Location"))
	assert.Nil(t, sh.sess.PendingTransaction)
	assert.Empty(t, sh.sess.BankState)

	entries := ledger.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "payment from Funland paid via checking", entries[1].Description)

	rec = sh.get("/balance")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Balance: $125.00")
	assert.Contains(t, rec.Body.String(), "payment from Funland paid via checking")

	assert.Equal(t, http.StatusOK, sh.get("/transaction-complete").Code)
}

func TestResumeFailures(t *testing.T) {
	sh, _, ledger := bankShop(t)

	sh.post("/submit-transaction", transfer)
	rec := sh.get("/resume-transaction?code=good&state=forged")
	assert.Equal(t, "/error", rec.Header().Get("Location"))
	assert.Contains(t, sh.sess.ErrorMsg, "state mismatch")
	assert.Nil(t, sh.sess.PendingTransaction)

	sh.post("/submit-transaction", transfer)
	rec = sh.get("/resume-transaction?code=bad&state=" + url.QueryEscape(sh.sess.BankState))
	assert.Equal(t, "/error", rec.Header().Get("Location"))
	assert.Equal(t, "Unable to authorize the transaction.", sh.sess.ErrorMsg)

	sh.post("/submit-transaction", transfer)
	rec = sh.get("/resume-transaction?error=access_denied")
	assert.Equal(t, "/prepare-transaction?error=access_denied", rec.Header().Get("Location"))
	rec = sh.get("/prepare-transaction?error=access_denied")
	assert.Contains(t, rec.Body.String(), "not authorized to make this transaction")
	assert.Nil(t, sh.sess.PendingTransaction)

	assert.Len(t, ledger.Entries(), 1)
}

func TestSubmitTransactionRejected(t *testing.T) {
	sh := newShop(t, false)
	sh.login()
	assert.Equal(t, http.StatusForbidden, sh.post("/submit-transaction", transfer).Code)

	sh, as, _ := bankShop(t)
	rec := sh.post("/submit-transaction", url.Values{"amount": {"-3"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Nil(t, sh.sess.PendingTransaction)

	as.pushErr = errors.New("bank down")
	rec = sh.post("/submit-transaction", transfer)
	assert.Equal(t, "/error", rec.Header().Get("Location"))
	assert.Nil(t, sh.sess.PendingTransaction)
}

func TestBalanceDemoLedger(t *testing.T) {
	sh := newShop(t, false)
	sh.login()
	rec := sh.get("/balance")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Balance: $144.00")

	rec = sh.get("/prepare-transaction?transaction_amount=40")
	assert.Contains(t, rec.Body.String(), `value="40"`)
	assert.Contains(t, rec.Body.String(), "not configured")
}

type fakeDirectory struct {
	mu        sync.Mutex
	user      map[string]any
	fetchErr  error
	updateErr error
	patch     map[string]any
	mfa       []string
}

func (f *fakeDirectory) User(_ context.Context, id string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if id != f.user["user_id"] {
		return nil, errors.New("user not found")
	}
	return f.user, nil
}

func (f *fakeDirectory) UpdateUser(_ context.Context, id string, patch map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.patch = patch
	return nil
}

func (f *fakeDirectory) ChallengeMFA(_ context.Context, userID, clientID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mfa = append(f.mfa, userID+"@"+clientID)
	return nil
}

func directoryShop(t *testing.T) (*shop, *fakeDirectory) {
	dir := &fakeDirectory{user: map[string]any{
		"user_id":       "u-1",
		"name":          "Ada Directory",
		"user_metadata": map[string]any{"theme": "dark", "consents": []any{"analytics"}},
	}}
	sh := newShop(t, false, WithDirectory(dir))
	sh.login()
	return sh, dir
}

func TestProfileFromDirectory(t *testing.T) {
	sh, dir := directoryShop(t)

	body := sh.get("/profile").Body.String()
	assert.Contains(t, body, `value="Ada Directory"`)
	assert.Contains(t, body, `value="analytics" checked`)
	assert.NotContains(t, body, `value="marketing" checked`)

	dir.fetchErr = errors.New("management api down")
	body = sh.get("/profile").Body.String()
	assert.Contains(t, body, "Ada")
	assert.NotContains(t, body, "Ada Directory")
	assert.NotContains(t, body, `action="/profile"`)
}

func TestUpdateProfile(t *testing.T) {
	sh, dir := directoryShop(t)

	rec := sh.post("/profile", url.Values{
		"name":        {"Ada Lovelace"},
		"given_name":  {""},
		"family_name": {"Lovelace"},
		"email":       {"ada@funland.test"},
		"consents":    {"marketing", "", "partners"},
	})
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/profile", rec.Header().Get("Location"))
	assert.Equal(t, map[string]any{
		"user_metadata": map[string]any{"theme": "dark", "consents": []string{"marketing", "partners"}},
		"given_name":    nil,
		"family_name":   "Lovelace",
		"name":          "Ada Lovelace",
		"email":         "ada@funland.test",
	}, dir.patch)

	dir.updateErr = errors.New("forbidden")
	rec = sh.post("/profile", url.Values{"name": {"x"}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Error updating profile.")

	plain := newShop(t, false)
	plain.login()
	assert.Equal(t, http.StatusInternalServerError, plain.post("/profile", url.Values{"name": {"x"}}).Code)
}

func TestPortalAndMFA(t *testing.T) {
	sh, dir := directoryShop(t)

	rec := sh.get("/portal")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `action="/trigger-mfa"`)

	rec = sh.post("/trigger-mfa", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MFA challenge sent successfully.", rec.Body.String())
	assert.Equal(t, []string{"u-1@acme-client"}, dir.mfa)

	plain := newShop(t, false)
	plain.login()
	assert.Equal(t, http.StatusInternalServerError, plain.post("/trigger-mfa", nil).Code)
}

func TestHeadersPage(t *testing.T) {
	sh := newShop(t, false)
	req := httptest.NewRequest(http.MethodGet, "/headers", nil)
	req.Host = "acme.funland.test:8080"
	req.Header.Set("X-Forwarded-Host", "acme.funland.test")
	req.Header.Set("Cookie", "funland.sid=secret")
	rec := httptest.NewRecorder()
	sh.h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "acme.funland.test:8080")
	assert.Contains(t, body, "X-Forwarded-Host")
	assert.NotContains(t, body, "secret")
}
