// Package session keeps server-side browser sessions keyed by a cookie.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"funland/pkg/bank"
	"funland/pkg/strategy"
)

// ErrNotFound is returned by a Store for unknown or expired ids.
var ErrNotFound = errors.New("session not found")

// CartItem is one ticket in the shopping cart.
type CartItem struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Session is the per-browser state.
type Session struct {
	ID         string         `json:"id"`
	TenantKey  string         `json:"tenant_key,omitempty"`
	Settings   map[string]any `json:"settings,omitempty"`
	ErrorMsg   string         `json:"error_msg,omitempty"`
	User       *strategy.User `json:"user,omitempty"`
	Cart       []CartItem     `json:"cart,omitempty"`
	OAuthState string         `json:"oauth_state,omitempty"`
	OAuthNonce string         `json:"oauth_nonce,omitempty"`

	// bank transfer awaiting the bank's authorization
	PendingTransaction *bank.Transaction `json:"pending_transaction,omitempty"`
	BankState          string            `json:"bank_state,omitempty"`
	BankNonce          string            `json:"bank_nonce,omitempty"`
}

// ClearPending forgets the bank transfer in flight.
func (s *Session) ClearPending() {
	s.PendingTransaction = nil
	s.BankState, s.BankNonce = "", ""
}

// Store persists sessions.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

type ctxSessionKey struct{}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxSessionKey{}, s)
}

// FromContext returns the request session, or nil outside the session middleware.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxSessionKey{}).(*Session)
	return s
}

// Manager binds a Store to the HTTP cookie.
type Manager struct {
	store  Store
	cookie string
	ttl    time.Duration
	secure bool
	log    *zap.SugaredLogger
}

func NewManager(store Store, cookie string, ttl time.Duration, secure bool, log *zap.SugaredLogger) *Manager {
	return &Manager{store: store, cookie: cookie, ttl: ttl, secure: secure, log: log}
}

// Middleware loads (or starts) the session before the handler and saves it after.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.load(r)
		if s == nil {
			s = &Session{ID: uuid.NewString()}
			m.setCookie(w, s.ID, m.ttl)
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), s)))
		if s.ID == "" {
			return // destroyed
		}
		if err := m.store.Save(context.WithoutCancel(r.Context()), s, m.ttl); err != nil {
			m.log.Errorw("session save", "err", err)
		}
	})
}

// Destroy removes the session and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) {
	if s == nil || s.ID == "" {
		return
	}
	if err := m.store.Delete(ctx, s.ID); err != nil && !errors.Is(err, ErrNotFound) {
		m.log.Warnw("session delete", "err", err)
	}
	m.setCookie(w, "", -1)
	*s = Session{}
}

func (m *Manager) load(r *http.Request) *Session {
	c, err := r.Cookie(m.cookie)
	if err != nil || c.Value == "" {
		return nil
	}
	s, err := m.store.Load(r.Context(), c.Value)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.log.Warnw("session load", "err", err)
		}
		return nil
	}
	return s
}

func (m *Manager) setCookie(w http.ResponseWriter, id string, ttl time.Duration) {
	c := &http.Cookie{
		Name:     m.cookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl < 0 {
		c.MaxAge = -1
	} else {
		c.MaxAge = int(ttl.Seconds())
	}
	http.SetCookie(w, c)
}
