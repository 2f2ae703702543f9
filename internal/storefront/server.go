// Package storefront serves the multi-tenant ticket shop: login pages,
// catalog, cart and a mock payment flow.
package storefront

import (
	"context"
	"embed"
	"html/template"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"funland/pkg/bank"
	"funland/pkg/fga"
	"funland/pkg/middleware"
	"funland/pkg/session"
	"funland/pkg/strategy"
	"funland/pkg/tenants"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// Authorizer is the part of the FGA client the shop uses.
type Authorizer interface {
	Check(ctx context.Context, user, relation, object string, extra map[string]any) bool
	ListObjects(ctx context.Context, user, relation, typ string) []string
	Write(ctx context.Context, tuples ...fga.Tuple) error
}

// Directory reads and edits user profiles at the identity provider.
type Directory interface {
	User(ctx context.Context, id string) (map[string]any, error)
	UpdateUser(ctx context.Context, id string, patch map[string]any) error
	ChallengeMFA(ctx context.Context, userID, clientID string) error
}

// Bank authorizes transfers at the bank's authorization server.
type Bank interface {
	Push(ctx context.Context, tx bank.Transaction, state, nonce string) (string, error)
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

type Server struct {
	registry  strategy.Registry
	sessions  *session.Manager
	catalog   Catalog
	authz     Authorizer // nil when FGA is not configured
	directory Directory  // nil: profiles come from the session claims
	bankAS    Bank       // nil: transfers are refused
	ledger    *bank.Ledger
	log       *zap.SugaredLogger
	tmpl      *template.Template
}

type Option func(*Server)

func WithDirectory(d Directory) Option { return func(s *Server) { s.directory = d } }

func WithBank(b Bank) Option { return func(s *Server) { s.bankAS = b } }

// WithLedger replaces the demo statement.
func WithLedger(l *bank.Ledger) Option { return func(s *Server) { s.ledger = l } }

// New parses the page templates. authz may be nil.
func New(reg strategy.Registry, sessions *session.Manager, catalog Catalog, authz Authorizer, log *zap.SugaredLogger, opts ...Option) (*Server, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	s := &Server{
		registry: reg,
		sessions: sessions,
		catalog:  catalog,
		authz:    authz,
		ledger:   bank.DemoLedger(),
		log:      log,
		tmpl:     tmpl,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Routes mounts the storefront. Session and tenant middleware are expected
// to run before these handlers.
func (s *Server) Routes(r chi.Router) {
	r.Get("/", s.landing)
	r.Get("/login", s.login)
	r.Get("/callback", s.callback)
	r.Get("/logout", s.logout)
	r.Post("/logout", s.logout)
	r.Get("/error", s.errorPage)
	r.Get("/headers", s.headers)
	r.Handle("/static/*", http.FileServer(http.FS(staticFS)))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireLogin("/login"))
		r.Get("/profile", s.profile)
		r.Post("/profile", s.updateProfile)
		r.Get("/portal", s.portal)
		r.Post("/trigger-mfa", s.triggerMFA)
		r.Get("/user", s.user)

		r.Get("/prepare-transaction", s.prepareTransaction)
		r.Post("/submit-transaction", s.submitTransaction)
		r.Get("/resume-transaction", s.resumeTransaction)
		r.Get("/transaction-complete", s.transactionComplete)
		r.Get("/balance", s.balance)
	})

	r.Get("/tickets", s.tickets)
	r.Post("/add-to-cart", s.addToCart)
	r.Get("/checkout", s.checkout)
	r.Post("/process-payment", s.processPayment)

	r.Get("/api", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/api/timestamp", s.timestamp)
}

type page struct {
	Title     string
	User      *strategy.User
	UserName  string
	TenantKey string
	Settings  map[string]any
	Cart      []session.CartItem
	Data      any
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	p := page{Title: title, Data: data}
	if sess := session.FromContext(r.Context()); sess != nil {
		p.User = sess.User
		p.TenantKey = sess.TenantKey
		p.Settings = sess.Settings
		p.Cart = sess.Cart
	}
	if t, ok := tenants.TenantFrom(r.Context()); ok {
		p.TenantKey = t.Key
		p.Settings = t.Settings
	}
	if p.User != nil {
		p.UserName = displayName(p.User)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, name, p); err != nil {
		s.log.Errorw("render", "template", name, "err", err)
	}
}

func displayName(u *strategy.User) string {
	for _, k := range []string{"name", "given_name", "email", "sub"} {
		if v, ok := u.Profile[k].(string); ok && v != "" {
			return v
		}
	}
	return "you"
}

type headerLine struct {
	Name, Value string
}

type headersView struct {
	Host    string
	Headers []headerLine
}

// headers shows what the server received, to debug tenant resolution
// behind proxies.
func (s *Server) headers(w http.ResponseWriter, r *http.Request) {
	v := headersView{Host: r.Host}
	for name, vals := range r.Header {
		if name == "Cookie" || name == "Authorization" {
			continue
		}
		v.Headers = append(v.Headers, headerLine{Name: name, Value: strings.Join(vals, ", ")})
	}
	sort.Slice(v.Headers, func(i, j int) bool { return v.Headers[i].Name < v.Headers[j].Name })
	s.render(w, r, http.StatusOK, "headers", "Request headers", v)
}
