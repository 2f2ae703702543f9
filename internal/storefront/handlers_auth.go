package storefront

import (
	"net/http"

	"github.com/google/uuid"

	"funland/pkg/session"
	"funland/pkg/tenants"
)

func (s *Server) landing(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "landing", "Welcome", nil)
}

// login starts the authorization-code flow against the current tenant's
// identity provider.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		http.Error(w, "no session", http.StatusInternalServerError)
		return
	}
	key := sess.TenantKey
	if t, ok := tenants.TenantFrom(r.Context()); ok {
		key = t.Key
	}
	st, ok := s.registry.Resolve(key)
	if !ok {
		s.log.Warnw("login without strategy", "tenant", key)
		sess.ErrorMsg = "No login is configured for " + key
		http.Redirect(w, r, tenants.ErrorPath, http.StatusFound)
		return
	}
	sess.OAuthState = uuid.NewString()
	sess.OAuthNonce = uuid.NewString()
	http.Redirect(w, r, st.AuthCodeURL(sess.OAuthState, sess.OAuthNonce), http.StatusFound)
}

func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	if sess == nil {
		http.Error(w, "no session", http.StatusInternalServerError)
		return
	}
	fail := func(msg string) {
		sess.OAuthState, sess.OAuthNonce = "", ""
		sess.ErrorMsg = msg
		http.Redirect(w, r, tenants.ErrorPath, http.StatusFound)
	}

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		if d := q.Get("error_description"); d != "" {
			e = d
		}
		fail(e)
		return
	}
	if sess.OAuthState == "" || q.Get("state") != sess.OAuthState {
		fail("Login state mismatch, please try again.")
		return
	}
	st, ok := s.registry.Resolve(sess.TenantKey)
	if !ok {
		fail("No login is configured for " + sess.TenantKey)
		return
	}
	user, err := st.Complete(r.Context(), q.Get("code"), sess.OAuthNonce)
	if err != nil {
		s.log.Errorw("login callback", "tenant", sess.TenantKey, "err", err)
		fail("Unable to complete login.")
		return
	}
	sess.OAuthState, sess.OAuthNonce = "", ""
	sess.User = user
	s.log.Infow("user logged in", "tenant", sess.TenantKey, "sub", user.Subject())
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Destroy(r.Context(), w, session.FromContext(r.Context()))
	http.Redirect(w, r, "/", http.StatusFound)
}

// errorPage shows and clears the message left in the session.
func (s *Server) errorPage(w http.ResponseWriter, r *http.Request) {
	var msg string
	if sess := session.FromContext(r.Context()); sess != nil {
		msg, sess.ErrorMsg = sess.ErrorMsg, ""
	}
	s.render(w, r, http.StatusOK, "error", "Error", msg)
}
