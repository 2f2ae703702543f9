package storefront

import (
	"net/http"
	"strings"

	"funland/pkg/session"
	"funland/pkg/strategy"
)

// consentOptions are the checkboxes offered on the profile form; choices are
// stored in user_metadata.consents.
var consentOptions = []string{"marketing", "analytics", "partners"}

type profileView struct {
	Claims   map[string]any
	Tokens   *strategy.Tokens
	Editable bool // loaded from the management API
	Options  []string
	Consents map[string]bool
}

// loadProfile prefers the identity provider's record and falls back to the
// login claims when it cannot be fetched.
func (s *Server) loadProfile(r *http.Request) profileView {
	u := session.FromContext(r.Context()).User
	v := profileView{Claims: u.Profile, Options: consentOptions, Consents: map[string]bool{}}
	if s.directory != nil {
		rec, err := s.directory.User(r.Context(), u.Subject())
		if err != nil {
			s.log.Warnw("fetch user profile", "sub", u.Subject(), "err", err)
		} else {
			v.Claims, v.Editable = rec, true
		}
	}
	if meta, ok := v.Claims["user_metadata"].(map[string]any); ok {
		if list, ok := meta["consents"].([]any); ok {
			for _, c := range list {
				if c, ok := c.(string); ok {
					v.Consents[c] = true
				}
			}
		}
	}
	return v
}

func (s *Server) profile(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "profile", "Profile", s.loadProfile(r))
}

func (s *Server) portal(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "portal", "Portal", s.loadProfile(r))
}

func (s *Server) user(w http.ResponseWriter, r *http.Request) {
	u := session.FromContext(r.Context()).User
	s.render(w, r, http.StatusOK, "profile", "User", profileView{Claims: u.Profile, Tokens: &u.Tokens})
}

// updateProfile writes the profile form back through the management API.
// Consents replace the stored list; other user_metadata keys are kept.
func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	sub := session.FromContext(r.Context()).User.Subject()
	if s.directory == nil {
		s.log.Warnw("profile update without management api", "sub", sub)
		http.Error(w, "Error updating profile.", http.StatusInternalServerError)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error updating profile.", http.StatusBadRequest)
		return
	}
	consents := []string{}
	for _, c := range r.PostForm["consents"] {
		if c = strings.TrimSpace(c); c != "" {
			consents = append(consents, c)
		}
	}

	current, err := s.directory.User(r.Context(), sub)
	if err != nil {
		s.log.Errorw("fetch user before update", "sub", sub, "err", err)
		http.Error(w, "Error updating profile.", http.StatusInternalServerError)
		return
	}
	meta := map[string]any{}
	if m, ok := current["user_metadata"].(map[string]any); ok {
		for k, v := range m {
			meta[k] = v
		}
	}
	meta["consents"] = consents

	patch := map[string]any{
		"user_metadata": meta,
		"given_name":    orNil(r.PostForm.Get("given_name")),
		"family_name":   orNil(r.PostForm.Get("family_name")),
	}
	for _, k := range []string{"name", "email"} {
		if v := strings.TrimSpace(r.PostForm.Get(k)); v != "" {
			patch[k] = v
		}
	}
	if err := s.directory.UpdateUser(r.Context(), sub, patch); err != nil {
		s.log.Errorw("update user", "sub", sub, "err", err)
		http.Error(w, "Error updating profile.", http.StatusInternalServerError)
		return
	}
	s.log.Infow("profile updated", "sub", sub, "consents", len(consents))
	http.Redirect(w, r, "/profile", http.StatusFound)
}

func orNil(v string) any {
	if v = strings.TrimSpace(v); v == "" {
		return nil
	}
	return v
}

// triggerMFA starts an MFA challenge for the current user against the
// tenant's application.
func (s *Server) triggerMFA(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	sub := sess.User.Subject()
	st, ok := s.registry.Resolve(sess.TenantKey)
	if s.directory == nil || !ok {
		s.log.Warnw("mfa challenge unavailable", "sub", sub, "tenant", sess.TenantKey)
		http.Error(w, "Error triggering MFA.", http.StatusInternalServerError)
		return
	}
	if err := s.directory.ChallengeMFA(r.Context(), sub, st.Config().ClientID); err != nil {
		s.log.Errorw("mfa challenge", "sub", sub, "err", err)
		http.Error(w, "Error triggering MFA.", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte("MFA challenge sent successfully."))
}
