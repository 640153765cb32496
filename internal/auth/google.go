package auth

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ajay-kaushal/examaii-main/internal/errs"
	"github.com/ajay-kaushal/examaii-main/internal/model"
)

// GoogleConfig holds the OAuth application credentials.
type GoogleConfig struct {
	ClientID      string
	ClientSecret  string
	RedirectURI   string
	AllowedDomain string
	PublicURL     string
}

// Enabled reports whether Google sign-in is configured.
func (g GoogleConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

const (
	stateCookieName = "examaii_oauth_state"
	roleCookieName  = "examaii_oauth_role"

	// The redirect round trip gets one minute before the pending state is
	// treated as abandoned.
	stateTTL = 60 * time.Second
)

// GoogleLoginHandler starts the redirect flow. The requested role (default
// student) travels in a short-lived cookie and only matters on first
// sign-in; existing profiles keep their role.
func (s *Service) GoogleLoginHandler(w http.ResponseWriter, r *http.Request) {
	if !s.google.Enabled() {
		s.writeError(w, errs.Auth("Google sign-in is not configured on this server."))
		return
	}

	state := fmt.Sprintf("s-%d", s.now().UnixNano())
	expires := s.now().Add(stateTTL)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})

	role := r.URL.Query().Get("role")
	if !model.Role(role).Valid() {
		role = string(model.RoleStudent)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     roleCookieName,
		Value:    role,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
		Expires:  expires,
	})

	q := url.Values{}
	q.Set("client_id", s.google.ClientID)
	q.Set("redirect_uri", s.google.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "openid email profile")
	q.Set("state", state)
	if s.google.AllowedDomain != "" {
		q.Set("hd", s.google.AllowedDomain)
	}
	http.Redirect(w, r, "https://accounts.google.com/o/oauth2/v2/auth?"+q.Encode(), http.StatusFound)
}

// GoogleCallbackHandler finishes the flow: validates the pending state,
// exchanges the code, verifies the token, upserts the account and mints a
// session.
func (s *Service) GoogleCallbackHandler(w http.ResponseWriter, r *http.Request) {
	// A missing state cookie means the round trip outlived its one-minute
	// window (or was never started here).
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" {
		s.writeError(w, errs.Timeout("The sign-in redirect took longer than expected. Please try again."))
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		s.writeError(w, errs.Auth("Sign-in could not be verified. Please try again."))
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		s.writeError(w, errs.Auth("Google did not return an authorization code. Please try again."))
		return
	}

	exchange := s.exchangeCode
	if exchange == nil {
		exchange = s.exchangeGoogleCode
	}
	identity, err := exchange(code)
	if err != nil {
		slog.Warn("google sign-in failed", "error", err)
		s.writeError(w, err)
		return
	}

	if s.google.AllowedDomain != "" && !strings.EqualFold(identity.HD, s.google.AllowedDomain) {
		s.writeError(w, errs.Auth("This email domain is not allowed to sign in here. Use your organization account or contact the administrator."))
		return
	}

	ctx := r.Context()
	email := strings.ToLower(identity.Email)
	uid := "google|" + identity.Sub

	existing, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		s.writeError(w, errs.Transport("Sign-in failed while looking up your account. Please try again.", err))
		return
	}
	switch {
	case existing == nil:
		user := model.User{UID: uid, Email: email, CreatedAt: s.now().UTC()}
		if err := s.store.CreateUser(ctx, user); err != nil {
			slog.Error("create federated user", "error", err)
			s.writeError(w, errs.Transport("Sign-in failed while saving your account. Please try again.", err))
			return
		}
	case existing.UID != uid && existing.PasswordHash != "":
		// An email/password account under the same address belongs to a
		// different credential; do not silently link them.
		s.writeError(w, errs.Auth("An account with this email already exists with a password. Sign in with your email and password instead."))
		return
	case existing.UID != uid:
		uid = existing.UID
	}

	role := model.RoleStudent
	if c, err := r.Cookie(roleCookieName); err == nil && model.Role(c.Value).Valid() {
		role = model.Role(c.Value)
	}
	profile, err := s.ensureProfile(ctx, uid, email, identity.Name, role)
	if err != nil {
		// Sign-in proceeds with a synthesized profile; the document can be
		// repaired on a later request.
		slog.Warn("profile read failed during sign-in", "uid", uid, "error", err)
		profile = &model.Profile{UID: uid, Role: model.RoleStudent, Email: email}
	}

	token, err := s.IssueToken(uid, profile.Role)
	if err != nil {
		s.writeError(w, fmt.Errorf("issue session token: %w", err))
		return
	}
	s.SetSessionCookie(w, token)

	clearCookie(w, stateCookieName)
	clearCookie(w, roleCookieName)

	target := s.google.PublicURL
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

type googleIdentity struct {
	Sub   string
	Email string
	Name  string
	HD    string
}

// exchangeGoogleCode trades the authorization code for tokens and verifies
// the identity token against Google's tokeninfo endpoint.
func (s *Service) exchangeGoogleCode(code string) (*googleIdentity, error) {
	form := url.Values{}
	form.Set("code", code)
	form.Set("client_id", s.google.ClientID)
	form.Set("client_secret", s.google.ClientSecret)
	form.Set("redirect_uri", s.google.RedirectURI)
	form.Set("grant_type", "authorization_code")

	resp, err := http.PostForm("https://oauth2.googleapis.com/token", form)
	if err != nil {
		return nil, errs.Transport("Could not reach Google to complete sign-in. Check your connection and try again.", err)
	}
	defer resp.Body.Close()

	var tr struct {
		IDToken string `json:"id_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil || tr.IDToken == "" {
		return nil, errs.Transport("Google returned an unexpected response during sign-in. Please try again.", err)
	}

	tiResp, err := http.Get("https://oauth2.googleapis.com/tokeninfo?id_token=" + url.QueryEscape(tr.IDToken))
	if err != nil {
		return nil, errs.Transport("Could not verify your Google identity. Please try again.", err)
	}
	defer tiResp.Body.Close()

	var ti struct {
		Iss   string `json:"iss"`
		Aud   string `json:"aud"`
		Sub   string `json:"sub"`
		Email string `json:"email"`
		Name  string `json:"name"`
		HD    string `json:"hd"`
	}
	if err := json.NewDecoder(tiResp.Body).Decode(&ti); err != nil {
		return nil, errs.Transport("Could not verify your Google identity. Please try again.", err)
	}
	if ti.Aud != s.google.ClientID {
		return nil, errs.Auth("Sign-in could not be verified. Please try again.")
	}
	if ti.Iss != "accounts.google.com" && ti.Iss != "https://accounts.google.com" {
		return nil, errs.Auth("Sign-in could not be verified. Please try again.")
	}
	return &googleIdentity{Sub: ti.Sub, Email: ti.Email, Name: ti.Name, HD: ti.HD}, nil
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", Expires: time.Unix(0, 0), MaxAge: -1})
}

func (s *Service) writeError(w http.ResponseWriter, err error) {
	writeAuthError(w, err)
}
