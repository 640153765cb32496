package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ajay-kaushal/examaii-main/internal/model"
	"github.com/ajay-kaushal/examaii-main/internal/store"
)

func newGoogleService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := GoogleConfig{
		ClientID:     "client-1",
		ClientSecret: "shhh",
		RedirectURI:  "http://localhost/auth/google/callback",
	}
	return NewService(st, "test-secret", cfg, false), st
}

// callbackRequest builds a callback with code=abc; cookieState "" leaves the
// state cookie off entirely.
func callbackRequest(queryState, cookieState string) *http.Request {
	req := httptest.NewRequest("GET", "/auth/google/callback?code=abc&state="+queryState, nil)
	if cookieState != "" {
		req.AddCookie(&http.Cookie{Name: stateCookieName, Value: cookieState})
	}
	return req
}

func TestGoogleLoginSetsStateCookie(t *testing.T) {
	s, _ := newGoogleService(t)

	rec := httptest.NewRecorder()
	s.GoogleLoginHandler(rec, httptest.NewRequest("GET", "/auth/google/login?role=teacher", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.HasPrefix(loc, "https://accounts.google.com/o/oauth2/v2/auth?") {
		t.Errorf("unexpected redirect target %q", loc)
	}

	var state, role string
	for _, c := range rec.Result().Cookies() {
		switch c.Name {
		case stateCookieName:
			state = c.Value
		case roleCookieName:
			role = c.Value
		}
	}
	if state == "" {
		t.Error("expected a state cookie")
	}
	if role != "teacher" {
		t.Errorf("expected teacher role cookie, got %q", role)
	}
	if !strings.Contains(rec.Header().Get("Location"), "state="+state) {
		t.Error("redirect must carry the same state as the cookie")
	}
}

func TestGoogleCallbackExpiredState(t *testing.T) {
	s, _ := newGoogleService(t)

	// No state cookie: the one-minute redirect window has passed.
	rec := httptest.NewRecorder()
	s.GoogleCallbackHandler(rec, callbackRequest("s-1", ""))
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "The sign-in redirect took longer than expected") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestGoogleCallbackStateMismatch(t *testing.T) {
	s, _ := newGoogleService(t)

	rec := httptest.NewRecorder()
	s.GoogleCallbackHandler(rec, callbackRequest("s-2", "s-1"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for mismatched state, got %d", rec.Code)
	}

	// Missing authorization code fails the same way.
	req := httptest.NewRequest("GET", "/auth/google/callback?state=s-1", nil)
	req.AddCookie(&http.Cookie{Name: stateCookieName, Value: "s-1"})
	rec = httptest.NewRecorder()
	s.GoogleCallbackHandler(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for missing code, got %d", rec.Code)
	}
}

func TestGoogleCallbackPasswordAccountCollision(t *testing.T) {
	s, _ := newGoogleService(t)
	ctx := context.Background()

	if _, err := s.Register(ctx, "asha@example.com", "secret123", model.RoleStudent, "Asha"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.exchangeCode = func(string) (*googleIdentity, error) {
		return &googleIdentity{Sub: "g-123", Email: "Asha@example.com", Name: "Asha"}, nil
	}

	rec := httptest.NewRecorder()
	s.GoogleCallbackHandler(rec, callbackRequest("s-1", "s-1"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "already exists with a password") {
		t.Errorf("expected the credential-conflict message, got %q", rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName && c.Value != "" {
			t.Error("no session may be minted on a credential conflict")
		}
	}
}

func TestGoogleCallbackFirstSignIn(t *testing.T) {
	s, st := newGoogleService(t)
	ctx := context.Background()

	s.exchangeCode = func(code string) (*googleIdentity, error) {
		if code != "abc" {
			t.Errorf("expected code abc, got %q", code)
		}
		return &googleIdentity{Sub: "g-456", Email: "New@Example.com", Name: "New User"}, nil
	}

	req := callbackRequest("s-1", "s-1")
	req.AddCookie(&http.Cookie{Name: roleCookieName, Value: "teacher"})
	rec := httptest.NewRecorder()
	s.GoogleCallbackHandler(rec, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rec.Code, rec.Body)
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Errorf("expected redirect to /, got %q", loc)
	}

	var session string
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			session = c.Value
		}
	}
	if session == "" {
		t.Fatal("expected a session cookie")
	}
	uid, role, err := s.ParseToken(session)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if uid != "google|g-456" {
		t.Errorf("expected federated uid, got %q", uid)
	}
	if role != model.RoleTeacher {
		t.Errorf("expected role from the login cookie, got %q", role)
	}

	user, err := st.GetUser(ctx, "google|g-456")
	if err != nil || user == nil {
		t.Fatalf("expected stored user, got %v / %v", user, err)
	}
	if user.Email != "new@example.com" {
		t.Errorf("expected lowercased email, got %q", user.Email)
	}
	if user.PasswordHash != "" {
		t.Error("federated accounts carry no password hash")
	}
	profile, _ := st.GetProfile(ctx, "google|g-456")
	if profile == nil || profile.Role != model.RoleTeacher {
		t.Errorf("expected teacher profile, got %+v", profile)
	}
}

func TestGoogleCallbackDomainRestriction(t *testing.T) {
	s, _ := newGoogleService(t)
	s.google.AllowedDomain = "example.edu"
	s.exchangeCode = func(string) (*googleIdentity, error) {
		return &googleIdentity{Sub: "g-789", Email: "x@gmail.com", HD: "gmail.com"}, nil
	}

	rec := httptest.NewRecorder()
	s.GoogleCallbackHandler(rec, callbackRequest("s-1", "s-1"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign domain, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "not allowed to sign in") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}
