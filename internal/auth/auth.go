// Package auth is the identity gateway: email/password accounts, Google
// sign-in, session tokens and the request middleware that resolves the
// current user.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ajay-kaushal/examaii-main/internal/errs"
	"github.com/ajay-kaushal/examaii-main/internal/model"
	"github.com/ajay-kaushal/examaii-main/internal/store"
)

const (
	// SessionCookieName carries the session token between requests.
	SessionCookieName = "examaii_session"

	sessionTTL        = 24 * time.Hour
	minPasswordLength = 6
)

// Service implements account management and session tokens on top of the
// store.
type Service struct {
	store  store.Store
	hmac   []byte
	google GoogleConfig

	secureCookies bool
	now           func() time.Time

	// exchangeCode overrides the Google code exchange; nil means the real
	// endpoints.
	exchangeCode func(code string) (*googleIdentity, error)
}

// NewService builds the identity gateway. secret signs session tokens.
func NewService(st store.Store, secret string, google GoogleConfig, secureCookies bool) *Service {
	return &Service{
		store:         st,
		hmac:          []byte(secret),
		google:        google,
		secureCookies: secureCookies,
		now:           time.Now,
	}
}

// Register creates an email/password account plus its profile document.
func (s *Service) Register(ctx context.Context, email, password string, role model.Role, displayName string) (*model.AuthInfo, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, errs.Validation("Please enter a valid email address.")
	}
	if len(password) < minPasswordLength {
		return nil, errs.Validation("Password should be at least 6 characters.")
	}
	if !role.Valid() {
		role = model.RoleStudent
	}

	existing, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("look up email: %w", err)
	}
	if existing != nil {
		return nil, errs.Conflict("An account with this email already exists.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := model.User{
		UID:          "local|" + randomID(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	profile, err := s.ensureProfile(ctx, user.UID, email, displayName, role)
	if err != nil {
		return nil, err
	}
	return &model.AuthInfo{User: &user, Profile: profile}, nil
}

// Login verifies email/password credentials. Unknown accounts and wrong
// passwords get the same answer.
func (s *Service) Login(ctx context.Context, email, password string) (*model.AuthInfo, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("look up email: %w", err)
	}
	if user == nil || user.PasswordHash == "" {
		return nil, errs.Auth("Invalid email or password.")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errs.Auth("Invalid email or password.")
	}

	profile := s.profileOrFallback(ctx, user)
	return &model.AuthInfo{User: user, Profile: profile}, nil
}

// ensureProfile lazily creates the profile document on first sign-in. An
// existing profile keeps its role; the role is never changed after creation.
func (s *Service) ensureProfile(ctx context.Context, uid, email, displayName string, role model.Role) (*model.Profile, error) {
	existing, err := s.store.GetProfile(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if existing != nil {
		return existing, nil
	}
	if !role.Valid() {
		role = model.RoleStudent
	}
	profile := model.Profile{UID: uid, Role: role, DisplayName: displayName, Email: email}
	if err := s.store.SaveProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return &profile, nil
}

// profileOrFallback loads the profile, synthesizing a minimal student
// profile when the read fails or the document is gone. A broken profile
// read must never block sign-in.
func (s *Service) profileOrFallback(ctx context.Context, user *model.User) *model.Profile {
	profile, err := s.store.GetProfile(ctx, user.UID)
	if err == nil && profile != nil {
		return profile
	}
	return &model.Profile{UID: user.UID, Role: model.RoleStudent, Email: user.Email}
}

// UpdateGeminiKey merge-writes only the key field of the profile. An empty
// key removes it.
func (s *Service) UpdateGeminiKey(ctx context.Context, uid, apiKey string) error {
	if err := s.store.UpdateProfileGeminiKey(ctx, uid, strings.TrimSpace(apiKey)); err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	return nil
}

type sessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken mints a signed session token for the user.
func (s *Service) IssueToken(uid string, role model.Role) (string, error) {
	now := s.now()
	claims := &sessionClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			Issuer:    "examaii",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.hmac)
}

// ParseToken verifies a session token and returns its subject and role.
func (s *Service) ParseToken(tokenStr string) (uid string, role model.Role, err error) {
	token, err := jwt.ParseWithClaims(tokenStr, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		return s.hmac, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", "", errs.Auth("Your session has expired. Please sign in again.")
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok {
		return "", "", errs.Auth("Your session has expired. Please sign in again.")
	}
	return claims.Subject, model.Role(claims.Role), nil
}

// SetSessionCookie writes the session token as an HttpOnly cookie.
func (s *Service) SetSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
		Expires:  s.now().Add(sessionTTL),
	})
}

// ClearSessionCookie logs the browser out.
func (s *Service) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
	})
}

// RequireAuth resolves the session token from the cookie or an
// Authorization bearer header, loads the user and profile and stores both in
// the request context. Requests without a valid session get 401.
func (s *Service) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := bearerToken(r)
		if tokenStr == "" {
			if c, err := r.Cookie(SessionCookieName); err == nil {
				tokenStr = c.Value
			}
		}
		if tokenStr == "" {
			writeAuthError(w, errs.Auth("Sign in to continue."))
			return
		}

		uid, _, err := s.ParseToken(tokenStr)
		if err != nil {
			writeAuthError(w, err)
			return
		}

		user, err := s.store.GetUser(r.Context(), uid)
		if err != nil || user == nil {
			writeAuthError(w, errs.Auth("Your session has expired. Please sign in again."))
			return
		}

		profile := s.profileOrFallback(r.Context(), user)
		ctx := model.ContextWithAuth(r.Context(), user, profile)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireTeacher gates teacher-only routes. Must run after RequireAuth.
func RequireTeacher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := model.AuthFromContext(r.Context())
		if info == nil || info.Profile == nil || info.Profile.Role != model.RoleTeacher {
			http.Error(w, `{"error":"Teacher access required."}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errs.HTTPStatus(err))
	fmt.Fprintf(w, `{"error":%q}`+"\n", errs.UserMessage(err))
}

func randomID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b)
}
