package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"wallora-server/config"
	"wallora-server/core"
)

func newTestService(t *testing.T, cfg config.AuthConfig) *Service {
	t.Helper()
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "test-secret"
	}
	s, err := NewService(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}
	return s
}

func TestIssueAndParseToken(t *testing.T) {
	s := newTestService(t, config.AuthConfig{})
	user := &core.User{Subject: "github:1", Login: "octo", Email: "octo@example.com", Name: "Octo Cat"}

	token, err := s.IssueToken(user)
	if err != nil {
		t.Fatalf("IssueToken() failed: %v", err)
	}
	claims, err := s.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() failed: %v", err)
	}
	if got := claims.User(); got != *user {
		t.Errorf("User() = %+v, want %+v", got, *user)
	}
	ids := claims.Identities()
	if len(ids) != 3 || ids[0] != "github:1" || ids[1] != "octo@example.com" || ids[2] != "octo" {
		t.Errorf("Identities() = %v", ids)
	}
	if exp := claims.ExpiresAt.Time.Sub(claims.IssuedAt.Time); exp != 7*24*time.Hour {
		t.Errorf("token lifetime = %v, want one week", exp)
	}
}

func TestParseToken_Rejects(t *testing.T) {
	s := newTestService(t, config.AuthConfig{TokenTTL: time.Hour})
	user := &core.User{Subject: "u1"}

	other := newTestService(t, config.AuthConfig{JWTSecret: "another-secret"})
	foreign, _ := other.IssueToken(user)

	past := newTestService(t, config.AuthConfig{TokenTTL: time.Hour})
	past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := past.IssueToken(user)

	unsigned, _ := jwt.NewWithClaims(jwt.SigningMethodNone, AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	noSubject, _ := s.IssueToken(&core.User{})

	testCases := map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": foreign,
		"expired":      expired,
		"alg none":     unsigned,
		"no subject":   noSubject,
	}
	for name, token := range testCases {
		t.Run(name, func(t *testing.T) {
			if _, err := s.ParseToken(token); err == nil {
				t.Error("ParseToken() should fail")
			}
		})
	}
}

func TestIssueToken_RequiresSecret(t *testing.T) {
	s, err := NewService(context.Background(), config.AuthConfig{})
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}
	if _, err := s.IssueToken(&core.User{Subject: "u"}); err == nil {
		t.Error("IssueToken() without secret should fail")
	}
}

func TestHandlers_NotConfigured(t *testing.T) {
	s := newTestService(t, config.AuthConfig{})
	if s.Provider() != "" {
		t.Fatalf("Provider() = %q, want none", s.Provider())
	}

	for _, h := range []http.HandlerFunc{s.HandleLogin, s.HandleCallback} {
		rr := httptest.NewRecorder()
		h(rr, httptest.NewRequest(http.MethodGet, "/auth/login", nil))
		if rr.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", rr.Code)
		}
	}
}

func TestHandleLogin_GitHub(t *testing.T) {
	s := newTestService(t, config.AuthConfig{GitHub: config.OAuthAppConfig{
		ClientID: "gh-id", ClientSecret: "gh-secret", RedirectURL: "http://localhost/auth/callback",
	}})
	if s.Provider() != "github" {
		t.Fatalf("Provider() = %q, want github", s.Provider())
	}

	rr := httptest.NewRecorder()
	s.HandleLogin(rr, httptest.NewRequest(http.MethodGet, "/auth/login", nil))

	if rr.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	if loc.Host != "github.com" || loc.Query().Get("client_id") != "gh-id" {
		t.Errorf("redirect = %s", loc)
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != stateCookie || cookies[0].Value != loc.Query().Get("state") {
		t.Errorf("state cookie = %v, redirect state = %q", cookies, loc.Query().Get("state"))
	}
}

func TestHandleCallback_GitHub(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "gh-token", "token_type": "bearer"})
		case "/user":
			if r.Header.Get("Authorization") != "Bearer gh-token" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{"id": 42, "login": "octo", "email": "octo@example.com", "name": "Octo"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer provider.Close()

	s := newTestService(t, config.AuthConfig{GitHub: config.OAuthAppConfig{ClientID: "gh-id", ClientSecret: "gh-secret"}})
	s.oauth.Endpoint = oauth2.Endpoint{AuthURL: provider.URL + "/authorize", TokenURL: provider.URL + "/token"}
	s.githubUserURL = provider.URL + "/user"

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?state=abc&code=xyz", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "abc"})
	rr := httptest.NewRecorder()
	s.HandleCallback(rr, req)

	if rr.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want 307", rr.Code)
	}
	loc, _ := url.Parse(rr.Header().Get("Location"))
	token := loc.Query().Get("token")
	if loc.Path != "/" || token == "" {
		t.Fatalf("redirect = %s, want token on /", loc)
	}
	claims, err := s.ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken() failed: %v", err)
	}
	if claims.Subject != "github:42" || claims.Login != "octo" || claims.Email != "octo@example.com" {
		t.Errorf("claims = %+v", claims)
	}
}

func TestHandleCallback_StateMismatch(t *testing.T) {
	s := newTestService(t, config.AuthConfig{GitHub: config.OAuthAppConfig{ClientID: "gh-id", ClientSecret: "gh-secret"}})

	req := httptest.NewRequest(http.MethodGet, "/auth/callback?state=forged&code=xyz", nil)
	req.AddCookie(&http.Cookie{Name: stateCookie, Value: "abc"})
	rr := httptest.NewRecorder()
	s.HandleCallback(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if strings.Contains(rr.Header().Get("Location"), "token=") {
		t.Error("no token should be issued on state mismatch")
	}
}
