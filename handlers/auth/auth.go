package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"wallora-server/config"
	"wallora-server/core"
)

const stateCookie = "oauth_state"

// AppClaims represents the custom claims for the JWT.
type AppClaims struct {
	jwt.RegisteredClaims
	Login     string `json:"login"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatarUrl"`
	Name      string `json:"name"`
}

// User rebuilds the identity carried by the token.
func (c *AppClaims) User() core.User {
	return core.User{
		Subject:   c.Subject,
		Login:     c.Login,
		Email:     c.Email,
		AvatarURL: c.AvatarURL,
		Name:      c.Name,
	}
}

// Identities lists the values sharing policies may refer to this user by.
func (c *AppClaims) Identities() []string {
	ids := []string{c.Subject}
	if c.Email != "" {
		ids = append(ids, c.Email)
	}
	if c.Login != "" && c.Login != c.Email {
		ids = append(ids, c.Login)
	}
	return ids
}

// OIDCClaims represents the claims from OIDC token
type OIDCClaims struct {
	Email             string `json:"email"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
	Picture           string `json:"picture"`
	Sub               string `json:"sub"`
}

// Service runs the OAuth login flow against GitHub or an OIDC provider and
// issues the application's own JWTs.
type Service struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	oauth         *oauth2.Config
	verifier      *oidc.IDTokenVerifier
	githubUserURL string
	provider      string
}

// NewService configures OIDC when an issuer is set, GitHub when client
// credentials are set, and no login provider otherwise. Tokens can still be
// parsed without a provider.
func NewService(ctx context.Context, cfg config.AuthConfig) (*Service, error) {
	s := &Service{
		secret:        []byte(cfg.JWTSecret),
		ttl:           cfg.TokenTTL,
		now:           time.Now,
		githubUserURL: "https://api.github.com/user",
	}
	if s.ttl <= 0 {
		s.ttl = 7 * 24 * time.Hour
	}
	if len(s.secret) == 0 {
		logrus.Warn("JWT secret is not set. Authentication will not work.")
	}

	switch {
	case cfg.OIDC.IssuerURL != "" && cfg.OIDC.ClientID != "":
		logrus.Info("Initializing OIDC authentication provider.")
		provider, err := oidc.NewProvider(ctx, cfg.OIDC.IssuerURL)
		if err != nil {
			return nil, fmt.Errorf("create OIDC provider: %w", err)
		}
		s.oauth = &oauth2.Config{
			ClientID:     cfg.OIDC.ClientID,
			ClientSecret: cfg.OIDC.ClientSecret,
			RedirectURL:  cfg.OIDC.RedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
			Endpoint:     provider.Endpoint(),
		}
		s.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.OIDC.ClientID})
		s.provider = "oidc"
	case cfg.GitHub.ClientID != "" && cfg.GitHub.ClientSecret != "":
		logrus.Info("Initializing GitHub authentication provider.")
		s.oauth = &oauth2.Config{
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			RedirectURL:  cfg.GitHub.RedirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		}
		s.provider = "github"
	default:
		logrus.Warn("No authentication provider configured.")
	}
	return s, nil
}

// Provider names the configured login provider, or "" when there is none.
func (s *Service) Provider() string {
	return s.provider
}

func (s *Service) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		http.Error(w, "Authentication not configured", http.StatusInternalServerError)
		return
	}

	stateBytes := make([]byte, 16)
	if _, err := rand.Read(stateBytes); err != nil {
		http.Error(w, "Failed to generate state for login", http.StatusInternalServerError)
		return
	}
	state := hex.EncodeToString(stateBytes)

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		Expires:  s.now().Add(10 * time.Minute),
		HttpOnly: true,
		Secure:   r.Header.Get("X-Forwarded-Proto") == "https",
		SameSite: http.SameSiteLaxMode,
	})

	var opts []oauth2.AuthCodeOption
	if s.provider == "oidc" {
		opts = append(opts, oauth2.AccessTypeOffline)
	}
	http.Redirect(w, r, s.oauth.AuthCodeURL(state, opts...), http.StatusTemporaryRedirect)
}

func (s *Service) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if s.oauth == nil {
		http.Error(w, "Authentication not configured", http.StatusInternalServerError)
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.FormValue("state") {
		logrus.Warn("OAuth state mismatch")
		http.Error(w, "Invalid OAuth state", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/", MaxAge: -1})

	code := r.FormValue("code")
	if code == "" {
		logrus.Error("no code in callback")
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	token, err := s.oauth.Exchange(r.Context(), code)
	if err != nil {
		logrus.Errorf("failed to exchange token: %s", err.Error())
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	var user *core.User
	if s.provider == "oidc" {
		user, err = s.oidcUser(r.Context(), token)
	} else {
		user, err = s.githubUser(r.Context(), token)
	}
	if err != nil {
		logrus.Errorf("failed to resolve user: %s", err.Error())
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	jwtToken, err := s.IssueToken(user)
	if err != nil {
		logrus.Errorf("failed to create JWT: %s", err.Error())
		http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
		return
	}

	logrus.WithField("user_id", user.Subject).Info("User logged in")
	http.Redirect(w, r, "/?token="+url.QueryEscape(jwtToken), http.StatusTemporaryRedirect)
}

func (s *Service) githubUser(ctx context.Context, token *oauth2.Token) (*core.User, error) {
	client := s.oauth.Client(ctx, token)
	resp, err := client.Get(s.githubUserURL)
	if err != nil {
		return nil, fmt.Errorf("get user from github: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github user endpoint returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read github response body: %w", err)
	}

	var githubUser struct {
		ID        int64  `json:"id"`
		Login     string `json:"login"`
		Email     string `json:"email"`
		AvatarURL string `json:"avatar_url"`
		Name      string `json:"name"`
	}
	if err := json.Unmarshal(body, &githubUser); err != nil {
		return nil, fmt.Errorf("unmarshal github user: %w", err)
	}

	return &core.User{
		Subject:   fmt.Sprintf("github:%d", githubUser.ID),
		Login:     githubUser.Login,
		Email:     githubUser.Email,
		AvatarURL: githubUser.AvatarURL,
		Name:      githubUser.Name,
	}, nil
}

func (s *Service) oidcUser(ctx context.Context, token *oauth2.Token) (*core.User, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, errors.New("no id_token in token response")
	}
	idToken, err := s.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("verify ID token: %w", err)
	}

	var claims OIDCClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("extract claims from ID token: %w", err)
	}

	user := &core.User{
		Subject:   claims.Sub,
		Login:     claims.PreferredUsername,
		Email:     claims.Email,
		AvatarURL: claims.Picture,
		Name:      claims.Name,
	}
	if user.Login == "" && user.Email != "" {
		user.Login = user.Email
	}
	return user, nil
}

// IssueToken signs an HS256 JWT for user.
func (s *Service) IssueToken(user *core.User) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("jwt secret is not configured")
	}
	now := s.now()
	claims := AppClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Login:     user.Login,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		Name:      user.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) ParseToken(tokenString string) (*AppClaims, error) {
	if len(s.secret) == 0 {
		return nil, errors.New("jwt secret is not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid && claims.Subject != "" {
		return claims, nil
	}
	return nil, fmt.Errorf("invalid token")
}
