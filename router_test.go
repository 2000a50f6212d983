package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wallora-server/codec"
	"wallora-server/config"
	"wallora-server/core"
	"wallora-server/handlers/auth"
	"wallora-server/stores/memory"
	"wallora-server/wall"
)

func newTestServer(t *testing.T) (http.Handler, string) {
	t.Helper()
	authService, err := auth.NewService(context.Background(), config.AuthConfig{JWTSecret: "test-secret"})
	if err != nil {
		t.Fatalf("NewService() failed: %v", err)
	}
	token, err := authService.IssueToken(&core.User{Subject: "user-1", Login: "user1"})
	if err != nil {
		t.Fatalf("IssueToken() failed: %v", err)
	}

	r := setupRouter(server{
		store:          memory.NewStore(),
		auth:           authService,
		thumbnailWidth: 160,
	})
	return r, token
}

func doRequest(h http.Handler, method, path, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	h, _ := newTestServer(t)
	rr := doRequest(h, http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	h, _ := newTestServer(t)

	for _, path := range []string{"/api/sessions", "/api/rooms"} {
		if rr := doRequest(h, http.MethodGet, path, "", nil); rr.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token: status = %d, want 401", path, rr.Code)
		}
		if rr := doRequest(h, http.MethodGet, path, "not-a-jwt", nil); rr.Code != http.StatusUnauthorized {
			t.Errorf("GET %s with bad token: status = %d, want 401", path, rr.Code)
		}
	}

	// Status is public.
	if rr := doRequest(h, http.MethodGet, "/api/ai/status", "", nil); rr.Code != http.StatusOK {
		t.Errorf("GET /api/ai/status: status = %d, want 200", rr.Code)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	h, token := newTestServer(t)

	w := wall.New()
	w.CreateItem("/uploads/a.png")
	doc, err := codec.Marshal(w, codec.Meta{Name: "Stairs"})
	if err != nil {
		t.Fatal(err)
	}

	rr := doRequest(h, http.MethodPost, "/api/sessions", token, doc)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rr.Code, rr.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	json.Unmarshal(rr.Body.Bytes(), &created)

	rr = doRequest(h, http.MethodGet, "/api/sessions/"+created.ID, token, nil)
	if rr.Code != http.StatusOK || rr.Header().Get("ETag") != `"1"` {
		t.Fatalf("get status = %d, ETag %q", rr.Code, rr.Header().Get("ETag"))
	}

	rr = doRequest(h, http.MethodGet, "/api/sessions/"+created.ID+"/thumbnail", token, nil)
	if rr.Code != http.StatusOK || rr.Header().Get("Content-Type") != "image/png" {
		t.Errorf("thumbnail status = %d, type %q", rr.Code, rr.Header().Get("Content-Type"))
	}

	// The memory store keeps no snapshots, so those routes are not mounted.
	rr = doRequest(h, http.MethodGet, "/api/sessions/"+created.ID+"/snapshots", token, nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("snapshots status = %d, want 404", rr.Code)
	}

	rr = doRequest(h, http.MethodGet, "/api/rooms", token, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("rooms status = %d", rr.Code)
	}
}

func TestCORSExposesETag(t *testing.T) {
	h, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://wallora.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !strings.EqualFold(rr.Header().Get("Access-Control-Expose-Headers"), "ETag") {
		t.Errorf("Access-Control-Expose-Headers = %q", rr.Header().Get("Access-Control-Expose-Headers"))
	}
}
