package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pandora-cas/pandora-cloud-client/internal/account"
	"github.com/pandora-cas/pandora-cloud-client/internal/config"
	"github.com/pandora-cas/pandora-cloud-client/pkg/crypto"
)

func testServer(t *testing.T) *RESTServer {
	t.Helper()
	hash, err := crypto.HashPassword("operator-pass")
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		API: config.APIConfig{
			Enabled:      true,
			PasswordHash: hash,
			JWT: config.JWTConfig{
				Secret:          "test-secret",
				AccessTokenTTL:  time.Minute,
				RefreshTokenTTL: time.Hour,
			},
		},
	}
	return NewRESTServer(cfg, account.NewRegistry(), nil)
}

func doJSON(t *testing.T, s *RESTServer, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealthIsPublic(t *testing.T) {
	s := testServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/v1/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := testServer(t)
	w := doJSON(t, s, http.MethodGet, "/api/v1/devices", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestLoginFlow(t *testing.T) {
	s := testServer(t)

	// Wrong password rejected.
	w := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"password": "nope"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d", w.Code)
	}

	// Missing password rejected by validation.
	w = doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty password status = %d", w.Code)
	}

	// Correct password issues a working token.
	w = doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"password": "operator-pass"})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/devices", resp.AccessToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("authorized request status = %d", w.Code)
	}
}

func TestUnknownDevice(t *testing.T) {
	s := testServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"password": "operator-pass"})
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)

	w = doJSON(t, s, http.MethodGet, "/api/v1/devices/42", resp.AccessToken, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}
