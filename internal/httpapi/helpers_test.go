package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"dukapos/backend/internal/cache"
	"dukapos/backend/internal/checkout"
	"dukapos/backend/internal/migration"
	"dukapos/backend/internal/store/memory"
	"dukapos/backend/internal/syncer"
)

const testTenant = "demo-duka"

// newTestAPI builds a full API over a seeded in-memory store so handler
// tests exercise the complete request path.
func newTestAPI(t *testing.T) (*API, *memory.Store) {
	t.Helper()

	repo := memory.NewSeeded(testTenant)
	t.Cleanup(func() { _ = repo.Close() })
	reads := cache.Documents{Tenants: cache.NewTenants(repo, cache.NoopDocumentCache{}, 0), OperatorStore: repo}
	session := syncer.Select(context.Background(), reads, repo.Notifier(), 5*time.Second)

	api := New(Services{
		Checkout:  checkout.NewService(repo, repo, checkout.Options{}),
		Migration: migration.NewGuard(repo),
		Reader:    reads,
		Sync:      session,
	}, NewAuthManager("test-secret-key", time.Hour, repo, testTenant), "*")
	return api, repo
}

func login(t *testing.T, api *API, username string, password string) LoginResponse {
	t.Helper()

	body, _ := json.Marshal(LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("login %s failed, status %d: %s", username, res.Code, res.Body.String())
	}

	var payload LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload
}

func loginAsAdmin(t *testing.T, api *API) string {
	return login(t, api, "admin", "admin123").AccessToken
}

func loginAsCashier(t *testing.T, api *API) string {
	return login(t, api, "cashier", "cashier123").AccessToken
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	tok := payload["csrf_token"]
	if strings.TrimSpace(tok) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return tok
}

func postJSON(t *testing.T, api *API, path string, token string, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func getWithToken(t *testing.T, api *API, path string, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}
