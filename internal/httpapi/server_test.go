package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jmylchreest/wayfarer/internal/config"
	"github.com/jmylchreest/wayfarer/internal/engine"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	eng, err := engine.New(engine.Config{StateDir: t.TempDir()})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	cfg := &config.Config{StateDir: t.TempDir(), DefaultDailyLimit: 1000, MaxWebhookEndpointsPerTenant: 10}
	return New(eng, cfg, nil)
}

func TestHealthz_OK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestBrowse_MissingTenantHeaderIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	body := strings.NewReader(`{"url":"https://example.com/a"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/browse", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBrowse_InvalidURLFailsValidation(t *testing.T) {
	s := newTestServer(t)
	body := strings.NewReader(`{"url":"not-a-url"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/browse", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-1")
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestBrowse_NoPatternMatchMapsToUnprocessableEntity(t *testing.T) {
	s := newTestServer(t)
	body := strings.NewReader(`{"url":"https://example.com/a","max_cost_tier":"intelligence"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/browse", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-1")
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}

	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(w.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error.Code != "wrong_endpoint" {
		t.Fatalf("expected wrong_endpoint code, got %s", payload.Error.Code)
	}
}

func TestCreateAndGetWebhook_RoundTrips(t *testing.T) {
	s := newTestServer(t)

	createBody := strings.NewReader(`{"url":"https://hooks.example.com/a","secret":"a-secret-at-least-32-characters-long","enabled":true}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/", createBody)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-1")
	w := httptest.NewRecorder()
	s.Routes().ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created struct {
		ID string `json:"ID"`
	}
	if err := json.NewDecoder(w.Body).Decode(&created); err != nil {
		t.Fatalf("decode created endpoint: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated endpoint id")
	}

	getReq := httptest.NewRequest(http.MethodGet, "/v1/webhooks/"+created.ID, nil)
	getReq.Header.Set("X-Tenant-ID", "tenant-2")
	getW := httptest.NewRecorder()
	s.Routes().ServeHTTP(getW, getReq)

	if getW.Code != http.StatusBadRequest {
		t.Fatalf("expected cross-tenant lookup to be rejected as invalid_request, got %d", getW.Code)
	}
}
