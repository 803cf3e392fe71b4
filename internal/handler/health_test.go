package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"mirror-proxy-go/internal/config"
	"mirror-proxy-go/internal/route"
)

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, config.HealthzPath, http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := NewHealthHandler(&route.Table{}, "test")
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestStatus(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, config.StatusPath, http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	tbl, err := route.New(&config.Config{
		Routes: config.BuiltinRoutes(),
		Rules:  config.BuiltinRules(),
	})
	if err != nil {
		t.Fatalf("route.New: %v", err)
	}
	h := NewHealthHandler(tbl, "1.2.3")
	if err := h.Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		Status        string   `json:"status"`
		Version       string   `json:"version"`
		Routes        int      `json:"routes"`
		Hosts         []string `json:"hosts"`
		DefaultOrigin string   `json:"default_origin"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("body.status = %q, want %q", body.Status, "ok")
	}
	if body.Version != "1.2.3" {
		t.Errorf("body.version = %q, want %q", body.Version, "1.2.3")
	}
	// 10 mirror hosts plus 2 launcher rules.
	if body.Routes != 12 {
		t.Errorf("body.routes = %d, want 12", body.Routes)
	}
	if len(body.Hosts) != 10 {
		t.Errorf("len(body.hosts) = %d, want 10", len(body.Hosts))
	}
	if body.DefaultOrigin != "https://chat-in.sorapi.dev" {
		t.Errorf("body.default_origin = %q, want %q", body.DefaultOrigin, "https://chat-in.sorapi.dev")
	}
}

func TestStatus_NoDefault(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, config.StatusPath, http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	tbl, err := route.New(&config.Config{Routes: map[string]string{"a.example": "https://a.example"}})
	if err != nil {
		t.Fatalf("route.New: %v", err)
	}
	if err := NewHealthHandler(tbl, "dev").Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["default_origin"] != "" {
		t.Errorf("default_origin = %v, want empty", body["default_origin"])
	}
}
