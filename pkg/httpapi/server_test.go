package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/fleetd/pkg/errs"
)

func TestParseBoolQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/x?force=true", nil)
	if !parseBoolQuery(req, "force") {
		t.Error("expected force=true to parse true")
	}
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	if parseBoolQuery(req, "force") {
		t.Error("expected missing query param to parse false")
	}
}

func TestWriteError_MapsKindToStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errs.New(errs.NotFound, "workspace not found"))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_AmbientRoutes(t *testing.T) {
	s := NewServer(nil, nil, nil, nil, "secret", nil)
	h := s.Handler()

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusNotFound {
			t.Errorf("expected %s to be routed, got 404", path)
		}
	}
}

func TestHandler_InternalRouteRequiresToken(t *testing.T) {
	s := NewServer(nil, nil, nil, nil, "secret", nil)
	h := s.Handler()

	req := httptest.NewRequest(http.MethodGet, "/internal/hardware-specs", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/internal/hardware-specs", nil)
	req.Header.Set("X-Internal-Token", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with correct token, got %d", rec.Code)
	}
}
