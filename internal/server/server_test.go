package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/phantomapi/gateway/internal/expose"
	"github.com/phantomapi/gateway/internal/metrics"
)

func stub(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func TestRouter_RoutesMetricsAndHealth(t *testing.T) {
	router := NewRouter(RouterConfig{
		Gateway:    stub(http.StatusOK, "proxied"),
		Exposition: stub(http.StatusOK, "# metrics"),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Body.String() != "# metrics" {
		t.Errorf("GET /metrics body = %q, want exposition output", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("GET /health body = %q, want status ok", rec.Body.String())
	}
}

func TestRouter_NonGetMetricsIsMethodNotAllowed(t *testing.T) {
	router := NewRouter(RouterConfig{
		Gateway:    stub(http.StatusTeapot, "proxied"),
		Exposition: expose.NewHandler(metrics.NewRegistry(), nil, nil),
	})

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(method, "/metrics", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s /metrics status = %d, want 405", method, rec.Code)
		}
	}
}

func TestRouter_ProxiesEverythingElse(t *testing.T) {
	router := NewRouter(RouterConfig{
		Gateway:    stub(http.StatusTeapot, "proxied"),
		Exposition: stub(http.StatusOK, ""),
	})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodGet, "/anything", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/things", strings.NewReader("{}")),
		httptest.NewRequest(http.MethodDelete, "/", nil),
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusTeapot {
			t.Errorf("%s %s status = %d, want gateway handler", req.Method, req.URL.Path, rec.Code)
		}
	}
}
