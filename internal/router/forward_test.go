package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"aegis/internal/config"
	"aegis/internal/httpclient"
	"aegis/internal/telemetry"
)

type apierrBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func newTestRouter(t *testing.T, backendList, managerURLs string) *Router {
	t.Helper()
	cfg := &config.RouterConfig{
		BackendList:    backendList,
		ManagerURLs:    managerURLs,
		ForwardPath:    "/infer",
		PollInterval:   50 * time.Millisecond,
		WeightsTimeout: 200 * time.Millisecond,
		ForwardTimeout: 500 * time.Millisecond,
		RecordTimeout:  500 * time.Millisecond,
		MaxInflight:    64,
		HealthFloor:    1e-3,
		RetryOnce:      true,
	}
	logger := zap.NewNop()
	metrics := telemetry.NewRouterMetrics(nil)
	return New(cfg, httpclient.New(2*time.Second), metrics, logger)
}

func jsonOK(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}
}

// S1/S2-style: a forward to a selected, healthy backend succeeds end to end.
func TestServePredictForwardsToSelectedBackend(t *testing.T) {
	backend := httptest.NewServer(jsonOK(`{"result":"ok"}`))
	defer backend.Close()

	rt := newTestRouter(t, "b1="+backend.URL, "http://unused-manager")
	rt.cache.current.Store([]weightEntry{{Name: "b1", Weight: 1.0, Healthy: true}})

	req := httptest.NewRequest(http.MethodGet, "/predict", nil)
	rec := httptest.NewRecorder()
	rt.HTTPRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"result":"ok"}` {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

// Forwarding failure on the chosen backend retries once on a different
// backend (spec.md §4.3 "Forwarding").
func TestServePredictRetriesOnceOnFailure(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer down.Close()
	up := httptest.NewServer(jsonOK(`{"result":"recovered"}`))
	defer up.Close()

	rt := newTestRouter(t, "b1="+down.URL+",b2="+up.URL, "http://unused-manager")
	rt.cache.current.Store([]weightEntry{
		{Name: "b1", Weight: 100, Healthy: true},
		{Name: "b2", Weight: 0.001, Healthy: true},
	})

	req := httptest.NewRequest(http.MethodGet, "/predict", nil)
	rec := httptest.NewRecorder()
	rt.HTTPRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected retry to succeed with 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

// A 5xx response body is a forwarding failure just like a transport error:
// if both the original attempt and the retry return 5xx, the client gets
// the structured error envelope, never the backend's raw 5xx body
// (spec.md §4.3 "Forwarding").
func TestServePredictBothAttempts5xxReturnsStructuredError(t *testing.T) {
	down1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom1", http.StatusInternalServerError)
	}))
	defer down1.Close()
	down2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom2", http.StatusInternalServerError)
	}))
	defer down2.Close()

	rt := newTestRouter(t, "b1="+down1.URL+",b2="+down2.URL, "http://unused-manager")
	rt.cache.current.Store([]weightEntry{
		{Name: "b1", Weight: 1, Healthy: true},
		{Name: "b2", Weight: 1, Healthy: true},
	})

	req := httptest.NewRequest(http.MethodGet, "/predict", nil)
	rec := httptest.NewRecorder()
	rt.HTTPRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
	}
	var body apierrBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected structured error envelope, got %s: %v", rec.Body.String(), err)
	}
	if body.Error != "backend_failure" {
		t.Fatalf("expected backend_failure error, got %q", body.Error)
	}
}

// No candidate: an empty backend set yields 503 (spec.md §7).
func TestServePredictNoCandidateReturns503(t *testing.T) {
	rt := newTestRouter(t, "b1=http://unused", "http://unused-manager")
	rt.cache.current.Store([]weightEntry(nil))
	rt.backendNames = nil

	req := httptest.NewRequest(http.MethodGet, "/predict", nil)
	rec := httptest.NewRecorder()
	rt.HTTPRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHealthzReportsWeightsLiveness(t *testing.T) {
	rt := newTestRouter(t, "b1=http://x", "http://unused-manager")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	rt.HTTPRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode healthz: %v (body=%s)", err, rec.Body.String())
	}
	if live, ok := resp["weights_live"].(bool); !ok || live {
		t.Fatalf("expected weights_live=false before any poll, got %+v", resp["weights_live"])
	}
}
