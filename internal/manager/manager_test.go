package manager

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"aegis/internal/config"
	"aegis/internal/httpclient"
	"aegis/internal/telemetry"
)

func newTestManager(t *testing.T, backendList string) *Manager {
	t.Helper()
	cfg := &config.ManagerConfig{
		BackendList:           backendList,
		EWMAAlpha:             0.2,
		ProbeInterval:         50 * time.Millisecond,
		ProbeTimeout:          200 * time.Millisecond,
		ProbePath:             "/predict",
		MinWeight:             0.05,
		MaxWeight:             100.0,
		UnhealthyDecayFactor:  1.5,
		UnhealthySeedLatencyS: 1.0,
		EWMAEpsilon:           1e-3,
	}
	logger := zap.NewNop()
	metrics := telemetry.NewManagerMetrics(nil)
	return New(cfg, httpclient.New(2*time.Second), metrics, logger)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rec.Body.String())
	}
}

// S4: POST /record for a previously-unknown backend creates it.
func TestRecordCreatesUnknownBackend(t *testing.T) {
	m := newTestManager(t, "b1=http://x,b2=http://y,b3=http://z")
	router := m.Router()

	body := `{"backend":"b4","latency_s":0.08}`
	req := httptest.NewRequest(http.MethodPost, "/record", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/weights", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var resp weightsResponse
	decodeBody(t, rec, &resp)
	entries, ok := resp.Entries.(map[string]interface{})
	if !ok {
		t.Fatalf("expected derived entries map, got %#v", resp.Entries)
	}
	if _, ok := entries["b4"]; !ok {
		t.Fatalf("expected b4 present in /weights, got %#v", entries)
	}
}

func TestRecordRejectsMissingFields(t *testing.T) {
	m := newTestManager(t, "b1=http://x")
	router := m.Router()

	for _, body := range []string{`{}`, `{"backend":"b1"}`, `{"backend":"","latency_s":0.1}`} {
		req := httptest.NewRequest(http.MethodPost, "/record", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body=%s: expected 400, got %d", body, rec.Code)
		}
	}
}

// S2: POST /weights clamps values and GET echoes them back verbatim
// (modulo clamping) until DELETE (S5).
func TestSetWeightsDominatesThenClears(t *testing.T) {
	m := newTestManager(t, "b1=http://x,b2=http://y,b3=http://z")
	router := m.Router()

	body := `{"b1":10,"b2":10,"b3":0}`
	req := httptest.NewRequest(http.MethodPost, "/weights", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var setResp struct {
		Status  string             `json:"status"`
		Applied map[string]float64 `json:"applied"`
	}
	decodeBody(t, rec, &setResp)
	if setResp.Applied["b3"] != 0.05 {
		t.Fatalf("expected b3 clamped to 0.05, got %v", setResp.Applied["b3"])
	}

	req = httptest.NewRequest(http.MethodGet, "/weights", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var getResp weightsResponse
	decodeBody(t, rec, &getResp)
	if getResp.Mode != "override" {
		t.Fatalf("expected override mode, got %s", getResp.Mode)
	}

	req = httptest.NewRequest(http.MethodDelete, "/weights", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/weights", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	decodeBody(t, rec, &getResp)
	if getResp.Mode != "derived" {
		t.Fatalf("expected derived mode after delete, got %s", getResp.Mode)
	}
}

func TestSetWeightsAcceptsWeightObjectForm(t *testing.T) {
	m := newTestManager(t, "b1=http://x")
	router := m.Router()

	body := `{"b1":{"weight":42}}`
	req := httptest.NewRequest(http.MethodPost, "/weights", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var setResp struct {
		Applied map[string]float64 `json:"applied"`
	}
	decodeBody(t, rec, &setResp)
	if setResp.Applied["b1"] != 42 {
		t.Fatalf("expected 42, got %v", setResp.Applied["b1"])
	}
}

func TestHealthzReportsBackendCount(t *testing.T) {
	m := newTestManager(t, "b1=http://x,b2=http://y")
	router := m.Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var resp map[string]interface{}
	decodeBody(t, rec, &resp)
	if resp["status"] != "ok" {
		t.Fatalf("expected ok status, got %+v", resp)
	}
	if int(resp["backends"].(float64)) != 2 {
		t.Fatalf("expected 2 backends, got %+v", resp["backends"])
	}
}

// S3: a probe failure marks a backend unhealthy with decayed EWMA; one
// successful probe later it re-enters the pool.
func TestProbeLoopMarksUnhealthyThenRecovers(t *testing.T) {
	healthy := make(chan bool, 1)
	healthy <- false

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case ok := <-healthy:
			if !ok {
				healthy <- false
				http.Error(w, "down", http.StatusServiceUnavailable)
				return
			}
			healthy <- true
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer backend.Close()

	m := newTestManager(t, "b1="+backend.URL)
	m.probeSweep(context.Background())
	snap := m.registry.Snapshot()["b1"]
	if snap.Healthy {
		t.Fatalf("expected unhealthy after failing probe")
	}

	<-healthy
	healthy <- true
	m.probeSweep(context.Background())
	snap = m.registry.Snapshot()["b1"]
	if !snap.Healthy {
		t.Fatalf("expected healthy after recovering probe")
	}
}
