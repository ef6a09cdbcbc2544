package manager

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aegis/internal/apierr"
)

// derivedEntry is one backend's entry in the derived-shape /weights
// response (spec.md §4.2, §6).
type derivedEntry struct {
	EWMAMs  *float64 `json:"ewma_ms"`
	Healthy int      `json:"healthy"`
}

// weightsResponse is the unified tagged shape this implementation chose for
// /weights (spec.md §9 "Two weight shapes" — resolved in DESIGN.md).
type weightsResponse struct {
	Mode    string      `json:"mode"`
	Entries interface{} `json:"entries"`
}

// wantsLegacyShape reports whether the caller asked for the untagged
// shapes spec.md §4.2 originally specified, via Accept: application/json;legacy=1.
func wantsLegacyShape(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "legacy=1")
}

// handleGetWeights implements GET /weights (spec.md §4.2, §6).
func (m *Manager) handleGetWeights(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if overrides, active := m.overrides.Snapshot(); active {
		if wantsLegacyShape(r) {
			json.NewEncoder(w).Encode(overrides)
			return
		}
		json.NewEncoder(w).Encode(weightsResponse{Mode: "override", Entries: overrides})
		return
	}

	snap := m.registry.Snapshot()
	entries := make(map[string]derivedEntry, len(snap))
	for name, s := range snap {
		health := 0
		if s.Healthy {
			health = 1
		}
		entries[name] = derivedEntry{EWMAMs: msPtr(s.EWMALatencyS), Healthy: health}
	}

	if wantsLegacyShape(r) {
		json.NewEncoder(w).Encode(entries)
		return
	}
	json.NewEncoder(w).Encode(weightsResponse{Mode: "derived", Entries: entries})
}

func msPtr(s *float64) *float64 {
	if s == nil {
		return nil
	}
	v := *s * 1000
	return &v
}

// recordPayload is the inbound shape for POST /record (spec.md §4.2, §6).
type recordPayload struct {
	Backend    string   `json:"backend"`
	LatencyS   *float64 `json:"latency_s"`
	StatusCode *int     `json:"status_code"`
}

// handleRecord implements POST /record. A record with a missing or >=500
// status_code must not itself mark the backend unhealthy (spec.md §4.2) —
// only the probe loop does that; a record still feeds the EWMA when a
// latency is present.
func (m *Manager) handleRecord(w http.ResponseWriter, r *http.Request) {
	var p recordPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		apierr.BadPayload(w, "malformed json body")
		return
	}
	if p.Backend == "" {
		apierr.BadPayload(w, "missing backend")
		return
	}
	if p.LatencyS == nil || *p.LatencyS < 0 {
		apierr.BadPayload(w, "missing or negative latency_s")
		return
	}

	if err := m.registry.AddSample(p.Backend, *p.LatencyS); err != nil {
		apierr.BadPayload(w, err.Error())
		return
	}

	m.metrics.RecordsTotal.Inc()
	m.publishMetrics()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleSetWeights implements POST /weights. Values may be a bare number or
// {"weight": number} (spec.md §9 supplement, grounded in
// original_source/manager.py's set_weights fallback). An empty body clears
// overrides, equivalent to DELETE (spec.md §6).
func (m *Manager) handleSetWeights(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			apierr.BadPayload(w, "malformed json body")
			return
		}
	}

	if len(raw) == 0 {
		m.overrides.Clear()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		return
	}

	cleaned := make(map[string]float64, len(raw))
	for name, msg := range raw {
		cleaned[name] = decodeWeightValue(msg)
	}

	applied := m.overrides.Set(cleaned)
	for name, v := range applied {
		m.metrics.BackendWeight.WithLabelValues(name).Set(v)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "applied": applied})
}

// decodeWeightValue accepts either a bare number or {"weight": number},
// defaulting to 1.0 when neither parses (mirrors
// original_source/manager.py's set_weights fallback chain).
func decodeWeightValue(msg json.RawMessage) float64 {
	var f float64
	if err := json.Unmarshal(msg, &f); err == nil {
		return f
	}
	var obj struct {
		Weight *float64 `json:"weight"`
	}
	if err := json.Unmarshal(msg, &obj); err == nil && obj.Weight != nil {
		return *obj.Weight
	}
	return 1.0
}

// handleClearWeights implements DELETE /weights (spec.md §6).
func (m *Manager) handleClearWeights(w http.ResponseWriter, r *http.Request) {
	m.overrides.Clear()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleHealthz implements GET /healthz, superset of spec.md §6's bare
// {"status":"ok"} with backend count and override-active for operators.
func (m *Manager) handleHealthz(w http.ResponseWriter, r *http.Request) {
	_, active := m.overrides.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":          "ok",
		"backends":        len(m.registry.Snapshot()),
		"override_active": active,
	})
}

// Router builds the gorilla/mux router exposing the manager's HTTP surface
// (spec.md §6), matching the teacher's src/main.go routing style.
func (m *Manager) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/weights", m.handleGetWeights).Methods(http.MethodGet)
	r.HandleFunc("/weights", m.handleSetWeights).Methods(http.MethodPost)
	r.HandleFunc("/weights", m.handleClearWeights).Methods(http.MethodDelete)
	r.HandleFunc("/record", m.handleRecord).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", m.handleHealthz).Methods(http.MethodGet)
	return r
}
