package router

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (rt *Router) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       "ok",
		"backends":     len(rt.backendNames),
		"weights_live": len(rt.cache.Snapshot()) > 0,
	})
}

// HTTPRouter builds the gorilla/mux router exposing the router's HTTP
// surface (spec.md §6 "Router HTTP surface").
func (rt *Router) HTTPRouter() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/predict", rt.servePredict).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", rt.handleHealthz).Methods(http.MethodGet)
	return r
}
