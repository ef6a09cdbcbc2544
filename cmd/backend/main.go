// Command backend runs a simulated inference worker: a single endpoint
// with gaussian latency and a configurable failure rate, standing in for
// the external backend workers spec.md §1 treats as out of scope.
package main

import (
	"encoding/json"
	"log"
	"math"
	"math/rand"
	"net/http"
	"time"

	"aegis/internal/config"
)

func main() {
	cfg, err := config.NewBackendConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	http.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if cfg.FailRate > 0 && rand.Float64() < cfg.FailRate {
			http.Error(w, "simulated backend failure", http.StatusInternalServerError)
			return
		}

		latencyMs := math.Max(0, rand.NormFloat64()*cfg.StdDevMS+cfg.MeanMS)
		time.Sleep(time.Duration(latencyMs * float64(time.Millisecond)))

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Backend-Name", cfg.Name)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"backend":    cfg.Name,
			"latency_ms": time.Since(start).Seconds() * 1000,
		})
	})

	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	log.Printf("backend %s listening on %s", cfg.Name, cfg.ListenAddr)
	log.Fatal(http.ListenAndServe(cfg.ListenAddr, nil))
}
