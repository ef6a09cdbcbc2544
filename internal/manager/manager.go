// Package manager implements the Manager component of spec.md §4.2: the
// probe loop, record ingestion, weight publication, and manual-override
// arbitration sitting on top of internal/backendstate.
package manager

import (
	"net/http"

	"go.uber.org/zap"

	"aegis/internal/backendstate"
	"aegis/internal/config"
	"aegis/internal/telemetry"
)

// Manager owns the registry, override map, backend endpoint table, and the
// collaborators (HTTP client, metrics, logger) the probe loop and HTTP
// handlers share.
type Manager struct {
	cfg       *config.ManagerConfig
	registry  *backendstate.Registry
	overrides *backendstate.OverrideMap
	endpoints map[string]string // backend name -> base URL
	client    *http.Client
	metrics   *telemetry.ManagerMetrics
	logger    *zap.Logger
}

// New builds a Manager from parsed configuration. The registry is seeded
// with one Unknown BackendState per configured backend (spec.md §3
// lifecycle).
func New(cfg *config.ManagerConfig, client *http.Client, metrics *telemetry.ManagerMetrics, logger *zap.Logger) *Manager {
	backends := config.ParseBackendList(cfg.BackendList)
	names := make([]string, 0, len(backends))
	endpoints := make(map[string]string, len(backends))
	for _, b := range backends {
		names = append(names, b.Name)
		endpoints[b.Name] = b.URL
	}

	registry := backendstate.NewRegistry(names, backendstate.Config{
		Alpha:                cfg.EWMAAlpha,
		UnhealthyDecayFactor: cfg.UnhealthyDecayFactor,
		UnhealthySeedLatency: cfg.UnhealthySeedLatencyS,
	})

	return &Manager{
		cfg:       cfg,
		registry:  registry,
		overrides: backendstate.NewOverrideMap(cfg.MinWeight, cfg.MaxWeight),
		endpoints: endpoints,
		client:    client,
		metrics:   metrics,
		logger:    logger,
	}
}

// publishMetrics reflects the current derived/override weights and health
// into the Prometheus gauges (spec.md §4.2 "Weight publication" and
// invariant I3: overrides "are themselves reflected into any metrics
// gauges").
func (m *Manager) publishMetrics() {
	snap := m.registry.Snapshot()
	for name, s := range snap {
		if s.EWMALatencyS != nil {
			m.metrics.BackendLatMs.WithLabelValues(name).Set(*s.EWMALatencyS * 1000)
		}
		health := 0.0
		if s.Healthy {
			health = 1.0
		}
		m.metrics.BackendHealth.WithLabelValues(name).Set(health)
	}

	if overrides, active := m.overrides.Snapshot(); active {
		for name, w := range overrides {
			m.metrics.BackendWeight.WithLabelValues(name).Set(w)
		}
		return
	}
	for name, w := range backendstate.Normalize(snap, m.cfg.EWMAEpsilon) {
		m.metrics.BackendWeight.WithLabelValues(name).Set(w)
	}
}
