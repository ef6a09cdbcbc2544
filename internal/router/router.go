package router

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"aegis/internal/config"
	"aegis/internal/telemetry"
)

func errUnknownBackend(name string) error {
	return fmt.Errorf("router: unknown backend %q", name)
}

func managerURLs(cfg *config.RouterConfig) []string {
	return config.ManagerURLList(cfg.ManagerURLs)
}

// Router owns the weight cache, the configured backend endpoint table, and
// the collaborators the forwarding path shares (spec.md §4.3).
type Router struct {
	cfg          *config.RouterConfig
	cache        *WeightCache
	endpoints    map[string]string // backend name -> base URL
	backendNames []string          // stable order, used for uniform fallback (S6)
	client       *http.Client
	inflight     *semaphore.Weighted
	metrics      *telemetry.RouterMetrics
	logger       *zap.Logger
}

// New builds a Router from parsed configuration.
func New(cfg *config.RouterConfig, client *http.Client, metrics *telemetry.RouterMetrics, logger *zap.Logger) *Router {
	backends := config.ParseBackendList(cfg.BackendList)
	endpoints := make(map[string]string, len(backends))
	names := make([]string, 0, len(backends))
	for _, b := range backends {
		endpoints[b.Name] = b.URL
		names = append(names, b.Name)
	}

	return &Router{
		cfg:          cfg,
		cache:        NewWeightCache(cfg, client, logger),
		endpoints:    endpoints,
		backendNames: names,
		client:       client,
		inflight:     semaphore.NewWeighted(cfg.MaxInflight),
		metrics:      metrics,
		logger:       logger,
	}
}

// WeightCache exposes the background poller so cmd/router can run it
// alongside the HTTP server.
func (rt *Router) WeightCache() *WeightCache { return rt.cache }
