// Package config loads process configuration from environment variables
// for the manager, router, and backend binaries.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
)

// Backend is one entry of BACKEND_LIST: a stable name paired with a
// reachable endpoint.
type Backend struct {
	Name string
	URL  string
}

// ManagerConfig configures cmd/manager.
type ManagerConfig struct {
	ListenAddr    string        `env:"MANAGER_LISTEN_ADDR" envDefault:":8001"`
	BackendList   string        `env:"BACKEND_LIST" envDefault:"backend1=http://localhost:8101,backend2=http://localhost:8102,backend3=http://localhost:8103"`
	ProbePath     string        `env:"BACKEND_HEALTH_PATH" envDefault:"/predict"`
	EWMAAlpha     float64       `env:"EWMA_ALPHA" envDefault:"0.2"`
	ProbeInterval time.Duration `env:"PROBE_INTERVAL" envDefault:"1s"`
	ProbeTimeout  time.Duration `env:"PROBE_TIMEOUT" envDefault:"2s"`
	MinWeight     float64       `env:"MIN_WEIGHT" envDefault:"0.05"`
	MaxWeight     float64       `env:"MAX_WEIGHT" envDefault:"100.0"`

	// Policy constants spec.md §9 flags as configurable rather than fixed.
	UnhealthyDecayFactor  float64 `env:"UNHEALTHY_DECAY_FACTOR" envDefault:"1.5"`
	UnhealthySeedLatencyS float64 `env:"UNHEALTHY_SEED_LATENCY_S" envDefault:"1.0"`
	EWMAEpsilon           float64 `env:"EWMA_EPSILON" envDefault:"0.001"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// RouterConfig configures cmd/router.
type RouterConfig struct {
	ListenAddr   string        `env:"ROUTER_LISTEN_ADDR" envDefault:":8000"`
	ManagerURLs  string        `env:"MANAGER_URL" envDefault:"http://localhost:8001"`
	BackendList  string        `env:"BACKEND_LIST" envDefault:"backend1=http://localhost:8101,backend2=http://localhost:8102,backend3=http://localhost:8103"`
	ForwardPath  string        `env:"FORWARD_PATH" envDefault:"/predict"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	WeightsTimeout time.Duration `env:"WEIGHTS_TIMEOUT" envDefault:"2s"`
	ForwardTimeout time.Duration `env:"FORWARD_TIMEOUT" envDefault:"8s"`
	RecordTimeout  time.Duration `env:"RECORD_TIMEOUT" envDefault:"1s"`
	MaxInflight    int64         `env:"MAX_INFLIGHT" envDefault:"256"`
	HealthFloor    float64       `env:"HEALTH_FLOOR" envDefault:"0.001"`
	RetryOnce      bool          `env:"FORWARD_RETRY_ONCE" envDefault:"true"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// BackendConfig configures cmd/backend, the simulated inference worker used
// by load generators and manual end-to-end runs; the repo's Go tests use
// httptest servers instead. It is an external collaborator per spec.md §1.
type BackendConfig struct {
	ListenAddr string  `env:"BACKEND_LISTEN_ADDR" envDefault:":8101"`
	Name       string  `env:"BACKEND_NAME" envDefault:"backend1"`
	MeanMS     float64 `env:"MEAN_MS" envDefault:"50"`
	StdDevMS   float64 `env:"STD_MS" envDefault:"10"`
	FailRate   float64 `env:"FAIL_RATE" envDefault:"0.0"`
}

// NewManagerConfig parses ManagerConfig from the environment and validates it.
func NewManagerConfig() (*ManagerConfig, error) {
	c := &ManagerConfig{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse manager config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("manager config: %w", err)
	}
	return c, nil
}

// Validate rejects configuration that would make the manager unable to start.
func (c *ManagerConfig) Validate() error {
	if c.EWMAAlpha <= 0 || c.EWMAAlpha >= 1 {
		return fmt.Errorf("ewma_alpha must be in (0,1), got %f", c.EWMAAlpha)
	}
	if c.MinWeight <= 0 || c.MaxWeight <= c.MinWeight {
		return fmt.Errorf("min_weight/max_weight invalid: min=%f max=%f", c.MinWeight, c.MaxWeight)
	}
	if len(ParseBackendList(c.BackendList)) == 0 {
		return fmt.Errorf("backend_list must name at least one backend")
	}
	return nil
}

// NewRouterConfig parses RouterConfig from the environment and validates it.
func NewRouterConfig() (*RouterConfig, error) {
	c := &RouterConfig{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse router config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("router config: %w", err)
	}
	return c, nil
}

// Validate rejects configuration that would make the router unable to start.
func (c *RouterConfig) Validate() error {
	if len(ParseBackendList(c.BackendList)) == 0 {
		return fmt.Errorf("backend_list must name at least one backend")
	}
	if c.MaxInflight <= 0 {
		return fmt.Errorf("max_inflight must be positive, got %d", c.MaxInflight)
	}
	if len(ManagerURLList(c.ManagerURLs)) == 0 {
		return fmt.Errorf("manager_url must name at least one manager endpoint")
	}
	return nil
}

// NewBackendConfig parses BackendConfig from the environment.
func NewBackendConfig() (*BackendConfig, error) {
	c := &BackendConfig{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parse backend config: %w", err)
	}
	return c, nil
}

// ParseBackendList parses "name1=url1,name2=url2" into a stable-ordered slice.
func ParseBackendList(s string) []Backend {
	var out []Backend
	for _, pair := range splitNonEmpty(s, ",") {
		name, url, ok := strings.Cut(pair, "=")
		if !ok || name == "" || url == "" {
			continue
		}
		out = append(out, Backend{Name: name, URL: url})
	}
	return out
}

// ManagerURLList parses a comma-separated MANAGER_URL into an ordered list,
// tried in order by the router's background poller (§4.3 supplement).
func ManagerURLList(s string) []string {
	return splitNonEmpty(s, ",")
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
