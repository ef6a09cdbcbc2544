package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ManagerMetrics are the manager-side gauges/counters named in spec.md §6.
type ManagerMetrics struct {
	BackendWeight *prometheus.GaugeVec
	BackendLatMs  *prometheus.GaugeVec
	BackendHealth *prometheus.GaugeVec
	RecordsTotal  prometheus.Counter
	ProbeFailures *prometheus.CounterVec
}

// NewManagerMetrics registers and returns the manager's Prometheus collectors.
func NewManagerMetrics(reg prometheus.Registerer) *ManagerMetrics {
	factory := promauto.With(reg)
	return &ManagerMetrics{
		BackendWeight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_backend_weight",
			Help: "Normalized or overridden selection weight per backend.",
		}, []string{"backend"}),
		BackendLatMs: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_backend_lat_ms",
			Help: "EWMA latency per backend, in milliseconds.",
		}, []string{"backend"}),
		BackendHealth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aegis_backend_health",
			Help: "Backend health, 1 healthy / 0 unhealthy.",
		}, []string{"backend"}),
		RecordsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegis_manager_records_total",
			Help: "Total /record samples accepted by the manager.",
		}),
		ProbeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_manager_probe_failures_total",
			Help: "Total probe failures per backend.",
		}, []string{"backend"}),
	}
}

// RouterMetrics are the router-side counters/histograms named in spec.md §4.3.
type RouterMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	ForwardFailures prometheus.Counter
	BackendChosen   *prometheus.CounterVec
	RequestLatency  prometheus.Histogram
	Inflight        prometheus.Gauge
}

// NewRouterMetrics registers and returns the router's Prometheus collectors.
func NewRouterMetrics(reg prometheus.Registerer) *RouterMetrics {
	factory := promauto.With(reg)
	return &RouterMetrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_router_requests_total",
			Help: "Total incoming /predict requests by status.",
		}, []string{"status"}),
		ForwardFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "aegis_router_forward_failures_total",
			Help: "Total forwards that failed after any retry.",
		}),
		BackendChosen: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_router_backend_chosen_total",
			Help: "Selections per backend.",
		}, []string{"backend"}),
		RequestLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "aegis_router_request_latency_seconds",
			Help:    "End-to-end /predict latency.",
			Buckets: prometheus.DefBuckets,
		}),
		Inflight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_router_inflight_requests",
			Help: "Requests currently in flight toward backends.",
		}),
	}
}
