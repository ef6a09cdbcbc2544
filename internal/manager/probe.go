package manager

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RunProbeLoop runs the probe loop (spec.md §4.2) until ctx is canceled: on
// PROBE_INTERVAL, issue one GET per configured backend concurrently, each
// bounded by its own ProbeTimeout, feed successes through AddSample and
// failures through MarkUnhealthy, then republish the weight gauges.
func (m *Manager) RunProbeLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A sweep is allowed up to 3x the interval before being dropped
			// (spec.md §5 "Cancellation & timeouts").
			sweepCtx, cancel := context.WithTimeout(ctx, 3*m.cfg.ProbeInterval)
			m.probeSweep(sweepCtx)
			cancel()
			m.publishMetrics()
		}
	}
}

func (m *Manager) probeSweep(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)
	for name, base := range m.endpoints {
		name, base := name, base
		g.Go(func() error {
			m.probeOne(gctx, name, base)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) probeOne(ctx context.Context, name, base string) {
	attemptCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, base+m.cfg.ProbePath, nil)
	if err != nil {
		m.failProbe(name, err)
		return
	}

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		m.failProbe(name, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.failProbe(name, nil)
		return
	}

	latency := time.Since(start).Seconds()
	if err := m.registry.AddSample(name, latency); err != nil {
		m.logger.Warn("probe produced bad sample", zap.String("backend", name), zap.Error(err))
	}
}

func (m *Manager) failProbe(name string, err error) {
	m.registry.MarkUnhealthy(name)
	m.metrics.ProbeFailures.WithLabelValues(name).Inc()
	if err != nil {
		m.logger.Debug("probe failed", zap.String("backend", name), zap.Error(err))
	} else {
		m.logger.Debug("probe failed: non-2xx", zap.String("backend", name))
	}
}
