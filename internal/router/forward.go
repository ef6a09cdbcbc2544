package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"aegis/internal/apierr"
)

// servePredict implements GET /predict (spec.md §4.3 "Forwarding", §6): pick
// a backend, forward the request, record the outcome asynchronously, retry
// once on failure per spec.md's "MAY retry on a different backend once".
func (rt *Router) servePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if !rt.inflight.TryAcquire(1) {
		rt.metrics.RequestsTotal.WithLabelValues("overloaded").Inc()
		apierr.Write(w, http.StatusServiceUnavailable, "overloaded", "max inflight requests reached")
		return
	}
	defer rt.inflight.Release(1)
	rt.metrics.Inflight.Inc()
	defer rt.metrics.Inflight.Dec()

	name, err := Select(rt.cache.Snapshot(), rt.backendNames)
	if err != nil {
		rt.metrics.RequestsTotal.WithLabelValues("no_candidate").Inc()
		apierr.NoCandidate(w)
		return
	}
	rt.metrics.BackendChosen.WithLabelValues(name).Inc()

	body, status, latency, ferr := rt.forwardOnce(r.Context(), name)
	triedName := name

	if ferr != nil || status >= 500 {
		if rt.cfg.RetryOnce {
			if retryName, rerr := rt.pickDifferent(name); rerr == nil {
				rt.metrics.BackendChosen.WithLabelValues(retryName).Inc()
				body, status, latency, ferr = rt.forwardOnce(r.Context(), retryName)
				triedName = retryName
			}
		}
	}

	if ferr != nil || status >= 500 {
		rt.metrics.ForwardFailures.Inc()
		rt.metrics.RequestsTotal.WithLabelValues("forward_error").Inc()
		detail := "backend returned a server error"
		if ferr != nil {
			detail = ferr.Error()
		}
		apierr.Upstream(w, detail)
		return
	}

	rt.metrics.RequestLatency.Observe(time.Since(start).Seconds())
	rt.metrics.RequestsTotal.WithLabelValues("ok").Inc()
	go rt.reportSample(triedName, latency, status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (rt *Router) pickDifferent(exclude string) (string, error) {
	remaining := make([]string, 0, len(rt.backendNames))
	for _, n := range rt.backendNames {
		if n != exclude {
			remaining = append(remaining, n)
		}
	}
	entries := rt.cache.Snapshot()
	filtered := make([]weightEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name != exclude {
			filtered = append(filtered, e)
		}
	}
	return Select(filtered, remaining)
}

// forwardOnce issues one forward to backend name, bounded by ForwardTimeout.
func (rt *Router) forwardOnce(ctx context.Context, name string) ([]byte, int, float64, error) {
	base, ok := rt.endpoints[name]
	if !ok {
		return nil, 0, 0, errUnknownBackend(name)
	}

	fctx, cancel := context.WithTimeout(ctx, rt.cfg.ForwardTimeout)
	defer cancel()

	url := strings.TrimRight(base, "/") + rt.cfg.ForwardPath
	req, err := http.NewRequestWithContext(fctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, 0, err
	}

	start := time.Now()
	resp, err := rt.client.Do(req)
	if err != nil {
		return nil, 0, 0, err
	}
	defer resp.Body.Close()

	latency := time.Since(start).Seconds()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, latency, err
	}
	return body, resp.StatusCode, latency, nil
}

// reportSample POSTs the observed (backend, latency, status) back to the
// manager's /record, fire-and-forget: a failure here must never fail the
// client request (spec.md §4.3 "Forwarding").
func (rt *Router) reportSample(name string, latencyS float64, statusCode int) {
	ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.RecordTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]interface{}{
		"backend":     name,
		"latency_s":   latencyS,
		"status_code": statusCode,
	})
	if err != nil {
		rt.logger.Warn("record payload encode failed", zap.String("backend", name), zap.Error(err))
		return
	}

	for _, base := range managerURLs(rt.cfg) {
		url := strings.TrimRight(base, "/") + "/record"
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := rt.client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		return
	}
	rt.logger.Debug("record post failed on all manager urls", zap.String("backend", name))
}
