package router

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"aegis/internal/config"
)

var errAllManagersUnreachable = errors.New("router: all manager urls unreachable")

// WeightCache is the router's background-poll weight store (spec.md §4.3
// "poll-in-background", the strategy a conforming implementation MUST
// support). Reads are lock-free via atomic.Value; the request path never
// blocks on the manager.
type WeightCache struct {
	cfg    *config.RouterConfig
	client *http.Client
	logger *zap.Logger

	current atomic.Value // holds []weightEntry
}

func NewWeightCache(cfg *config.RouterConfig, client *http.Client, logger *zap.Logger) *WeightCache {
	wc := &WeightCache{cfg: cfg, client: client, logger: logger}
	wc.current.Store([]weightEntry(nil))
	return wc
}

// Snapshot returns the most recently polled weight entries, or nil if the
// manager has never been reachable (callers fall back to uniform
// selection over the configured backend list in that case).
func (wc *WeightCache) Snapshot() []weightEntry {
	return wc.current.Load().([]weightEntry)
}

// Run polls the MANAGER_URL list, trying each in order, every POLL_INTERVAL until
// ctx is canceled (original_source/router_poll_weights.py's poll loop,
// generalized to the multi-URL fallback chain it and spec.md §4.3
// describe). A failed poll keeps the last-known-good cache in place.
func (wc *WeightCache) Run(ctx context.Context) {
	wc.refresh(ctx)

	ticker := time.NewTicker(wc.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wc.refresh(ctx)
		}
	}
}

func (wc *WeightCache) refresh(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, wc.cfg.WeightsTimeout)
	defer cancel()

	urls := config.ManagerURLList(wc.cfg.ManagerURLs)
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 2), fetchCtx)

	var body []byte
	err := backoff.Retry(func() error {
		for _, base := range urls {
			b, ferr := wc.fetchOne(fetchCtx, base)
			if ferr == nil {
				body = b
				return nil
			}
		}
		return errAllManagersUnreachable
	}, policy)
	if err != nil {
		wc.logger.Warn("weight poll failed, keeping last-known cache", zap.Error(err))
		return
	}

	entries, perr := parseWeights(body, wc.cfg.HealthFloor)
	if perr != nil {
		wc.logger.Warn("weight poll returned unparsable body", zap.Error(perr))
		return
	}
	wc.current.Store(entries)
}

func (wc *WeightCache) fetchOne(ctx context.Context, base string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/weights", nil)
	if err != nil {
		return nil, err
	}
	resp, err := wc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errAllManagersUnreachable
	}
	return io.ReadAll(resp.Body)
}
