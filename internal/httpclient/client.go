// Package httpclient builds pooled, timeout-bound *http.Client instances
// shared across probe, forward, record, and weights-fetch call sites
// (spec.md §5: "HTTP client(s): pooled and shared across handlers").
package httpclient

import (
	"net/http"
	"time"
)

// New returns an *http.Client with the given per-call timeout, backed by a
// transport that reuses connections and reclaims idle ones.
func New(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}
