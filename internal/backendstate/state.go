// Package backendstate implements the Backend Registry & State Store
// (spec.md §4.1) and the derived-weight formula (spec.md §3): the hard,
// invariant-bearing core of the manager.
package backendstate

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// unhealthyFloor is the fixed weight floor for an unhealthy backend
// (spec.md §3: "a small positive floor so the backend is only chosen when
// no other candidate exists").
const unhealthyFloor = 1e-4

// ErrBadSample is returned by AddSample for a negative or non-finite latency
// (spec.md §4.1: "otherwise the call fails with BadSample").
var ErrBadSample = errors.New("bad sample: latency must be finite and >= 0")

// Health is the per-backend state machine (spec.md §4.2): Unknown until the
// first sample or probe, then Healthy/Unhealthy for the rest of the
// process's life.
type Health int

const (
	Unknown Health = iota
	Healthy
	Unhealthy
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// State is an immutable snapshot of one backend's record. EWMALatencyS is
// nil until the first sample lands (spec.md §3: "Absent until the first
// sample").
type State struct {
	Name         string
	Alpha        float64
	EWMALatencyS *float64
	SampleCount  uint64
	LastSampleTS time.Time
	Healthy      bool
}

// HealthState classifies the snapshot per spec.md §4.2's three states.
func (s State) HealthState() Health {
	if s.SampleCount == 0 && s.EWMALatencyS == nil {
		return Unknown
	}
	if s.Healthy {
		return Healthy
	}
	return Unhealthy
}

// backendState is the mutable, lock-protected record behind one State
// snapshot.
type backendState struct {
	alpha        float64
	ewmaLatencyS *float64
	sampleCount  uint64
	lastSampleTS time.Time
	healthy      bool
}

func (b *backendState) snapshot(name string) State {
	var ewma *float64
	if b.ewmaLatencyS != nil {
		v := *b.ewmaLatencyS
		ewma = &v
	}
	return State{
		Name:         name,
		Alpha:        b.alpha,
		EWMALatencyS: ewma,
		SampleCount:  b.sampleCount,
		LastSampleTS: b.lastSampleTS,
		Healthy:      b.healthy,
	}
}

// applySample is the shared EWMA update rule used by both the probe loop
// and record ingestion (spec.md §3 invariant I2, §4.1: "both paths share
// the same update rule"). Must be called with the registry lock held.
func (b *backendState) applySample(latencyS float64, now time.Time) {
	if b.ewmaLatencyS == nil {
		v := latencyS
		b.ewmaLatencyS = &v
	} else {
		v := b.alpha*latencyS + (1-b.alpha)*(*b.ewmaLatencyS)
		b.ewmaLatencyS = &v
	}
	b.sampleCount++
	b.lastSampleTS = now
	b.healthy = true
}

// Registry is the single authoritative, in-memory map of backend name to
// BackendState (spec.md §4.1). All mutations are serialized under one
// exclusive lock; snapshot() copies out under the same lock so callers never
// observe a torn EWMA mid-update (spec.md §5).
type Registry struct {
	mu                  sync.Mutex
	backends            map[string]*backendState
	defaultAlpha        float64
	unhealthyDecay      float64
	unhealthySeedLatency float64
}

// Config bundles the policy constants spec.md §9 says should be
// configurable rather than hard-coded.
type Config struct {
	Alpha                float64
	UnhealthyDecayFactor float64
	UnhealthySeedLatency float64
}

// NewRegistry creates a Registry seeded with one Unknown BackendState per
// name in `names` (spec.md §3 lifecycle: "created at manager startup from
// the configured backend list; never destroyed for the life of the
// process").
func NewRegistry(names []string, cfg Config) *Registry {
	r := &Registry{
		backends:             make(map[string]*backendState, len(names)),
		defaultAlpha:         cfg.Alpha,
		unhealthyDecay:       cfg.UnhealthyDecayFactor,
		unhealthySeedLatency: cfg.UnhealthySeedLatency,
	}
	for _, n := range names {
		r.backends[n] = &backendState{alpha: cfg.Alpha}
	}
	return r
}

func (r *Registry) getOrCreateLocked(name string) *backendState {
	b, ok := r.backends[name]
	if !ok {
		b = &backendState{alpha: r.defaultAlpha}
		r.backends[name] = b
	}
	return b
}

// AddSample creates the BackendState if absent, applies the EWMA update,
// marks the backend healthy, and bumps sample_count (spec.md §4.1). Used by
// both the probe loop and /record ingestion.
func (r *Registry) AddSample(name string, latencyS float64) error {
	if math.IsNaN(latencyS) || math.IsInf(latencyS, 0) || latencyS < 0 {
		return fmt.Errorf("%w: backend=%s latency_s=%v", ErrBadSample, name, latencyS)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.getOrCreateLocked(name)
	b.applySample(latencyS, time.Now())
	return nil
}

// MarkUnhealthy sets healthy=false and decays the EWMA by the configured
// penalty factor so recovery is gradual, seeding a default latency if none
// exists yet (spec.md §4.1).
func (r *Registry) MarkUnhealthy(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.getOrCreateLocked(name)
	if b.ewmaLatencyS == nil {
		v := r.unhealthySeedLatency
		b.ewmaLatencyS = &v
	} else {
		v := *b.ewmaLatencyS * r.unhealthyDecay
		b.ewmaLatencyS = &v
	}
	b.healthy = false
}

// Snapshot returns an immutable copy of the full state map, safe to read
// after the lock is released (spec.md §4.1, §5).
func (r *Registry) Snapshot() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]State, len(r.backends))
	for name, b := range r.backends {
		out[name] = b.snapshot(name)
	}
	return out
}

// Names returns the names of every backend in the registry, including ones
// created by AddSample or MarkUnhealthy after startup, in no defined order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.backends))
	for name := range r.backends {
		out = append(out, name)
	}
	return out
}

// DerivedWeight computes the non-negative scalar from spec.md §3:
//   - absent EWMA  -> 1.0
//   - healthy      -> 1 / (epsilon + ewma)
//   - unhealthy    -> unhealthyFloor
func DerivedWeight(s State, epsilon float64) float64 {
	if s.EWMALatencyS == nil {
		return 1.0
	}
	if s.Healthy {
		return 1.0 / (epsilon + *s.EWMALatencyS)
	}
	return unhealthyFloor
}

// Normalize computes the derived-path weight set for /weights and the
// aegis_backend_weight gauge (spec.md §4.2 "Weight publication — Derived
// path"): inv = DerivedWeight per backend, normalized by the total, falling
// back to a uniform split if the total is zero.
func Normalize(snap map[string]State, epsilon float64) map[string]float64 {
	invs := make(map[string]float64, len(snap))
	var total float64
	for name, s := range snap {
		inv := DerivedWeight(s, epsilon)
		invs[name] = inv
		total += inv
	}
	out := make(map[string]float64, len(snap))
	n := len(snap)
	for name, inv := range invs {
		if total > 0 {
			out[name] = inv / total
		} else if n > 0 {
			out[name] = 1.0 / float64(n)
		}
	}
	return out
}
