package router

import (
	"errors"
	"math/rand"
)

// ErrNoCandidate is returned when the backend set is genuinely empty
// (spec.md §7 "No candidate").
var ErrNoCandidate = errors.New("router: no candidate backend")

// Select implements spec.md §4.3's weighted random selection with health
// filtering and degradation fallback, grounded in
// original_source/router.py's select_backend and
// original_source/router_poll_weights.py's weighted_choice.
//
//   - entries nil/empty: weight acquisition failed or never succeeded,
//     fall back to uniform random over fallbackNames (S6).
//   - otherwise: filter to healthy entries (P4); if none are healthy,
//     degrade to the full entry set (P5); weighted-random pick over the
//     survivors, uniform if their total weight is non-positive.
func Select(entries []weightEntry, fallbackNames []string) (string, error) {
	if len(entries) == 0 {
		return selectUniform(fallbackNames)
	}

	candidates := filterHealthy(entries)
	if len(candidates) == 0 {
		candidates = entries
	}

	total := 0.0
	for _, c := range candidates {
		total += c.Weight
	}
	if total <= 0 {
		return selectUniform(names(candidates))
	}

	r := rand.Float64() * total
	upto := 0.0
	for _, c := range candidates { // candidates are already name-sorted (weights.go)
		upto += c.Weight
		if r <= upto {
			return c.Name, nil
		}
	}
	return candidates[len(candidates)-1].Name, nil
}

func filterHealthy(entries []weightEntry) []weightEntry {
	out := make([]weightEntry, 0, len(entries))
	for _, e := range entries {
		if e.Healthy {
			out = append(out, e)
		}
	}
	return out
}

func names(entries []weightEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func selectUniform(candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", ErrNoCandidate
	}
	return candidates[rand.Intn(len(candidates))], nil
}
