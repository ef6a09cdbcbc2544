// Package router implements the Router component of spec.md §4.3: the
// background weight poller, weighted-random selection with health
// filtering and degradation, and request forwarding with a best-effort
// record post back to the manager.
package router

import (
	"encoding/json"
	"fmt"
	"sort"

	"aegis/internal/backendstate"
)

const weightEpsilon = 1e-3

// weightEntry is one backend's resolved selection weight, produced from
// whichever /weights shape the manager returned (spec.md §4.3 step 1).
type weightEntry struct {
	Name    string
	Weight  float64
	Healthy bool
}

type derivedValue struct {
	EWMAMs  *float64 `json:"ewma_ms"`
	Healthy int      `json:"healthy"`
}

// parseWeights accepts the tagged {"mode":...,"entries":...} shape this
// implementation's manager emits, and falls back to the two legacy shapes
// spec.md §4.2 describes, so a router built against this spec can still
// talk to an unmodified original_source-style manager.
func parseWeights(body []byte, healthFloor float64) ([]weightEntry, error) {
	var tagged struct {
		Mode    string          `json:"mode"`
		Entries json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(body, &tagged); err == nil && tagged.Mode != "" {
		return parseShape(tagged.Mode, tagged.Entries, healthFloor)
	}

	var derived map[string]derivedValue
	if err := json.Unmarshal(body, &derived); err == nil {
		return entriesFromDerived(derived), nil
	}

	var flat map[string]float64
	if err := json.Unmarshal(body, &flat); err == nil {
		return entriesFromFlat(flat, healthFloor), nil
	}

	return nil, fmt.Errorf("router: unrecognized /weights response shape")
}

func parseShape(mode string, raw json.RawMessage, healthFloor float64) ([]weightEntry, error) {
	if mode == "override" {
		var flat map[string]float64
		if err := json.Unmarshal(raw, &flat); err != nil {
			return nil, fmt.Errorf("router: decode override entries: %w", err)
		}
		return entriesFromFlat(flat, healthFloor), nil
	}
	var derived map[string]derivedValue
	if err := json.Unmarshal(raw, &derived); err != nil {
		return nil, fmt.Errorf("router: decode derived entries: %w", err)
	}
	return entriesFromDerived(derived), nil
}

// entriesFromDerived computes effective_weight per spec.md §3's derived
// weight formula, reusing backendstate.DerivedWeight so the router and
// manager apply identical arithmetic.
func entriesFromDerived(m map[string]derivedValue) []weightEntry {
	out := make([]weightEntry, 0, len(m))
	for name, v := range m {
		healthy := v.Healthy != 0
		var s backendstate.State
		s.Healthy = healthy
		if v.EWMAMs != nil {
			sec := *v.EWMAMs / 1000.0
			s.EWMALatencyS = &sec
		}
		out = append(out, weightEntry{Name: name, Weight: backendstate.DerivedWeight(s, weightEpsilon), Healthy: healthy})
	}
	sortEntries(out)
	return out
}

// entriesFromFlat treats the flat {name: float} shape as already-resolved
// weights, deriving healthy = weight > HEALTH_FLOOR per spec.md §4.3 step 1.
func entriesFromFlat(m map[string]float64, healthFloor float64) []weightEntry {
	out := make([]weightEntry, 0, len(m))
	for name, w := range m {
		out = append(out, weightEntry{Name: name, Weight: w, Healthy: w > healthFloor})
	}
	sortEntries(out)
	return out
}

func sortEntries(entries []weightEntry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}
