package router

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func derivedEntries(msByName map[string]float64, unhealthy map[string]bool) []weightEntry {
	out := make([]weightEntry, 0, len(msByName))
	for name, ms := range msByName {
		sec := ms / 1000.0
		healthy := !unhealthy[name]
		weight := 1.0 / (weightEpsilon + sec)
		if !healthy {
			weight = unhealthyFloorForTest
		}
		out = append(out, weightEntry{Name: name, Weight: weight, Healthy: healthy})
	}
	sortEntries(out)
	return out
}

const unhealthyFloorForTest = 1e-4

// P3: selection distribution converges to wi/sum(w) for fixed weights over
// K >> N draws (spec.md §8, scenario S1).
func TestSelectDistributionConvergesP3(t *testing.T) {
	entries := derivedEntries(map[string]float64{"b1": 50, "b2": 100, "b3": 200}, nil)
	want := map[string]float64{"b1": 0.571, "b2": 0.286, "b3": 0.143}

	const batches, perBatch = 20, 1000
	shares := make([]float64, batches)
	for b := 0; b < batches; b++ {
		counts := map[string]int{}
		for i := 0; i < perBatch; i++ {
			name, err := Select(entries, nil)
			require.NoError(t, err)
			counts[name]++
		}
		shares[b] = float64(counts["b1"]) / float64(perBatch)
	}

	mean := stat.Mean(shares, nil)
	if diff := mean - want["b1"]; diff < -0.03 || diff > 0.03 {
		t.Fatalf("b1 empirical share %v too far from expected %v", mean, want["b1"])
	}
}

// P4: if any backend is healthy, no unhealthy backend is ever selected.
func TestSelectNeverPicksUnhealthyWhenHealthyExists(t *testing.T) {
	entries := derivedEntries(map[string]float64{"b1": 50, "b2": 100}, map[string]bool{"b2": true})
	for i := 0; i < 500; i++ {
		name, err := Select(entries, nil)
		require.NoError(t, err)
		if name == "b2" {
			t.Fatalf("unhealthy backend b2 was selected")
		}
	}
}

// P5: if all backends are unhealthy, selection still returns one of them.
func TestSelectDegradesWhenAllUnhealthy(t *testing.T) {
	entries := derivedEntries(map[string]float64{"b1": 50, "b2": 100}, map[string]bool{"b1": true, "b2": true})
	name, err := Select(entries, nil)
	require.NoError(t, err)
	if name != "b1" && name != "b2" {
		t.Fatalf("expected degraded selection among b1/b2, got %s", name)
	}
}

func TestSelectEmptyBackendSetErrors(t *testing.T) {
	_, err := Select(nil, nil)
	require.ErrorIs(t, err, ErrNoCandidate)
}

// S6: with no weights available (manager unreachable), selection falls
// back to uniform random over the configured backend list.
func TestSelectFallsBackToUniformWithoutWeights(t *testing.T) {
	names := []string{"b1", "b2", "b3"}
	counts := map[string]int{}
	for i := 0; i < 3000; i++ {
		name, err := Select(nil, names)
		require.NoError(t, err)
		counts[name]++
	}
	for _, n := range names {
		share := float64(counts[n]) / 3000.0
		if share < 0.28 || share > 0.39 {
			t.Fatalf("backend %s uniform share out of range: %v", n, share)
		}
	}
}
