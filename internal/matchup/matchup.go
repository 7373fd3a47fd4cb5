// Package matchup samples the ordered pair of systems that will battle,
// honoring configured pair weights and falling back to uniform sampling.
package matchup

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/music-arena/music-arena/internal/arena"
)

// Weights maps ordered pair strings "a_key/b_key" to sampling weights.
// Entries naming systems outside the candidate set are ignored at sample
// time, so one weights file can serve registries of different sizes.
type Weights map[string]float64

// ParseWeights validates a weights JSON document. Every key must name two
// parseable system keys and weights must not be negative.
func ParseWeights(data []byte) (Weights, error) {
	var w Weights
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parse matchup weights: %w", err)
	}
	for pair, weight := range w {
		if _, _, err := splitPair(pair); err != nil {
			return nil, err
		}
		if weight < 0 {
			return nil, fmt.Errorf("matchup weight for %q is negative", pair)
		}
	}
	return w, nil
}

func splitPair(s string) (arena.SystemKey, arena.SystemKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return arena.SystemKey{}, arena.SystemKey{}, fmt.Errorf("invalid pair %q: expected a_key/b_key", s)
	}
	a, err := arena.ParseSystemKey(parts[0])
	if err != nil {
		return arena.SystemKey{}, arena.SystemKey{}, fmt.Errorf("invalid pair %q: %w", s, err)
	}
	b, err := arena.ParseSystemKey(parts[1])
	if err != nil {
		return arena.SystemKey{}, arena.SystemKey{}, fmt.Errorf("invalid pair %q: %w", s, err)
	}
	return a, b, nil
}

// Pair is an ordered matchup: A plays the left side, B the right.
type Pair struct {
	A arena.SystemKey
	B arena.SystemKey
}

type weightedPair struct {
	pair   Pair
	weight float64
}

// SamplePair draws one ordered pair from the candidate set. Configured
// weights restrict the draw to the pairs they name; when no configured pair
// survives the candidate filter, sampling is uniform over every ordered
// distinct pair. The walk order is deterministic so equal rng sequences
// always reproduce the same pick.
func SamplePair(candidates []arena.SystemKey, weights Weights, rng *rand.Rand) (Pair, error) {
	if len(candidates) < 2 {
		return Pair{}, arena.NewNoEligibleSystems(
			fmt.Sprintf("need at least 2 eligible systems, have %d", len(candidates)))
	}

	members := make(map[string]bool, len(candidates))
	for _, key := range candidates {
		members[key.String()] = true
	}

	var pairs []weightedPair
	for pairStr, weight := range weights {
		if weight <= 0 {
			continue
		}
		a, b, err := splitPair(pairStr)
		if err != nil {
			continue
		}
		if a == b || !members[a.String()] || !members[b.String()] {
			continue
		}
		pairs = append(pairs, weightedPair{pair: Pair{A: a, B: b}, weight: weight})
	}

	if len(pairs) == 0 {
		for _, a := range candidates {
			for _, b := range candidates {
				if a == b {
					continue
				}
				pairs = append(pairs, weightedPair{pair: Pair{A: a, B: b}, weight: 1})
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].pair.A != pairs[j].pair.A {
			return pairs[i].pair.A.Less(pairs[j].pair.A)
		}
		return pairs[i].pair.B.Less(pairs[j].pair.B)
	})

	var total float64
	for _, wp := range pairs {
		total += wp.weight
	}

	draw := rng.Float64() * total
	var cumulative float64
	for _, wp := range pairs {
		cumulative += wp.weight
		if draw < cumulative {
			return wp.pair, nil
		}
	}
	return pairs[len(pairs)-1].pair, nil
}
