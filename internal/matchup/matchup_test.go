package matchup

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/music-arena/music-arena/internal/arena"
)

func keys(strs ...string) []arena.SystemKey {
	out := make([]arena.SystemKey, 0, len(strs))
	for _, s := range strs {
		key, err := arena.ParseSystemKey(s)
		if err != nil {
			panic(err)
		}
		out = append(out, key)
	}
	return out
}

func TestParseWeights(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		w, err := ParseWeights([]byte(`{"noise:quiet/noise:loud": 1.0, "noise:loud/sine:pure": 0.5}`))
		require.NoError(t, err)
		assert.Len(t, w, 2)
	})

	t.Run("malformed pair", func(t *testing.T) {
		_, err := ParseWeights([]byte(`{"noise:quiet": 1.0}`))
		assert.Error(t, err)
	})

	t.Run("negative weight", func(t *testing.T) {
		_, err := ParseWeights([]byte(`{"noise:quiet/noise:loud": -1}`))
		assert.Error(t, err)
	})
}

func TestSamplePairTooFewCandidates(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	_, err := SamplePair(keys("noise:quiet"), nil, rng)
	require.Error(t, err)
	assert.True(t, arena.IsCode(err, arena.CodeNoEligibleSystems))

	_, err = SamplePair(nil, nil, rng)
	require.Error(t, err)
	assert.True(t, arena.IsCode(err, arena.CodeNoEligibleSystems))
}

func TestSamplePairSingleWeightedPair(t *testing.T) {
	candidates := keys("noise:loud", "noise:quiet", "sine:pure")
	weights := Weights{"noise:quiet/noise:loud": 1.0}

	// every draw lands on the only weighted pair, in its configured order
	for seed := int64(0); seed < 20; seed++ {
		pair, err := SamplePair(candidates, weights, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		assert.Equal(t, "noise:quiet", pair.A.String())
		assert.Equal(t, "noise:loud", pair.B.String())
	}
}

func TestSamplePairRespectsCandidateFilter(t *testing.T) {
	// the weighted pair names a system that did not survive filtering, so
	// sampling falls back to uniform over the remaining ordered pairs
	candidates := keys("noise:loud", "noise:quiet")
	weights := Weights{"noise:quiet/sine:pure": 5.0}

	seen := map[string]bool{}
	for seed := int64(0); seed < 50; seed++ {
		pair, err := SamplePair(candidates, weights, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		assert.NotEqual(t, pair.A, pair.B)
		seen[pair.A.String()+"/"+pair.B.String()] = true
	}
	assert.Len(t, seen, 2)
	assert.True(t, seen["noise:loud/noise:quiet"])
	assert.True(t, seen["noise:quiet/noise:loud"])
}

func TestSamplePairUniformFallbackCoversAllOrderedPairs(t *testing.T) {
	candidates := keys("noise:loud", "noise:quiet", "sine:pure")

	seen := map[string]int{}
	for seed := int64(0); seed < 300; seed++ {
		pair, err := SamplePair(candidates, nil, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		seen[pair.A.String()+"/"+pair.B.String()]++
	}

	// 3 candidates give 6 ordered distinct pairs
	assert.Len(t, seen, 6)
	for pair, count := range seen {
		assert.Greater(t, count, 0, pair)
	}
}

func TestSamplePairDeterministicForEqualDraws(t *testing.T) {
	candidates := keys("noise:loud", "noise:quiet", "sine:pure")
	weights := Weights{
		"noise:quiet/noise:loud": 1.0,
		"noise:loud/sine:pure":   1.0,
	}

	first, err := SamplePair(candidates, weights, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	second, err := SamplePair(candidates, weights, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSamplePairZeroWeightsIgnored(t *testing.T) {
	candidates := keys("noise:loud", "noise:quiet", "sine:pure")
	weights := Weights{
		"noise:quiet/noise:loud": 0,
		"noise:loud/sine:pure":   2.0,
	}

	for seed := int64(0); seed < 20; seed++ {
		pair, err := SamplePair(candidates, weights, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		assert.Equal(t, "noise:loud", pair.A.String())
		assert.Equal(t, "sine:pure", pair.B.String())
	}
}

func TestSamplePairWeightProportions(t *testing.T) {
	candidates := keys("noise:loud", "noise:quiet", "sine:pure")
	weights := Weights{
		"noise:quiet/noise:loud": 9.0,
		"noise:loud/sine:pure":   1.0,
	}

	counts := map[string]int{}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		pair, err := SamplePair(candidates, weights, rng)
		require.NoError(t, err)
		counts[pair.A.String()+"/"+pair.B.String()]++
	}

	assert.Greater(t, counts["noise:quiet/noise:loud"], 800)
	assert.Greater(t, counts["noise:loud/sine:pure"], 20)
}
