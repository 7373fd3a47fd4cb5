package system

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/music-arena/music-arena/internal/arena"
)

func init() {
	Register("noise", NewNoise)
}

// Noise is the seeded white-noise baseline system. It exists to exercise
// the full battle path without a real model: output is deterministic in
// (prompt, seed) and generation is effectively free.
type Noise struct {
	gain           float64
	sampleRate     int
	numChannels    int
	maxDuration    float64
	supportsLyrics bool

	prepared bool
}

// NewNoise builds a Noise model from registry init kwargs.
func NewNoise(kwargs map[string]interface{}) (Model, error) {
	gain := floatKwarg(kwargs, "gain", 0.1)
	if gain < 0 || gain > 1 {
		return nil, fmt.Errorf("noise gain must be in [0, 1], got %g", gain)
	}
	return &Noise{
		gain:           gain,
		sampleRate:     intKwarg(kwargs, "sample_rate", 44100),
		numChannels:    intKwarg(kwargs, "num_channels", 1),
		maxDuration:    floatKwarg(kwargs, "max_duration", arena.MaxDurationSeconds),
		supportsLyrics: boolKwarg(kwargs, "supports_lyrics", false),
	}, nil
}

func (n *Noise) PromptSupport(p *arena.DetailedPrompt) arena.PromptSupport {
	if !p.Instrumental && !n.supportsLyrics {
		return arena.PromptUnsupportedLyrics
	}
	if p.Duration > n.maxDuration {
		return arena.PromptUnsupportedDuration
	}
	return arena.PromptSupported
}

func (n *Noise) Prepare(_ context.Context) error {
	n.prepared = true
	return nil
}

func (n *Noise) Release(_ context.Context) error {
	n.prepared = false
	return nil
}

func (n *Noise) GenerateBatch(ctx context.Context, prompts []*arena.DetailedPrompt, seed uint32) ([]*Output, error) {
	if !n.prepared {
		return nil, fmt.Errorf("noise model is not prepared")
	}

	outputs := make([]*Output, 0, len(prompts))
	for _, p := range prompts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rng := rand.New(rand.NewSource(int64(seed)))
		numSamples := int(p.Duration*float64(n.sampleRate)) * n.numChannels
		samples := make([]float64, numSamples)
		for i := range samples {
			samples[i] = (rng.Float64()*2 - 1) * n.gain
		}

		out := &Output{
			Audio:      EncodeWAV(samples, n.sampleRate, n.numChannels),
			Format:     "wav",
			SampleRate: n.sampleRate,
		}
		if n.supportsLyrics && !p.Instrumental {
			out.Lyrics = p.Lyrics
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}
