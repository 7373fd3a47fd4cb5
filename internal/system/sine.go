package system

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/music-arena/music-arena/internal/arena"
)

func init() {
	Register("sine", NewSine)
}

// Sine renders a pure tone whose pitch is detuned by the seed, giving two
// battles with different seeds audibly different output.
type Sine struct {
	frequency      float64
	gain           float64
	sampleRate     int
	maxDuration    float64
	supportsLyrics bool

	prepared bool
}

// NewSine builds a Sine model from registry init kwargs.
func NewSine(kwargs map[string]interface{}) (Model, error) {
	frequency := floatKwarg(kwargs, "frequency", 440)
	if frequency <= 0 {
		return nil, fmt.Errorf("sine frequency must be positive, got %g", frequency)
	}
	return &Sine{
		frequency:      frequency,
		gain:           floatKwarg(kwargs, "gain", 0.5),
		sampleRate:     intKwarg(kwargs, "sample_rate", 44100),
		maxDuration:    floatKwarg(kwargs, "max_duration", arena.MaxDurationSeconds),
		supportsLyrics: boolKwarg(kwargs, "supports_lyrics", false),
	}, nil
}

func (s *Sine) PromptSupport(p *arena.DetailedPrompt) arena.PromptSupport {
	if !p.Instrumental && !s.supportsLyrics {
		return arena.PromptUnsupportedLyrics
	}
	if p.Duration > s.maxDuration {
		return arena.PromptUnsupportedDuration
	}
	return arena.PromptSupported
}

func (s *Sine) Prepare(_ context.Context) error {
	s.prepared = true
	return nil
}

func (s *Sine) Release(_ context.Context) error {
	s.prepared = false
	return nil
}

func (s *Sine) GenerateBatch(ctx context.Context, prompts []*arena.DetailedPrompt, seed uint32) ([]*Output, error) {
	if !s.prepared {
		return nil, fmt.Errorf("sine model is not prepared")
	}

	// detune up to a semitone either way, deterministic in the seed
	rng := rand.New(rand.NewSource(int64(seed)))
	detune := math.Pow(2, (rng.Float64()*2-1)/12)
	frequency := s.frequency * detune

	outputs := make([]*Output, 0, len(prompts))
	for _, p := range prompts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		numSamples := int(p.Duration * float64(s.sampleRate))
		samples := make([]float64, numSamples)
		step := 2 * math.Pi * frequency / float64(s.sampleRate)
		for i := range samples {
			samples[i] = math.Sin(float64(i)*step) * s.gain
		}

		out := &Output{
			Audio:      EncodeWAV(samples, s.sampleRate, 1),
			Format:     "wav",
			SampleRate: s.sampleRate,
		}
		if s.supportsLyrics && !p.Instrumental {
			out.Lyrics = p.Lyrics
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}
