package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/music-arena/music-arena/internal/arena"
	"github.com/music-arena/music-arena/internal/observability"
)

// DefaultConfigTag is the pipeline configuration used when none is set.
const DefaultConfigTag = "4o-v00"

const (
	moderateMaxTokens = 64
	routeMaxTokens    = 256
	lyricsMaxTokens   = 512
)

// Config pins the provider and model behind a pipeline tag. The tag is part
// of every cache key so results from different configs never mix.
type Config struct {
	Tag      string
	Provider string
	Model    string
}

// ConfigForTag resolves a named pipeline configuration.
func ConfigForTag(tag string) (Config, error) {
	switch tag {
	case "4o-v00":
		return Config{Tag: tag, Provider: providerNameOpenAI, Model: "gpt-4o"}, nil
	case "4o-mini-v00":
		return Config{Tag: tag, Provider: providerNameOpenAI, Model: "gpt-4o-mini"}, nil
	case "flash-v00":
		return Config{Tag: tag, Provider: providerNameGemini, Model: "gemini-2.0-flash"}, nil
	default:
		return Config{}, fmt.Errorf("unknown chat config tag %q", tag)
	}
}

// Prompts carries the system prompts for the three pipeline stages.
type Prompts struct {
	ModerateSystem string
	RouteSystem    string
	RouteExamples  string
	LyricsSystem   string
}

// ModerationResult is the verdict for one prompt.
type ModerationResult struct {
	Safe   bool   `json:"safe"`
	Reason string `json:"reason"`
}

type cacheKey struct {
	checksum string
	tag      string
}

// Pipeline runs the three LLM stages in front of battle generation. Every
// stage is idempotent: results are cached by (text checksum, config tag) so
// retries and resamples never re-bill the same prompt.
type Pipeline struct {
	provider Provider
	cfg      Config
	prompts  Prompts

	mu            sync.Mutex
	moderateCache map[cacheKey]*ModerationResult
	routeCache    map[cacheKey]*arena.DetailedPrompt
	lyricsCache   map[cacheKey]string
}

func NewPipeline(provider Provider, cfg Config, prompts Prompts) *Pipeline {
	return &Pipeline{
		provider:      provider,
		cfg:           cfg,
		prompts:       prompts,
		moderateCache: make(map[cacheKey]*ModerationResult),
		routeCache:    make(map[cacheKey]*arena.DetailedPrompt),
		lyricsCache:   make(map[cacheKey]string),
	}
}

// Moderate classifies a prompt as safe or unsafe. Transport failures come
// back as errors; an unsafe verdict is a successful result.
func (p *Pipeline) Moderate(ctx context.Context, text string) (*ModerationResult, error) {
	key := cacheKey{checksum: arena.TextChecksum(text), tag: p.cfg.Tag}

	p.mu.Lock()
	if cached, ok := p.moderateCache[key]; ok {
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	trace := observability.GetClient().StartTrace(ctx, "prompt.moderate", map[string]interface{}{
		"config_tag": p.cfg.Tag,
	})
	defer trace.Finish()
	gen := trace.Generation("moderate", nil)
	gen.Input(text)

	resp, err := p.provider.Complete(ctx, &CompletionRequest{
		Model:           p.cfg.Model,
		SystemPrompt:    p.prompts.ModerateSystem,
		Messages:        []Message{{Role: userRole, Content: text}},
		MaxOutputTokens: moderateMaxTokens,
		OutputSchema: &OutputSchema{
			Name: "moderation_verdict",
			Schema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"safe": map[string]interface{}{
						"type":        "boolean",
						"description": "Whether the prompt is safe to send to music generation systems",
					},
					"reason": map[string]interface{}{
						"type":        "string",
						"description": "Short explanation when the prompt is unsafe, empty otherwise",
					},
				},
				"required":             []string{"safe", "reason"},
				"additionalProperties": false,
			},
		},
	})
	if err != nil {
		gen.SetLevel("ERROR")
		gen.Finish()
		return nil, fmt.Errorf("moderate: %w", err)
	}

	var result ModerationResult
	if err := json.Unmarshal([]byte(resp.Text), &result); err != nil {
		gen.SetLevel("ERROR")
		gen.Finish()
		return nil, fmt.Errorf("moderate: parse verdict %q: %w", truncateString(resp.Text, maxPreviewChars), err)
	}

	gen.Output(result)
	gen.Usage(p.cfg.Model, resp.InputTokens, resp.OutputTokens, resp.TotalTokens)
	gen.Finish()

	p.mu.Lock()
	p.moderateCache[key] = &result
	p.mu.Unlock()
	return &result, nil
}

// routeDecision is the structured output of the routing stage.
type routeDecision struct {
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	LyricsTheme  string  `json:"lyrics_theme"`
	LyricsStyle  string  `json:"lyrics_style"`
}

// Route turns a free-text prompt into a DetailedPrompt. Callers get a fresh
// clone so filling in seeds or lyrics never mutates the cache.
func (p *Pipeline) Route(ctx context.Context, text string) (*arena.DetailedPrompt, error) {
	key := cacheKey{checksum: arena.TextChecksum(text), tag: p.cfg.Tag}

	p.mu.Lock()
	if cached, ok := p.routeCache[key]; ok {
		p.mu.Unlock()
		return cached.Clone(), nil
	}
	p.mu.Unlock()

	trace := observability.GetClient().StartTrace(ctx, "prompt.route", map[string]interface{}{
		"config_tag": p.cfg.Tag,
	})
	defer trace.Finish()
	gen := trace.Generation("route", nil)
	gen.Input(text)

	messages := []Message{}
	if p.prompts.RouteExamples != "" {
		messages = append(messages, Message{Role: developerRole, Content: p.prompts.RouteExamples})
	}
	messages = append(messages, Message{Role: userRole, Content: text})

	resp, err := p.provider.Complete(ctx, &CompletionRequest{
		Model:           p.cfg.Model,
		SystemPrompt:    p.prompts.RouteSystem,
		Messages:        messages,
		MaxOutputTokens: routeMaxTokens,
		OutputSchema: &OutputSchema{
			Name: "route_decision",
			Schema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"duration": map[string]interface{}{
						"type":        "number",
						"description": "Target clip length in seconds",
					},
					"instrumental": map[string]interface{}{
						"type":        "boolean",
						"description": "Whether the clip should have no vocals",
					},
					"lyrics_theme": map[string]interface{}{
						"type":        "string",
						"description": "Theme for lyrics when vocals are wanted, empty otherwise",
					},
					"lyrics_style": map[string]interface{}{
						"type":        "string",
						"description": "Style for lyrics when vocals are wanted, empty otherwise",
					},
				},
				"required":             []string{"duration", "instrumental", "lyrics_theme", "lyrics_style"},
				"additionalProperties": false,
			},
		},
	})
	if err != nil {
		gen.SetLevel("ERROR")
		gen.Finish()
		return nil, fmt.Errorf("route: %w", err)
	}

	var decision routeDecision
	if err := json.Unmarshal([]byte(resp.Text), &decision); err != nil {
		gen.SetLevel("ERROR")
		gen.Finish()
		return nil, fmt.Errorf("route: parse decision %q: %w", truncateString(resp.Text, maxPreviewChars), err)
	}

	detailed := &arena.DetailedPrompt{
		OverallPrompt: text,
		Duration:      clampDuration(decision.Duration),
		Instrumental:  decision.Instrumental,
	}
	if !decision.Instrumental {
		detailed.LyricsTheme = decision.LyricsTheme
		detailed.LyricsStyle = decision.LyricsStyle
	}

	gen.Output(detailed)
	gen.Usage(p.cfg.Model, resp.InputTokens, resp.OutputTokens, resp.TotalTokens)
	gen.Finish()

	p.mu.Lock()
	p.routeCache[key] = detailed
	p.mu.Unlock()
	return detailed.Clone(), nil
}

// GenerateLyrics writes lyrics for a routed prompt that wants vocals.
func (p *Pipeline) GenerateLyrics(ctx context.Context, prompt *arena.DetailedPrompt) (string, error) {
	input := lyricsInput(prompt)
	key := cacheKey{checksum: arena.TextChecksum(input), tag: p.cfg.Tag}

	p.mu.Lock()
	if cached, ok := p.lyricsCache[key]; ok {
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	trace := observability.GetClient().StartTrace(ctx, "prompt.lyrics", map[string]interface{}{
		"config_tag": p.cfg.Tag,
	})
	defer trace.Finish()
	gen := trace.Generation("lyrics", nil)
	gen.Input(input)

	resp, err := p.provider.Complete(ctx, &CompletionRequest{
		Model:           p.cfg.Model,
		SystemPrompt:    p.prompts.LyricsSystem,
		Messages:        []Message{{Role: userRole, Content: input}},
		MaxOutputTokens: lyricsMaxTokens,
	})
	if err != nil {
		gen.SetLevel("ERROR")
		gen.Finish()
		return "", fmt.Errorf("lyrics: %w", err)
	}

	lyrics := strings.TrimSpace(resp.Text)
	if lyrics == "" {
		gen.SetLevel("ERROR")
		gen.Finish()
		return "", fmt.Errorf("lyrics: model returned empty output")
	}

	gen.Output(lyrics)
	gen.Usage(p.cfg.Model, resp.InputTokens, resp.OutputTokens, resp.TotalTokens)
	gen.Finish()

	p.mu.Lock()
	p.lyricsCache[key] = lyrics
	p.mu.Unlock()
	return lyrics, nil
}

func lyricsInput(prompt *arena.DetailedPrompt) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Prompt: %s\n", prompt.OverallPrompt)
	fmt.Fprintf(&b, "Duration: %.0f seconds\n", prompt.Duration)
	if prompt.LyricsTheme != "" {
		fmt.Fprintf(&b, "Theme: %s\n", prompt.LyricsTheme)
	}
	if prompt.LyricsStyle != "" {
		fmt.Fprintf(&b, "Style: %s\n", prompt.LyricsStyle)
	}
	return b.String()
}

func clampDuration(d float64) float64 {
	if d <= 0 {
		return arena.DefaultDurationSeconds
	}
	if d > arena.MaxDurationSeconds {
		return arena.MaxDurationSeconds
	}
	return d
}
