package arena

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MaxDurationSeconds caps how much audio a single battle request may ask for.
const MaxDurationSeconds = 300.0

// DefaultDurationSeconds is used when routing cannot infer a duration from
// the user's prompt.
const DefaultDurationSeconds = 10.0

// PromptSupport describes whether a system can generate audio for a prompt.
type PromptSupport string

const (
	PromptSupported           PromptSupport = "SUPPORTED"
	PromptUnsupported         PromptSupport = "UNSUPPORTED"
	PromptUnsupportedLyrics   PromptSupport = "UNSUPPORTED_LYRICS"
	PromptUnsupportedDuration PromptSupport = "UNSUPPORTED_DURATION"
)

// SimplePrompt is the free-text prompt a listener types into the arena,
// plus the few knobs the frontend exposes directly.
type SimplePrompt struct {
	Prompt       string   `json:"prompt"`
	Duration     *float64 `json:"duration,omitempty"`
	Instrumental *bool    `json:"instrumental,omitempty"`
}

// Validate checks the free-text prompt before routing.
func (p SimplePrompt) Validate() error {
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("prompt must not be empty")
	}
	if p.Duration != nil && (*p.Duration <= 0 || *p.Duration > MaxDurationSeconds) {
		return fmt.Errorf("duration must be in (0, %g], got %g", MaxDurationSeconds, *p.Duration)
	}
	return nil
}

// DetailedPrompt is the fully routed prompt sent to generation systems.
// Either the frontend supplies it directly or the routing pipeline derives
// it from a SimplePrompt.
type DetailedPrompt struct {
	OverallPrompt string  `json:"overall_prompt"`
	Duration      float64 `json:"duration"`
	Instrumental  bool    `json:"instrumental"`
	Lyrics        string  `json:"lyrics,omitempty"`
	LyricsTheme   string  `json:"lyrics_theme,omitempty"`
	LyricsStyle   string  `json:"lyrics_style,omitempty"`
	Seed          *uint32 `json:"seed,omitempty"`
}

// Validate enforces the duration bounds and the instrumental contract.
func (p *DetailedPrompt) Validate() error {
	if strings.TrimSpace(p.OverallPrompt) == "" {
		return fmt.Errorf("overall_prompt must not be empty")
	}
	if p.Duration <= 0 || p.Duration > MaxDurationSeconds {
		return fmt.Errorf("duration must be in (0, %g], got %g", MaxDurationSeconds, p.Duration)
	}
	if p.Instrumental && p.Lyrics != "" {
		return fmt.Errorf("instrumental prompts must not carry lyrics")
	}
	return nil
}

// Clone returns a deep copy so callers can fill seeds or lyrics without
// mutating cached prompts.
func (p *DetailedPrompt) Clone() *DetailedPrompt {
	out := *p
	if p.Seed != nil {
		seed := *p.Seed
		out.Seed = &seed
	}
	return &out
}

// canonical builds the map form used for checksums: unset optional fields
// are stripped and keys serialize in sorted order.
func (p *DetailedPrompt) canonical() map[string]interface{} {
	m := map[string]interface{}{
		"overall_prompt": p.OverallPrompt,
		"duration":       p.Duration,
		"instrumental":   p.Instrumental,
	}
	if p.Lyrics != "" {
		m["lyrics"] = p.Lyrics
	}
	if p.LyricsTheme != "" {
		m["lyrics_theme"] = p.LyricsTheme
	}
	if p.LyricsStyle != "" {
		m["lyrics_style"] = p.LyricsStyle
	}
	if p.Seed != nil {
		m["seed"] = *p.Seed
	}
	return m
}

// Checksum returns the md5 hex digest of the canonical JSON form.
func (p *DetailedPrompt) Checksum() string {
	data, err := json.Marshal(p.canonical())
	if err != nil {
		// canonical only holds strings, bools and numbers
		panic(fmt.Sprintf("marshal canonical prompt: %v", err))
	}
	return Checksum(data)
}

// SeedlessChecksum returns the checksum with the seed stripped, which is the
// form prebaked prompts are keyed by.
func (p *DetailedPrompt) SeedlessChecksum() string {
	seedless := p.Clone()
	seedless.Seed = nil
	return seedless.Checksum()
}
