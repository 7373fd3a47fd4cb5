// Package system defines the capability set a hosted generation model
// implements and a name-keyed factory registry for the built-in systems.
package system

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/music-arena/music-arena/internal/arena"
)

// Output is one generated audio clip.
type Output struct {
	Audio      []byte // encoded audio bytes
	Format     string // "wav" or "mp3"
	SampleRate int
	Lyrics     string // lyrics actually rendered, empty for instrumental clips
}

// Model is the capability set a generation system exposes to its server.
// Prepare and Release bracket the expensive lifecycle (weights on GPU);
// GenerateBatch runs one batch where every prompt shares a single seed.
type Model interface {
	PromptSupport(p *arena.DetailedPrompt) arena.PromptSupport
	Prepare(ctx context.Context) error
	Release(ctx context.Context) error
	GenerateBatch(ctx context.Context, prompts []*arena.DetailedPrompt, seed uint32) ([]*Output, error)
}

// Factory builds a model instance from registry init kwargs.
type Factory func(kwargs map[string]interface{}) (Model, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes a model factory available under a class name. Built-in
// systems register themselves in init.
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[strings.ToLower(name)] = factory
}

// New instantiates a registered model by class name (case-insensitive).
func New(className string, kwargs map[string]interface{}) (Model, error) {
	factoriesMu.RLock()
	factory, ok := factories[strings.ToLower(className)]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown system class %q (registered: %s)", className, strings.Join(registered(), ", "))
	}
	return factory(kwargs)
}

func registered() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// kwarg helpers tolerate the numeric types YAML decoding produces.

func floatKwarg(kwargs map[string]interface{}, name string, fallback float64) float64 {
	switch v := kwargs[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}

func intKwarg(kwargs map[string]interface{}, name string, fallback int) int {
	switch v := kwargs[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func boolKwarg(kwargs map[string]interface{}, name string, fallback bool) bool {
	if v, ok := kwargs[name].(bool); ok {
		return v
	}
	return fallback
}
