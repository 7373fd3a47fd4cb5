package chat

import (
	"context"
	"fmt"
	"strings"
)

// ProviderFactory creates providers based on model or provider name
type ProviderFactory struct {
	openaiAPIKey string
	geminiAPIKey string
}

// NewProviderFactory creates a new provider factory
func NewProviderFactory(openaiAPIKey, geminiAPIKey string) *ProviderFactory {
	return &ProviderFactory{
		openaiAPIKey: openaiAPIKey,
		geminiAPIKey: geminiAPIKey,
	}
}

// GetProvider returns the appropriate provider for the given model.
// An explicit providerName wins; otherwise the model prefix decides.
func (f *ProviderFactory) GetProvider(ctx context.Context, model, providerName string) (Provider, error) {
	if providerName == "" {
		switch {
		case strings.HasPrefix(model, "gpt-"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
			providerName = providerNameOpenAI
		case strings.HasPrefix(model, "gemini-"):
			providerName = providerNameGemini
		default:
			return nil, fmt.Errorf("cannot infer provider for model %q", model)
		}
	}

	switch providerName {
	case providerNameOpenAI:
		if f.openaiAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not configured")
		}
		return NewOpenAIProvider(f.openaiAPIKey), nil
	case providerNameGemini:
		if f.geminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY not configured")
		}
		return NewGeminiProvider(ctx, f.geminiAPIKey)
	default:
		return nil, fmt.Errorf("unknown provider %q", providerName)
	}
}
