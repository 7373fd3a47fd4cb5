// Package chat wraps the LLM providers behind the prompt pipeline: content
// moderation, prompt routing and lyrics generation.
package chat

import "context"

const (
	// Role constants
	userRole      = "user"
	developerRole = "developer"

	// Provider names
	providerNameOpenAI = "openai"
	providerNameGemini = "gemini"

	// Logging limits
	maxPreviewChars = 200
)

// Message is one turn of conversational input.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OutputSchema constrains a completion to structured JSON output.
type OutputSchema struct {
	Name   string
	Schema map[string]interface{}
}

// CompletionRequest is the provider-agnostic request shape.
type CompletionRequest struct {
	Model           string
	SystemPrompt    string
	Messages        []Message
	MaxOutputTokens int64
	OutputSchema    *OutputSchema
}

// CompletionResponse carries the model output plus token usage for cost
// accounting.
type CompletionResponse struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// Provider abstracts one LLM vendor.
type Provider interface {
	// Complete performs non-streaming completion
	Complete(ctx context.Context, request *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name
	Name() string
}

// truncateString truncates a string to a maximum length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
