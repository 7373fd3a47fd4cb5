package chat

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"google.golang.org/genai"
)

const (
	mimeTypeJSON   = "application/json"
	geminiUserRole = "user"
)

// GeminiProvider implements the Provider interface using Google's Gemini API
type GeminiProvider struct {
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		client: client,
	}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return providerNameGemini
}

// Complete performs a completion using Gemini's API
func (p *GeminiProvider) Complete(ctx context.Context, request *CompletionRequest) (*CompletionResponse, error) {
	startTime := time.Now()
	log.Printf("🎵 GEMINI COMPLETION REQUEST STARTED (Model: %s)", request.Model)

	// Start Sentry transaction
	transaction := sentry.StartTransaction(ctx, "gemini.complete")
	defer transaction.Finish()

	transaction.SetTag("model", request.Model)
	transaction.SetTag("provider", providerNameGemini)

	contents := p.buildGeminiContents(request.Messages)

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: request.SystemPrompt}},
		},
	}
	if request.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(request.MaxOutputTokens)
	}

	// Add JSON schema for structured output if provided
	if request.OutputSchema != nil {
		config.ResponseMIMEType = mimeTypeJSON
		config.ResponseSchema = convertSchemaToGemini(request.OutputSchema.Schema)
	}

	// Call Gemini API
	span := transaction.StartChild("gemini.api_call")
	apiStartTime := time.Now()
	result, err := p.client.Models.GenerateContent(ctx, request.Model, contents, config)
	apiDuration := time.Since(apiStartTime)
	span.Finish()

	if err != nil {
		log.Printf("❌ GEMINI REQUEST FAILED after %v: %v", apiDuration, err)
		transaction.SetTag("success", "false")
		sentry.CaptureException(err)
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	log.Printf("⏱️  GEMINI API CALL COMPLETED in %v", apiDuration)

	if len(result.Candidates) == 0 {
		transaction.SetTag("success", "false")
		return nil, fmt.Errorf("no candidates in Gemini response")
	}
	candidate := result.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		transaction.SetTag("success", "false")
		return nil, fmt.Errorf("no parts in Gemini response")
	}

	textOutput := cleanTextOutput(candidate.Content.Parts[0].Text)
	if textOutput == "" {
		transaction.SetTag("success", "false")
		return nil, fmt.Errorf("gemini response did not include any output text")
	}
	log.Printf("📥 GEMINI RESPONSE: output_length=%d", len(textOutput))

	response := &CompletionResponse{Text: textOutput}
	if result.UsageMetadata != nil {
		response.InputTokens = int64(result.UsageMetadata.PromptTokenCount)
		response.OutputTokens = int64(result.UsageMetadata.CandidatesTokenCount)
		response.TotalTokens = int64(result.UsageMetadata.TotalTokenCount)
		log.Printf("📊 GEMINI USAGE: input=%d, output=%d, total=%d",
			result.UsageMetadata.PromptTokenCount,
			result.UsageMetadata.CandidatesTokenCount,
			result.UsageMetadata.TotalTokenCount)
	}

	log.Printf("✅ GEMINI COMPLETION FINISHED in %v", time.Since(startTime))
	transaction.SetTag("success", "true")
	return response, nil
}

// buildGeminiContents converts our messages to Gemini Content format
func (p *GeminiProvider) buildGeminiContents(messages []Message) []*genai.Content {
	var contents []*genai.Content

	for _, msg := range messages {
		if msg.Content == "" {
			log.Printf("⚠️  Skipping message with empty content (role=%s)", msg.Role)
			continue
		}

		// Gemini uses "user" and "model"; developer/system turns go as user
		contents = append(contents, &genai.Content{
			Role:  geminiUserRole,
			Parts: []*genai.Part{{Text: msg.Content}},
		})
	}

	return contents
}

// convertSchemaToGemini maps a JSON schema fragment onto Gemini's Schema type
func convertSchemaToGemini(schema map[string]interface{}) *genai.Schema {
	out := &genai.Schema{}

	if typ, ok := schema["type"].(string); ok {
		switch typ {
		case "object":
			out.Type = genai.TypeObject
		case "array":
			out.Type = genai.TypeArray
		case "string":
			out.Type = genai.TypeString
		case "number":
			out.Type = genai.TypeNumber
		case "integer":
			out.Type = genai.TypeInteger
		case "boolean":
			out.Type = genai.TypeBoolean
		}
	}

	if desc, ok := schema["description"].(string); ok {
		out.Description = desc
	}

	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = make(map[string]*genai.Schema, len(props))
		for name, sub := range props {
			if subMap, ok := sub.(map[string]interface{}); ok {
				out.Properties[name] = convertSchemaToGemini(subMap)
			}
		}
	}

	if items, ok := schema["items"].(map[string]interface{}); ok {
		out.Items = convertSchemaToGemini(items)
	}

	if required, ok := schema["required"].([]string); ok {
		out.Required = required
	} else if rawRequired, ok := schema["required"].([]interface{}); ok {
		for _, r := range rawRequired {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}

	if enum, ok := schema["enum"].([]string); ok {
		out.Enum = enum
	}

	return out
}
