package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// OpenAIProvider implements the Provider interface using OpenAI's Responses API
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIProvider{
		client: &client,
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return providerNameOpenAI
}

// Complete performs a completion using OpenAI's Responses API
func (p *OpenAIProvider) Complete(ctx context.Context, request *CompletionRequest) (*CompletionResponse, error) {
	startTime := time.Now()
	log.Printf("🎵 OPENAI COMPLETION REQUEST STARTED (Model: %s)", request.Model)

	// Start Sentry transaction
	transaction := sentry.StartTransaction(ctx, "openai.complete")
	defer transaction.Finish()

	transaction.SetTag("model", request.Model)
	transaction.SetTag("provider", providerNameOpenAI)
	transaction.SetTag("structured", fmt.Sprintf("%t", request.OutputSchema != nil))

	params := p.buildRequestParams(request)

	// Call OpenAI API with Sentry span
	span := transaction.StartChild("openai.api_call")
	apiStartTime := time.Now()

	resp, err := p.client.Responses.New(ctx, params)

	apiDuration := time.Since(apiStartTime)
	span.Finish()

	if err != nil {
		log.Printf("❌ OPENAI REQUEST FAILED after %v: %v", apiDuration, err)
		transaction.SetTag("success", "false")
		sentry.CaptureException(err)
		return nil, fmt.Errorf("openai request failed: %w", err)
	}

	log.Printf("⏱️  OPENAI API CALL COMPLETED in %v", apiDuration)

	textOutput := cleanTextOutput(resp.OutputText())
	if textOutput == "" {
		transaction.SetTag("success", "false")
		return nil, fmt.Errorf("openai response did not include any output text")
	}

	log.Printf("📥 OPENAI RESPONSE: output_length=%d, tokens=%d",
		len(textOutput), resp.Usage.TotalTokens)
	log.Printf("📊 USAGE: input=%d, output=%d, total=%d",
		resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.TotalTokens)

	duration := time.Since(startTime)
	log.Printf("✅ OPENAI COMPLETION FINISHED in %v", duration)
	transaction.SetTag("success", "true")

	return &CompletionResponse{
		Text:         textOutput,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

// buildRequestParams converts CompletionRequest to OpenAI-specific ResponseNewParams
func (p *OpenAIProvider) buildRequestParams(request *CompletionRequest) responses.ResponseNewParams {
	inputItems := responses.ResponseInputParam{}

	for _, msg := range request.Messages {
		if msg.Content == "" {
			log.Printf("⚠️  Skipping message with empty content (role=%s)", msg.Role)
			continue
		}

		var roleEnum responses.EasyInputMessageRole
		switch msg.Role {
		case developerRole:
			roleEnum = responses.EasyInputMessageRoleDeveloper
		case userRole:
			roleEnum = responses.EasyInputMessageRoleUser
		default:
			roleEnum = responses.EasyInputMessageRoleUser
		}

		inputItems = append(inputItems,
			responses.ResponseInputItemParamOfMessage(msg.Content, roleEnum),
		)
	}

	params := responses.ResponseNewParams{
		Model: request.Model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: inputItems,
		},
		Instructions: openai.String(request.SystemPrompt),
	}

	if request.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(request.MaxOutputTokens)
	}

	if request.OutputSchema != nil {
		params.Text = responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigParamOfJSONSchema(
				request.OutputSchema.Name,
				request.OutputSchema.Schema,
			),
		}
		log.Printf("📋 JSON SCHEMA CONFIGURED: %s", request.OutputSchema.Name)
	}

	return params
}

// cleanTextOutput strips markdown code fences some models wrap around JSON
func cleanTextOutput(text string) string {
	cleaned := strings.TrimPrefix(text, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}
