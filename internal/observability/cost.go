package observability

// Pricing constants
const (
	tokensPerKilo = 1000.0

	// GPT-4o pricing
	gpt4oInputPrice  = 0.005
	gpt4oOutputPrice = 0.015

	// GPT-4o-mini pricing
	gpt4oMiniInputPrice  = 0.00015
	gpt4oMiniOutputPrice = 0.0006

	// Gemini 2.0 Flash pricing
	geminiFlashInputPrice  = 0.0001
	geminiFlashOutputPrice = 0.0004
)

// ModelPricing contains pricing information per 1K tokens
type ModelPricing struct {
	InputPricePer1K  float64 // Price per 1K input tokens in USD
	OutputPricePer1K float64 // Price per 1K output tokens in USD
}

// PricingTable contains pricing for the models the prompt pipeline uses
var PricingTable = map[string]ModelPricing{
	"gpt-4o": {
		InputPricePer1K:  gpt4oInputPrice,
		OutputPricePer1K: gpt4oOutputPrice,
	},
	"gpt-4o-mini": {
		InputPricePer1K:  gpt4oMiniInputPrice,
		OutputPricePer1K: gpt4oMiniOutputPrice,
	},
	"gemini-2.0-flash": {
		InputPricePer1K:  geminiFlashInputPrice,
		OutputPricePer1K: geminiFlashOutputPrice,
	},
}

// CalculateModelCost calculates the cost in USD for one LLM call
func CalculateModelCost(model string, inputTokens, outputTokens int64) float64 {
	pricing, exists := PricingTable[model]
	if !exists {
		// Default to GPT-4o pricing if model not found
		pricing = PricingTable["gpt-4o"]
	}

	inputCost := (float64(inputTokens) / tokensPerKilo) * pricing.InputPricePer1K
	outputCost := (float64(outputTokens) / tokensPerKilo) * pricing.OutputPricePer1K
	return inputCost + outputCost
}
