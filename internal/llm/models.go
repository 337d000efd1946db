package llm

import "strings"

// Known base models.
const (
	Gemini25Pro                  = "gemini-2.5-pro"
	Gemini25Flash                = "gemini-2.5-flash"
	Gemini25FlashLite            = "gemini-2.5-flash-lite"
	Gemini20Flash                = "gemini-2.0-flash"
	Gemini20FlashImageGeneration = "gemini-2.0-flash-preview-image-generation"
	Gemini20FlashLite            = "gemini-2.0-flash-lite"
	Gemma3nE2B                   = "gemma-3n-e2b-it"
	Gemma3nE4B                   = "gemma-3n-e4b-it"
	Gemma31B                     = "gemma-3-1b-it"
	Gemma34B                     = "gemma-3-4b-it"
	Gemma312B                    = "gemma-3-12b-it"
	Gemma327B                    = "gemma-3-27b-it"
	DefaultModel                 = Gemini25Flash
	TunedModelPrefix             = "tunedModels/"
	proMaxThinkingBudget         = 32768
	defaultMaxThinkingBudget     = 24576
)

// ModelOption is an entry of the model picker.
type ModelOption struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MaxTokens int    `json:"max_tokens"`
}

// Models lists the base models in picker order.
var Models = []ModelOption{
	{ID: Gemini25Pro, Name: "Gemini 2.5 Pro", MaxTokens: 1048576},
	{ID: Gemini25Flash, Name: "Gemini 2.5 Flash", MaxTokens: 1048576},
	{ID: Gemini25FlashLite, Name: "Gemini 2.5 Flash-Lite", MaxTokens: 1048576},
	{ID: Gemini20Flash, Name: "Gemini 2.0 Flash", MaxTokens: 1048576},
	{ID: Gemini20FlashImageGeneration, Name: "Gemini 2.0 Flash Preview Image Generation", MaxTokens: 32768},
	{ID: Gemini20FlashLite, Name: "Gemini 2.0 Flash-Lite", MaxTokens: 1048576},
	{ID: Gemma3nE2B, Name: "Gemma 3n E2B", MaxTokens: 8192},
	{ID: Gemma3nE4B, Name: "Gemma 3n E4B", MaxTokens: 8192},
	{ID: Gemma31B, Name: "Gemma 3 1B", MaxTokens: 32768},
	{ID: Gemma34B, Name: "Gemma 3 4B", MaxTokens: 32768},
	{ID: Gemma312B, Name: "Gemma 3 12B", MaxTokens: 32768},
	{ID: Gemma327B, Name: "Gemma 3 27B", MaxTokens: 131072},
}

// ContextWindow returns the input token limit of a base model, or 0 when the
// model is unknown.
func ContextWindow(model string) int {
	for _, m := range Models {
		if m.ID == model {
			return m.MaxTokens
		}
	}
	return 0
}

func IsKnownModel(model string) bool {
	for _, m := range Models {
		if m.ID == model {
			return true
		}
	}
	return false
}

func IsTunedModel(model string) bool {
	return strings.HasPrefix(model, TunedModelPrefix)
}

func IsGemma(model string) bool {
	return strings.HasPrefix(model, "gemma")
}

func IsImageGeneration(model string) bool {
	return model == Gemini20FlashImageGeneration
}

func IsProModel(model string) bool {
	return model == Gemini25Pro
}

// IsThinkingModel reports whether the model accepts a thinking budget.
func IsThinkingModel(model string) bool {
	switch model {
	case Gemini25Pro, Gemini25Flash, Gemini25FlashLite:
		return true
	}
	return false
}

// MaxThinkingBudget returns the largest thinking budget the model accepts,
// or 0 for models without thinking.
func MaxThinkingBudget(model string) int {
	switch {
	case !IsThinkingModel(model):
		return 0
	case IsProModel(model):
		return proMaxThinkingBudget
	default:
		return defaultMaxThinkingBudget
	}
}
