package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a message in the vendor's terms.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// DefaultSystemInstruction is used when the caller leaves it blank.
const DefaultSystemInstruction = "You are a helpful assistant."

// ThinkingInstruction is appended to the system instruction when reasoning
// output should be wrapped in <thinking> tags.
const ThinkingInstruction = "When providing an answer, first output your reasoning steps inside <thinking> tags. After the </thinking> tag, provide the final answer."

var ErrNoAPIKey = errors.New("no API key configured")

// Attachment is a file carried inline with a message as a data URL.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	DataURL  string `json:"data_url"`
}

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ToolSet selects the vendor tools offered to the model.
type ToolSet struct {
	GoogleSearch         bool            `json:"google_search"`
	CodeExecution        bool            `json:"code_execution"`
	FunctionDeclarations json.RawMessage `json:"function_declarations,omitempty"`
}

func (t ToolSet) empty() bool {
	return !t.GoogleSearch && !t.CodeExecution && len(t.FunctionDeclarations) == 0
}

// GenerationConfig holds the sampling and output options for one request.
// Temperature and TopP are always sent, so 0 is deterministic sampling. A
// non-nil zero ThinkingBudget disables thinking.
type GenerationConfig struct {
	Temperature     float32         `json:"temperature"`
	TopP            float32         `json:"top_p"`
	MaxOutputTokens int             `json:"max_output_tokens"`
	StopSequences   []string        `json:"stop_sequences,omitempty"`
	ThinkingBudget  *int            `json:"thinking_budget,omitempty"`
	ResponseSchema  json.RawMessage `json:"response_schema,omitempty"`
	Tools           ToolSet         `json:"tools"`
	ImageOutput     bool            `json:"image_output"`
	MediaResolution string          `json:"media_resolution,omitempty"` // low, medium or high
}

// DefaultGenerationConfig mirrors the settings panel defaults.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:     1,
		TopP:            0.95,
		MaxOutputTokens: 8192,
	}
}

// StreamRequest is a single streamed completion.
type StreamRequest struct {
	Model             string
	SystemInstruction string
	Messages          []Message
	Config            GenerationConfig
}

// Fragment is one piece of a streamed response. Text may contain reasoning
// tags; Extras is markdown for non-text parts (tool calls, executed code,
// generated images) that belongs to the visible answer as-is.
type Fragment struct {
	Text   string
	Extras string
}

// Provider streams chat completions from one vendor.
type Provider interface {
	StreamChat(ctx context.Context, req StreamRequest, onFragment func(Fragment) error) error
	CountTokens(ctx context.Context, model string, messages []Message) (int, error)
}

// NewProvider creates the provider named by providerName. baseURL is optional.
func NewProvider(ctx context.Context, providerName, apiKey, baseURL string) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w for provider %q", ErrNoAPIKey, providerName)
	}
	switch strings.ToLower(providerName) {
	case "gemini", "google", "":
		return newGeminiProvider(ctx, apiKey, baseURL)
	case "openai":
		return newOpenAIProvider(apiKey, baseURL), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", providerName)
	}
}

// SystemInstructionFor returns the instruction actually sent for model, or ""
// when the model does not accept one.
func SystemInstructionFor(model, instruction string) string {
	if IsGemma(model) || IsImageGeneration(model) {
		return ""
	}
	if strings.TrimSpace(instruction) == "" {
		return DefaultSystemInstruction
	}
	return instruction
}

// WithThinkingInstruction appends the <thinking> output instruction.
func WithThinkingInstruction(instruction string) string {
	return strings.TrimSpace(instruction + "\n\n" + ThinkingInstruction)
}

func functionCallMarkdown(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return fmt.Sprintf("\n\n**Function Call:**\n```json\n%s\n```\n", data)
}

func executableCodeMarkdown(language, code string) string {
	language = strings.ToLower(language)
	if language == "" || language == "language_unspecified" {
		language = "code"
	}
	return fmt.Sprintf("\n\n**Executing Code:**\n```%s\n%s\n```\n", language, code)
}

func imageMarkdown(mimeType string, data []byte) string {
	return fmt.Sprintf("\n\n![Generated Image](%s)\n\n", EncodeDataURL(mimeType, data))
}

// streamTimeout bounds a single streamed response.
const streamTimeout = 5 * time.Minute
