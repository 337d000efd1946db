// Package settings holds the run settings chosen in the UI and persists them
// with API keys sealed.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"rexpro/internal/crypto"
	"rexpro/internal/llm"
	"rexpro/internal/schema"

	"github.com/sirupsen/logrus"
)

const DefaultThinkingBudget = 8000

var ErrInvalid = errors.New("invalid settings")

type MediaResolution string

const (
	MediaResolutionDefault MediaResolution = "default"
	MediaResolutionLow     MediaResolution = "low"
	MediaResolutionMedium  MediaResolution = "medium"
	MediaResolutionHigh    MediaResolution = "high"
)

// Settings are the sidebar options applied to every new prompt.
type Settings struct {
	Provider          string  `json:"provider"`
	Model             string  `json:"model"`
	SystemInstruction string  `json:"system_instruction"`
	Temperature       float32 `json:"temperature"`
	TopP              float32 `json:"top_p"`
	MaxOutputTokens   int     `json:"max_output_tokens"`
	StopSequence      string  `json:"stop_sequence"`

	UseGoogleSearch        bool   `json:"use_google_search"`
	UseCodeExecution       bool   `json:"use_code_execution"`
	UseFunctionCalling     bool   `json:"use_function_calling"`
	FunctionDeclarations   string `json:"function_declarations"`
	UseStructuredOutput    bool   `json:"use_structured_output"`
	StructuredOutputSchema string `json:"structured_output_schema"`
	UseURLContext          bool   `json:"use_url_context"`
	URLContext             string `json:"url_context"`

	UseThinking       bool            `json:"use_thinking"`
	UseThinkingBudget bool            `json:"use_thinking_budget"`
	ThinkingBudget    int             `json:"thinking_budget"`
	MediaResolution   MediaResolution `json:"media_resolution"`

	GeminiAPIKey  string `json:"gemini_api_key,omitempty"`
	OpenAIAPIKey  string `json:"openai_api_key,omitempty"`
	OpenAIBaseURL string `json:"openai_base_url,omitempty"`
}

func Defaults() Settings {
	gen := llm.DefaultGenerationConfig()
	return Settings{
		Provider:        "gemini",
		Model:           llm.DefaultModel,
		Temperature:     gen.Temperature,
		TopP:            gen.TopP,
		MaxOutputTokens: gen.MaxOutputTokens,
		ThinkingBudget:  DefaultThinkingBudget,
		MediaResolution: MediaResolutionDefault,
	}
}

// Normalize clamps ranges and resolves conflicting options. Google Search
// and structured output cannot be combined; search wins.
func (s Settings) Normalize() Settings {
	if s.Provider == "" {
		s.Provider = "gemini"
	}
	if s.Model == "" {
		s.Model = llm.DefaultModel
	}
	s.Temperature = clamp(s.Temperature, 0, 2)
	s.TopP = clamp(s.TopP, 0, 1)
	if s.MaxOutputTokens <= 0 {
		s.MaxOutputTokens = llm.DefaultGenerationConfig().MaxOutputTokens
	}
	if s.UseGoogleSearch {
		s.UseStructuredOutput = false
	}
	if s.ThinkingBudget < 0 {
		s.ThinkingBudget = 0
	}
	if limit := llm.MaxThinkingBudget(s.Model); limit > 0 && s.ThinkingBudget > limit {
		s.ThinkingBudget = limit
	}
	switch s.MediaResolution {
	case MediaResolutionLow, MediaResolutionMedium, MediaResolutionHigh:
	default:
		s.MediaResolution = MediaResolutionDefault
	}
	return s
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Validate checks the JSON options that are enabled.
func (s Settings) Validate() error {
	if s.UseStructuredOutput && strings.TrimSpace(s.StructuredOutputSchema) != "" {
		if _, err := schema.Compile(json.RawMessage(s.StructuredOutputSchema)); err != nil {
			return fmt.Errorf("%w: structured output schema: %v", ErrInvalid, err)
		}
	}
	if s.UseFunctionCalling && strings.TrimSpace(s.FunctionDeclarations) != "" {
		if err := schema.Declarations(json.RawMessage(s.FunctionDeclarations)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	return nil
}

// Generation returns the request options these settings select, without the
// thinking budget, which depends on the model actually used.
func (s Settings) Generation() llm.GenerationConfig {
	cfg := llm.GenerationConfig{
		Temperature:     s.Temperature,
		TopP:            s.TopP,
		MaxOutputTokens: s.MaxOutputTokens,
		Tools: llm.ToolSet{
			GoogleSearch:  s.UseGoogleSearch,
			CodeExecution: s.UseCodeExecution,
		},
	}
	if s.StopSequence != "" {
		cfg.StopSequences = []string{s.StopSequence}
	}
	if s.UseFunctionCalling && strings.TrimSpace(s.FunctionDeclarations) != "" {
		cfg.Tools.FunctionDeclarations = json.RawMessage(s.FunctionDeclarations)
	}
	if s.UseStructuredOutput && !s.UseGoogleSearch && strings.TrimSpace(s.StructuredOutputSchema) != "" {
		cfg.ResponseSchema = json.RawMessage(s.StructuredOutputSchema)
	}
	if s.MediaResolution != MediaResolutionDefault {
		cfg.MediaResolution = string(s.MediaResolution)
	}
	return cfg
}

// APIKey returns the key configured for the selected provider.
func (s Settings) APIKey() string {
	if strings.EqualFold(s.Provider, "openai") {
		return s.OpenAIAPIKey
	}
	return s.GeminiAPIKey
}

// Masked returns a copy safe to send to clients.
func (s Settings) Masked() Settings {
	s.GeminiAPIKey = crypto.Mask(s.GeminiAPIKey)
	s.OpenAIAPIKey = crypto.Mask(s.OpenAIAPIKey)
	return s
}

// ==================== Store ====================

// Store keeps the current settings in memory and in settings.json.
type Store struct {
	mu       sync.RWMutex
	current  Settings
	filePath string
	sealer   *crypto.Sealer
}

// NewStore loads settings.json from dataDir over base, which carries the
// environment defaults.
func NewStore(dataDir string, sealer *crypto.Sealer, base Settings) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	s := &Store{
		current:  base.Normalize(),
		filePath: filepath.Join(dataDir, "settings.json"),
		sealer:   sealer,
	}

	data, err := os.ReadFile(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	saved := s.current
	if err := json.Unmarshal(data, &saved); err != nil {
		logrus.WithError(err).WithField("path", s.filePath).Warn("could not parse settings, using defaults")
		return s, nil
	}
	saved.GeminiAPIKey = s.openOrKeep(saved.GeminiAPIKey, base.GeminiAPIKey)
	saved.OpenAIAPIKey = s.openOrKeep(saved.OpenAIAPIKey, base.OpenAIAPIKey)
	s.current = saved.Normalize()
	return s, nil
}

// openOrKeep opens a sealed key. An empty or unreadable value falls back.
func (s *Store) openOrKeep(value, fallback string) string {
	if value == "" {
		return fallback
	}
	opened, err := s.sealer.Open(value)
	if err != nil {
		logrus.WithError(err).Warn("could not unseal saved API key")
		return fallback
	}
	return opened
}

func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates and saves next. Masked or empty API keys in next keep the
// stored key.
func (s *Store) Update(next Settings) (Settings, error) {
	next = next.Normalize()
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if next.GeminiAPIKey == "" || crypto.IsMasked(next.GeminiAPIKey) {
		next.GeminiAPIKey = s.current.GeminiAPIKey
	}
	if next.OpenAIAPIKey == "" || crypto.IsMasked(next.OpenAIAPIKey) {
		next.OpenAIAPIKey = s.current.OpenAIAPIKey
	}
	if err := s.save(next); err != nil {
		return Settings{}, err
	}
	s.current = next
	return next, nil
}

func (s *Store) save(v Settings) error {
	var err error
	if v.GeminiAPIKey, err = s.sealer.Seal(v.GeminiAPIKey); err != nil {
		return fmt.Errorf("seal gemini key: %w", err)
	}
	if v.OpenAIAPIKey, err = s.sealer.Seal(v.OpenAIAPIKey); err != nil {
		return fmt.Errorf("seal openai key: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath, data, 0600)
}
