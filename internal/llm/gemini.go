package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// ==========================================
// Gemini Provider
// ==========================================
type GeminiProvider struct {
	client *genai.Client
}

func newGeminiProvider(ctx context.Context, apiKey, baseURL string) (*GeminiProvider, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) StreamChat(ctx context.Context, req StreamRequest, onFragment func(Fragment) error) error {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	contents, err := buildGeminiContents(req.Messages)
	if err != nil {
		return err
	}
	config := buildGeminiConfig(req)

	for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, config) {
		if err != nil {
			return fmt.Errorf("gemini stream error: %w", err)
		}
		frag := geminiFragment(resp)
		if frag.Text == "" && frag.Extras == "" {
			continue
		}
		if err := onFragment(frag); err != nil {
			return err
		}
	}
	return nil
}

func (p *GeminiProvider) CountTokens(ctx context.Context, model string, messages []Message) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}
	contents, err := buildGeminiContents(messages)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Models.CountTokens(ctx, model, contents, nil)
	if err != nil {
		return 0, fmt.Errorf("gemini count tokens: %w", err)
	}
	return int(resp.TotalTokens), nil
}

func buildGeminiContents(messages []Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		var parts []*genai.Part
		if strings.TrimSpace(msg.Content) != "" {
			parts = append(parts, &genai.Part{Text: msg.Content})
		}
		for _, att := range msg.Attachments {
			mimeType, data, err := DecodeDataURL(att.DataURL)
			if err != nil {
				return nil, fmt.Errorf("attachment %s: %w", att.Name, err)
			}
			if att.MimeType != "" {
				mimeType = att.MimeType
			}
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}})
		}
		contents = append(contents, &genai.Content{Role: string(msg.Role), Parts: parts})
	}
	return contents, nil
}

func buildGeminiConfig(req StreamRequest) *genai.GenerateContentConfig {
	c := req.Config
	config := &genai.GenerateContentConfig{
		StopSequences: c.StopSequences,
	}
	config.Temperature = genai.Ptr(c.Temperature)
	config.TopP = genai.Ptr(c.TopP)
	if c.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(c.MaxOutputTokens)
	}
	if c.ThinkingBudget != nil {
		config.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(int32(*c.ThinkingBudget))}
	}

	switch c.MediaResolution {
	case "low":
		config.MediaResolution = genai.MediaResolutionLow
	case "medium":
		config.MediaResolution = genai.MediaResolutionMedium
	case "high":
		config.MediaResolution = genai.MediaResolutionHigh
	}

	if c.ImageOutput || IsImageGeneration(req.Model) {
		config.ResponseModalities = []string{"IMAGE", "TEXT"}
	}

	if instruction := SystemInstructionFor(req.Model, req.SystemInstruction); instruction != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: instruction}}}
	}

	if len(c.ResponseSchema) > 0 {
		var schema genai.Schema
		if err := json.Unmarshal(c.ResponseSchema, &schema); err != nil {
			logrus.WithError(err).Warn("invalid structured output schema, ignoring")
		} else {
			config.ResponseMIMEType = "application/json"
			config.ResponseSchema = &schema
		}
	}

	if tools := buildGeminiTools(c.Tools); len(tools) > 0 {
		config.Tools = tools
	}
	return config
}

func buildGeminiTools(t ToolSet) []*genai.Tool {
	if t.empty() {
		return nil
	}
	var tools []*genai.Tool
	if t.GoogleSearch {
		tools = append(tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if t.CodeExecution {
		tools = append(tools, &genai.Tool{CodeExecution: &genai.ToolCodeExecution{}})
	}
	if len(t.FunctionDeclarations) > 0 {
		var decls []*genai.FunctionDeclaration
		if err := json.Unmarshal(t.FunctionDeclarations, &decls); err != nil {
			logrus.WithError(err).Warn("invalid function declarations JSON, skipping tool")
		} else if len(decls) > 0 {
			tools = append(tools, &genai.Tool{FunctionDeclarations: decls})
		}
	}
	return tools
}

// geminiFragment collects the text parts of a chunk and renders the other
// parts as markdown.
func geminiFragment(resp *genai.GenerateContentResponse) Fragment {
	var frag Fragment
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return frag
	}
	var text, extras strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		switch {
		case part.FunctionCall != nil:
			extras.WriteString(functionCallMarkdown(part.FunctionCall))
		case part.ExecutableCode != nil:
			extras.WriteString(executableCodeMarkdown(string(part.ExecutableCode.Language), part.ExecutableCode.Code))
		case part.InlineData != nil:
			extras.WriteString(imageMarkdown(part.InlineData.MIMEType, part.InlineData.Data))
		}
	}
	frag.Text = text.String()
	frag.Extras = extras.String()
	return frag
}
