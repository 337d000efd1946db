package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"rexpro/internal/schema"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/tiktoken-go/tokenizer"
)

// ==========================================
// OpenAI-compatible Provider
// ==========================================
type OpenAIProvider struct {
	client *openai.Client
}

func newOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

func (p *OpenAIProvider) StreamChat(ctx context.Context, req StreamRequest, onFragment func(Fragment) error) error {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	stream, err := p.client.CreateChatCompletionStream(ctx, buildOpenAIRequest(req))
	if err != nil {
		return fmt.Errorf("openai error: %w", err)
	}
	defer stream.Close()

	calls := map[int]*openai.ToolCall{}
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("openai stream error: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			acc, ok := calls[idx]
			if !ok {
				acc = &openai.ToolCall{ID: tc.ID, Type: tc.Type}
				calls[idx] = acc
			}
			acc.Function.Name += tc.Function.Name
			acc.Function.Arguments += tc.Function.Arguments
		}
		if delta.Content == "" {
			continue
		}
		if err := onFragment(Fragment{Text: delta.Content}); err != nil {
			return err
		}
	}

	if extras := toolCallsMarkdown(calls); extras != "" {
		return onFragment(Fragment{Extras: extras})
	}
	return nil
}

// CountTokens estimates with the o200k_base encoding; attachments are not
// counted.
func (p *OpenAIProvider) CountTokens(_ context.Context, _ string, messages []Message) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}
	enc, err := tokenizer.Get(tokenizer.O200kBase)
	if err != nil {
		return 0, fmt.Errorf("failed to get tokenizer: %w", err)
	}
	total := 0
	for _, msg := range messages {
		n, err := enc.Count(msg.Content)
		if err != nil {
			n = len(msg.Content) / 4
		}
		total += n
	}
	return total, nil
}

func buildOpenAIRequest(req StreamRequest) openai.ChatCompletionRequest {
	c := req.Config
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		Temperature: nonZero(c.Temperature),
		TopP:        nonZero(c.TopP),
		MaxTokens:   c.MaxOutputTokens,
		Stop:        c.StopSequences,
		Stream:      true,
	}

	if instruction := SystemInstructionFor(req.Model, req.SystemInstruction); instruction != "" {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: instruction,
		})
	}
	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, openAIMessage(msg))
	}

	if len(c.ResponseSchema) > 0 {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	if len(c.Tools.FunctionDeclarations) > 0 {
		var decls []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			Parameters  json.RawMessage `json:"parameters"`
		}
		if err := json.Unmarshal(c.Tools.FunctionDeclarations, &decls); err != nil {
			logrus.WithError(err).Warn("invalid function declarations JSON, skipping tool")
		}
		for _, d := range decls {
			out.Tools = append(out.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        d.Name,
					Description: d.Description,
					Parameters:  schema.Lower(d.Parameters),
				},
			})
		}
	}
	return out
}

// nonZero keeps an explicit 0 from being dropped by the request's omitempty
// tags.
func nonZero(v float32) float32 {
	if v == 0 {
		return math.SmallestNonzeroFloat32
	}
	return v
}

func openAIMessage(msg Message) openai.ChatCompletionMessage {
	role := openai.ChatMessageRoleUser
	if msg.Role == RoleModel {
		role = openai.ChatMessageRoleAssistant
	}
	if len(msg.Attachments) == 0 {
		return openai.ChatCompletionMessage{Role: role, Content: msg.Content}
	}

	var parts []openai.ChatMessagePart
	if strings.TrimSpace(msg.Content) != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: msg.Content})
	}
	for _, att := range msg.Attachments {
		if !strings.HasPrefix(att.MimeType, "image/") {
			continue
		}
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: att.DataURL},
		})
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}

func toolCallsMarkdown(calls map[int]*openai.ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	idx := make([]int, 0, len(calls))
	for i := range calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	var sb strings.Builder
	for _, i := range idx {
		call := calls[i]
		var args any = call.Function.Arguments
		var parsed map[string]any
		if json.Unmarshal([]byte(call.Function.Arguments), &parsed) == nil {
			args = parsed
		}
		sb.WriteString(functionCallMarkdown(map[string]any{
			"name": call.Function.Name,
			"args": args,
		}))
	}
	return sb.String()
}
