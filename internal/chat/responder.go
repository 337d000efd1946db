package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"rexpro/internal/llm"
	"rexpro/internal/reasoning"
	"rexpro/internal/schema"
	"rexpro/internal/search"
	"rexpro/internal/settings"
	"rexpro/internal/tuning"

	"github.com/sirupsen/logrus"
)

// ErrorReply replaces the answer when generation fails.
const ErrorReply = "Sorry, I encountered an error. Please try again."

var (
	ErrEmptyPrompt = errors.New("prompt is empty")
	ErrGeneration  = errors.New("generation failed")
	ErrBusy        = errors.New("chat is already answering a prompt")
)

// ProviderFunc returns the provider for the given settings.
type ProviderFunc func(ctx context.Context, s settings.Settings) (llm.Provider, error)

// SendRequest is one user turn. Settings.Model may name a tuned model.
type SendRequest struct {
	Prompt      string            `json:"prompt"`
	Attachments []llm.Attachment  `json:"attachments,omitempty"`
	Settings    settings.Settings `json:"settings"`
}

// Responder runs a prompt against a chat: it records the turn, streams the
// model reply through the reasoning classifier and stores the result.
type Responder struct {
	Store     *Store
	Provider  ProviderFunc
	Tuned     *tuning.Registry // optional
	Index     *search.Index    // optional
	CarryOver bool             // hold back split <thinking> tags

	mu       sync.Mutex
	inFlight map[string]bool
}

// plan is the resolved request sent to the provider.
type plan struct {
	model          string
	instruction    string
	prompt         string
	attachments    []llm.Attachment
	config         llm.GenerationConfig
	thinkingActive bool
}

// resolve applies tuned model context, URL context and thinking rules.
func (r *Responder) resolve(req SendRequest) plan {
	s := req.Settings
	p := plan{
		model:       s.Model,
		instruction: s.SystemInstruction,
		prompt:      req.Prompt,
		attachments: req.Attachments,
		config:      s.Generation(),
	}

	switch {
	case llm.IsTunedModel(s.Model):
		p.model, p.instruction, p.prompt, p.attachments = r.resolveTuned(s.Model, s.SystemInstruction, req)
	case s.UseGoogleSearch && s.UseURLContext && strings.TrimSpace(s.URLContext) != "":
		p.prompt = fmt.Sprintf("Using the content from the URL: %s, answer the following question: %s", s.URLContext, req.Prompt)
	}

	thinkingModel := llm.IsThinkingModel(p.model)
	p.thinkingActive = thinkingModel && (llm.IsProModel(p.model) || s.UseThinking)
	if thinkingModel {
		switch {
		case !p.thinkingActive:
			zero := 0
			p.config.ThinkingBudget = &zero
		case s.UseThinkingBudget:
			budget := min(s.ThinkingBudget, llm.MaxThinkingBudget(p.model))
			p.config.ThinkingBudget = &budget
		}
	}
	if p.thinkingActive {
		p.instruction = llm.WithThinkingInstruction(p.instruction)
	}
	return p
}

func (r *Responder) resolveTuned(id, instruction string, req SendRequest) (string, string, string, []llm.Attachment) {
	if r.Tuned != nil {
		if m, err := r.Tuned.Get(id); err == nil {
			prompt, atts := tuning.Augment(*m, req.Prompt, req.Attachments)
			return m.BaseModel, m.SystemInstruction, prompt, atts
		}
	}
	logrus.WithField("model", id).Warn("custom model not found, falling back")
	return llm.DefaultModel, instruction, req.Prompt, req.Attachments
}

// Send appends the user turn and a placeholder reply to chatID, streams the
// reply and stores it in the placeholder. onUpdate receives the classifier
// state after every fragment. Only one Send per chat runs at a time; others
// get ErrBusy.
//
// A provider failure is stored as ErrorReply and returned wrapped in
// ErrGeneration together with the stored message. When ctx is cancelled the
// reply keeps the text received so far and ctx's error is returned with it.
func (r *Responder) Send(ctx context.Context, chatID string, req SendRequest, onUpdate func(reasoning.StreamState)) (*Message, error) {
	if strings.TrimSpace(req.Prompt) == "" && len(req.Attachments) == 0 {
		return nil, ErrEmptyPrompt
	}
	if !r.acquire(chatID) {
		return nil, fmt.Errorf("%w: %s", ErrBusy, chatID)
	}
	defer r.release(chatID)

	session, err := r.Store.Get(chatID)
	if err != nil {
		return nil, err
	}

	req.Settings = req.Settings.Normalize()
	p := r.resolve(req)

	history := make([]llm.Message, 0, len(session.Messages)+1)
	for _, m := range session.Messages {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content, Attachments: m.Attachments})
	}
	history = append(history, llm.Message{Role: llm.RoleUser, Content: p.prompt, Attachments: p.attachments})

	userIdx, err := r.Store.AppendMessages(chatID,
		Message{Role: llm.RoleUser, Content: req.Prompt, Attachments: req.Attachments},
		Message{Role: llm.RoleModel, IsThinking: p.thinkingActive},
	)
	if err != nil {
		return nil, err
	}

	log := logrus.WithFields(logrus.Fields{"chat": chatID, "model": p.model, "thinking": p.thinkingActive})
	start := time.Now()

	var opts []reasoning.Option
	if r.CarryOver {
		opts = append(opts, reasoning.WithCarryOver())
	}
	classifier := reasoning.NewClassifier(opts...)

	genErr := r.stream(ctx, req.Settings, llm.StreamRequest{
		Model:             p.model,
		SystemInstruction: p.instruction,
		Messages:          history,
		Config:            p.config,
	}, func(frag llm.Fragment) {
		state := classifier.State()
		if frag.Text != "" {
			state = classifier.Push(frag.Text)
		}
		if frag.Extras != "" {
			state = classifier.AppendVisible(frag.Extras)
		}
		if onUpdate != nil {
			onUpdate(state)
		}
	})

	visible, hidden := classifier.Finalize()
	reply := Message{Role: llm.RoleModel, Content: visible, Reasoning: hidden}
	cancelled := errors.Is(genErr, context.Canceled)
	switch {
	case cancelled:
		log.Info("chat response cancelled, keeping partial reply")
	case genErr != nil:
		log.WithError(genErr).Error("error streaming chat response")
		reply.Content = ErrorReply
	case len(p.config.ResponseSchema) > 0:
		if err := schema.Validate(p.config.ResponseSchema, visible); err != nil {
			log.WithError(err).Warn("structured output failed validation")
			reply.SchemaError = err.Error()
		}
	}

	if err := r.Store.ReplaceAt(chatID, userIdx+1, reply); err != nil {
		return nil, err
	}
	r.index(chatID, userIdx, Message{Role: llm.RoleUser, Content: req.Prompt})
	r.index(chatID, userIdx+1, reply)

	log.WithFields(logrus.Fields{
		"visible_len": len(visible),
		"hidden_len":  len(hidden),
		"elapsed":     time.Since(start).Round(time.Millisecond),
	}).Info("chat response complete")

	switch {
	case cancelled:
		return &reply, genErr
	case genErr != nil:
		return &reply, fmt.Errorf("%w: %w", ErrGeneration, genErr)
	}
	return &reply, nil
}

func (r *Responder) acquire(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight == nil {
		r.inFlight = make(map[string]bool)
	}
	if r.inFlight[chatID] {
		return false
	}
	r.inFlight[chatID] = true
	return true
}

func (r *Responder) release(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, chatID)
}

func (r *Responder) stream(ctx context.Context, s settings.Settings, req llm.StreamRequest, onFragment func(llm.Fragment)) error {
	provider, err := r.Provider(ctx, s)
	if err != nil {
		return err
	}
	return provider.StreamChat(ctx, req, func(f llm.Fragment) error {
		onFragment(f)
		return ctx.Err()
	})
}

func (r *Responder) index(chatID string, idx int, m Message) {
	if r.Index == nil {
		return
	}
	err := r.Index.IndexMessage(idx, search.Document{
		ChatID:    chatID,
		Role:      string(m.Role),
		Content:   m.Content,
		Reasoning: m.Reasoning,
	})
	if err != nil {
		logrus.WithError(err).WithField("chat", chatID).Warn("failed to index message")
	}
}

// CountTokens counts the tokens of a chat's history for the model the
// settings select. Counting failures are logged and count as zero.
func (r *Responder) CountTokens(ctx context.Context, chatID string, s settings.Settings) (int, error) {
	session, err := r.Store.Get(chatID)
	if err != nil {
		return 0, err
	}
	if len(session.Messages) == 0 {
		return 0, nil
	}
	s = s.Normalize()
	model := s.Model
	if llm.IsTunedModel(model) {
		model, _, _, _ = r.resolveTuned(model, "", SendRequest{})
	}

	provider, err := r.Provider(ctx, s)
	if err != nil {
		return 0, err
	}
	history := make([]llm.Message, 0, len(session.Messages))
	for _, m := range session.Messages {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content, Attachments: m.Attachments})
	}
	n, err := provider.CountTokens(ctx, model, history)
	if err != nil {
		logrus.WithError(err).WithField("chat", chatID).Warn("error counting tokens")
		return 0, nil
	}
	return n, nil
}
