package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"rexpro/internal/llm"
	"rexpro/internal/reasoning"
	"rexpro/internal/search"
	"rexpro/internal/settings"
	"rexpro/internal/tuning"
)

type fakeProvider struct {
	fragments  []llm.Fragment
	err        error
	got        llm.StreamRequest
	tokens     int
	countModel string
}

func (f *fakeProvider) StreamChat(_ context.Context, req llm.StreamRequest, onFragment func(llm.Fragment) error) error {
	f.got = req
	for _, frag := range f.fragments {
		if err := onFragment(frag); err != nil {
			return err
		}
	}
	return f.err
}

func (f *fakeProvider) CountTokens(_ context.Context, model string, _ []llm.Message) (int, error) {
	f.countModel = model
	return f.tokens, nil
}

func newResponder(t *testing.T, p *fakeProvider) (*Responder, string) {
	t.Helper()
	store, _ := tempStore(t)
	r := &Responder{
		Store: store,
		Provider: func(context.Context, settings.Settings) (llm.Provider, error) {
			return p, nil
		},
	}
	return r, store.Active()
}

func textFragments(parts ...string) []llm.Fragment {
	out := make([]llm.Fragment, len(parts))
	for i, p := range parts {
		out[i] = llm.Fragment{Text: p}
	}
	return out
}

func withModel(model string) settings.Settings {
	s := settings.Defaults()
	s.Model = model
	return s
}

// ========== Send ==========

func TestSend_EmptyPrompt(t *testing.T) {
	r, id := newResponder(t, &fakeProvider{})
	_, err := r.Send(context.Background(), id, SendRequest{Prompt: "  "}, nil)
	if !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("err = %v, want ErrEmptyPrompt", err)
	}
}

func TestSend_UnknownChat(t *testing.T) {
	r, _ := newResponder(t, &fakeProvider{})
	_, err := r.Send(context.Background(), "missing", SendRequest{Prompt: "hi"}, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSend_SplitsReasoning(t *testing.T) {
	p := &fakeProvider{fragments: textFragments("<thinking>Let me think.", "</thinking>The answer is 4.")}
	r, id := newResponder(t, p)

	var updates []reasoning.StreamState
	msg, err := r.Send(context.Background(), id, SendRequest{Prompt: "2+2?", Settings: withModel(llm.Gemini25Pro)},
		func(s reasoning.StreamState) { updates = append(updates, s) })
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if msg.Content != "The answer is 4." || msg.Reasoning != "Let me think." {
		t.Errorf("message = %+v", msg)
	}
	if msg.IsThinking {
		t.Error("IsThinking should be cleared after the reply")
	}
	if len(updates) != 2 || !updates[0].InsideHidden || updates[1].InsideHidden {
		t.Errorf("updates = %+v", updates)
	}
	if !strings.HasSuffix(p.got.SystemInstruction, llm.ThinkingInstruction) {
		t.Errorf("system instruction = %q, want thinking instruction", p.got.SystemInstruction)
	}
	if p.got.Config.ThinkingBudget != nil {
		t.Errorf("pro model without budget should use the default, got %d", *p.got.Config.ThinkingBudget)
	}

	session, _ := r.Store.Get(id)
	if len(session.Messages) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", len(session.Messages))
	}
	if session.Title != "2+2?" {
		t.Errorf("title = %q", session.Title)
	}
	if session.Messages[1].Reasoning != "Let me think." {
		t.Errorf("stored reply = %+v", session.Messages[1])
	}
}

func TestSend_ThinkingOffDisablesBudget(t *testing.T) {
	p := &fakeProvider{fragments: textFragments("plain")}
	r, id := newResponder(t, p)

	if _, err := r.Send(context.Background(), id, SendRequest{Prompt: "q", Settings: withModel(llm.Gemini25Flash)}, nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if p.got.Config.ThinkingBudget == nil || *p.got.Config.ThinkingBudget != 0 {
		t.Errorf("expected thinking budget 0, got %v", p.got.Config.ThinkingBudget)
	}
	if strings.Contains(p.got.SystemInstruction, llm.ThinkingInstruction) {
		t.Error("thinking instruction should not be added")
	}
}

func TestSend_ThinkingBudget(t *testing.T) {
	p := &fakeProvider{fragments: textFragments("ok")}
	r, id := newResponder(t, p)

	s := withModel(llm.Gemini25Flash)
	s.UseThinking = true
	s.UseThinkingBudget = true
	s.ThinkingBudget = 1000
	if _, err := r.Send(context.Background(), id, SendRequest{Prompt: "q", Settings: s}, nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if p.got.Config.ThinkingBudget == nil || *p.got.Config.ThinkingBudget != 1000 {
		t.Errorf("expected thinking budget 1000, got %v", p.got.Config.ThinkingBudget)
	}
}

func TestSend_NonThinkingModelHasNoBudget(t *testing.T) {
	p := &fakeProvider{fragments: textFragments("<thinking>x</thinking>y")}
	r, id := newResponder(t, p)

	msg, err := r.Send(context.Background(), id, SendRequest{Prompt: "q", Settings: withModel(llm.Gemini20Flash)}, nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if p.got.Config.ThinkingBudget != nil {
		t.Error("non-thinking model should not get a budget")
	}
	if msg.Content != "y" || msg.Reasoning != "x" {
		t.Errorf("tags are always classified, got %+v", msg)
	}
}

func TestSend_ExtrasBypassClassifier(t *testing.T) {
	p := &fakeProvider{fragments: []llm.Fragment{
		{Text: "<thinking>draw"},
		{Text: "</thinking>Here:", Extras: "\n\n![Generated Image](data:image/png;base64,AA==)\n\n"},
	}}
	r, id := newResponder(t, p)

	msg, err := r.Send(context.Background(), id, SendRequest{Prompt: "draw a cat", Settings: withModel(llm.Gemini25Pro)}, nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	want := "Here:\n\n![Generated Image](data:image/png;base64,AA==)\n\n"
	if msg.Content != want {
		t.Errorf("content = %q, want %q", msg.Content, want)
	}
	if msg.Reasoning != "draw" {
		t.Errorf("reasoning = %q", msg.Reasoning)
	}
}

func TestSend_CarryOverSplitTag(t *testing.T) {
	p := &fakeProvider{fragments: textFragments("<thi", "nking>hidden</thinking>visible")}
	r, id := newResponder(t, p)
	r.CarryOver = true

	msg, err := r.Send(context.Background(), id, SendRequest{Prompt: "q"}, nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if msg.Content != "visible" || msg.Reasoning != "hidden" {
		t.Errorf("message = %+v", msg)
	}
}

func TestSend_ProviderError(t *testing.T) {
	quota := errors.New("quota exceeded")
	p := &fakeProvider{
		fragments: textFragments("<thinking>partial reasoning", "</thinking>partial answer"),
		err:       quota,
	}
	r, id := newResponder(t, p)

	msg, err := r.Send(context.Background(), id, SendRequest{Prompt: "q", Settings: withModel(llm.Gemini25Pro)}, nil)
	if !errors.Is(err, ErrGeneration) {
		t.Fatalf("err = %v, want ErrGeneration", err)
	}
	if !errors.Is(err, quota) {
		t.Errorf("err = %v, want the provider error kept in the chain", err)
	}
	if msg.Content != ErrorReply {
		t.Errorf("content = %q, want error reply", msg.Content)
	}
	if msg.Reasoning != "partial reasoning" {
		t.Errorf("reasoning = %q", msg.Reasoning)
	}
	session, _ := r.Store.Get(id)
	if session.Messages[1].Content != ErrorReply || session.Messages[1].IsThinking {
		t.Errorf("stored reply = %+v", session.Messages[1])
	}
}

// heldProvider streams before, then blocks until release is closed or the
// context ends, then streams after.
type heldProvider struct {
	before  []string
	after   []string
	started chan struct{}
	release chan struct{}
}

func newHeldProvider(before, after []string) *heldProvider {
	return &heldProvider{before: before, after: after, started: make(chan struct{}), release: make(chan struct{})}
}

func (h *heldProvider) StreamChat(ctx context.Context, _ llm.StreamRequest, onFragment func(llm.Fragment) error) error {
	for _, text := range h.before {
		if err := onFragment(llm.Fragment{Text: text}); err != nil {
			return err
		}
	}
	close(h.started)
	select {
	case <-h.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	for _, text := range h.after {
		if err := onFragment(llm.Fragment{Text: text}); err != nil {
			return err
		}
	}
	return nil
}

func (h *heldProvider) CountTokens(context.Context, string, []llm.Message) (int, error) {
	return 0, nil
}

type sendResult struct {
	msg *Message
	err error
}

func sendAsync(r *Responder, ctx context.Context, id, prompt string) <-chan sendResult {
	done := make(chan sendResult, 1)
	go func() {
		msg, err := r.Send(ctx, id, SendRequest{Prompt: prompt}, nil)
		done <- sendResult{msg, err}
	}()
	return done
}

func TestSend_OverlappingSendsToSameChat(t *testing.T) {
	held := newHeldProvider(nil, []string{"answer-A"})
	r, id := newResponder(t, &fakeProvider{})
	calls := 0
	r.Provider = func(context.Context, settings.Settings) (llm.Provider, error) {
		calls++
		if calls == 1 {
			return held, nil
		}
		return &fakeProvider{fragments: textFragments("answer-C")}, nil
	}

	first := sendAsync(r, context.Background(), id, "A")
	<-held.started

	if _, err := r.Send(context.Background(), id, SendRequest{Prompt: "B"}, nil); !errors.Is(err, ErrBusy) {
		t.Fatalf("overlapping send err = %v, want ErrBusy", err)
	}
	session, _ := r.Store.Get(id)
	if len(session.Messages) != 2 {
		t.Fatalf("rejected send should add nothing, got %d messages", len(session.Messages))
	}

	close(held.release)
	res := <-first
	if res.err != nil || res.msg.Content != "answer-A" {
		t.Fatalf("first send = %+v, %v", res.msg, res.err)
	}

	if _, err := r.Send(context.Background(), id, SendRequest{Prompt: "C"}, nil); err != nil {
		t.Fatalf("send after completion failed: %v", err)
	}
	session, _ = r.Store.Get(id)
	want := []string{"A", "answer-A", "C", "answer-C"}
	if len(session.Messages) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(session.Messages))
	}
	for i, w := range want {
		if session.Messages[i].Content != w {
			t.Errorf("message %d = %q, want %q", i, session.Messages[i].Content, w)
		}
	}
}

func TestSend_OtherChatsNotBlocked(t *testing.T) {
	held := newHeldProvider(nil, []string{"slow"})
	r, id := newResponder(t, &fakeProvider{})
	calls := 0
	r.Provider = func(context.Context, settings.Settings) (llm.Provider, error) {
		calls++
		if calls == 1 {
			return held, nil
		}
		return &fakeProvider{fragments: textFragments("fast")}, nil
	}

	first := sendAsync(r, context.Background(), id, "slow one")
	<-held.started

	other, err := r.Store.Create()
	if err != nil {
		t.Fatal(err)
	}
	msg, err := r.Send(context.Background(), other.ID, SendRequest{Prompt: "quick"}, nil)
	if err != nil || msg.Content != "fast" {
		t.Errorf("other chat send = %+v, %v", msg, err)
	}

	close(held.release)
	if res := <-first; res.err != nil {
		t.Errorf("first send failed: %v", res.err)
	}
}

func TestSend_CancelKeepsPartialReply(t *testing.T) {
	held := newHeldProvider([]string{"<thinking>plan</thinking>", "partial "}, []string{"never sent"})
	r, id := newResponder(t, &fakeProvider{})
	r.Provider = func(context.Context, settings.Settings) (llm.Provider, error) { return held, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := sendAsync(r, ctx, id, "long question")
	<-held.started
	cancel()
	res := <-done

	if !errors.Is(res.err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", res.err)
	}
	if errors.Is(res.err, ErrGeneration) {
		t.Errorf("cancellation should not be reported as a generation failure")
	}
	if res.msg == nil || res.msg.Content != "partial " || res.msg.Reasoning != "plan" {
		t.Fatalf("reply = %+v", res.msg)
	}

	session, _ := r.Store.Get(id)
	stored := session.Messages[1]
	if stored.Content != "partial " || stored.Reasoning != "plan" || stored.IsThinking {
		t.Errorf("stored reply = %+v", stored)
	}
}

func TestSend_HistoryIncludesEarlierTurns(t *testing.T) {
	p := &fakeProvider{fragments: textFragments("first")}
	r, id := newResponder(t, p)
	ctx := context.Background()

	r.Send(ctx, id, SendRequest{Prompt: "one"}, nil)
	p.fragments = textFragments("second")
	r.Send(ctx, id, SendRequest{Prompt: "two"}, nil)

	msgs := p.got.Messages
	if len(msgs) != 3 {
		t.Fatalf("expected 3 history messages, got %d", len(msgs))
	}
	if msgs[0].Content != "one" || msgs[1].Content != "first" || msgs[2].Content != "two" {
		t.Errorf("history = %+v", msgs)
	}
	if msgs[1].Role != llm.RoleModel {
		t.Errorf("role = %q, want model", msgs[1].Role)
	}
}

func TestSend_URLContext(t *testing.T) {
	p := &fakeProvider{fragments: textFragments("ok")}
	r, id := newResponder(t, p)

	s := settings.Defaults()
	s.UseGoogleSearch = true
	s.UseURLContext = true
	s.URLContext = "https://go.dev"
	r.Send(context.Background(), id, SendRequest{Prompt: "what is it?", Settings: s}, nil)

	last := p.got.Messages[len(p.got.Messages)-1].Content
	want := "Using the content from the URL: https://go.dev, answer the following question: what is it?"
	if last != want {
		t.Errorf("prompt = %q, want %q", last, want)
	}
	session, _ := r.Store.Get(id)
	if session.Messages[0].Content != "what is it?" {
		t.Errorf("stored prompt should be un-augmented, got %q", session.Messages[0].Content)
	}
	if !p.got.Config.Tools.GoogleSearch {
		t.Error("google search tool should be enabled")
	}
}

func TestSend_TunedModel(t *testing.T) {
	p := &fakeProvider{fragments: textFragments("salt")}
	r, id := newResponder(t, p)

	reg, err := tuning.NewRegistry(t.TempDir(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()
	tm, err := reg.Start(tuning.TunedModel{
		DisplayName:       "Chef",
		BaseModel:         llm.Gemini20Flash,
		SystemInstruction: "You are a chef.",
		TrainingFiles: []tuning.TrainingFile{
			{Name: "notes.txt", MimeType: "text/plain", DataURL: llm.EncodeDataURL("text/plain", []byte("soup needs salt"))},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	r.Tuned = reg

	if _, err := r.Send(context.Background(), id, SendRequest{Prompt: "what does soup need?", Settings: withModel(tm.ID)}, nil); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if p.got.Model != llm.Gemini20Flash {
		t.Errorf("model = %q, want base model", p.got.Model)
	}
	if p.got.SystemInstruction != "You are a chef." {
		t.Errorf("instruction = %q", p.got.SystemInstruction)
	}
	last := p.got.Messages[len(p.got.Messages)-1].Content
	if !strings.Contains(last, "--- DOCUMENT: notes.txt ---\nsoup needs salt") {
		t.Errorf("augmented prompt missing document: %q", last)
	}
	session, _ := r.Store.Get(id)
	if session.Messages[0].Content != "what does soup need?" {
		t.Errorf("stored prompt = %q", session.Messages[0].Content)
	}
}

func TestSend_MissingTunedModelFallsBack(t *testing.T) {
	p := &fakeProvider{fragments: textFragments("ok")}
	r, id := newResponder(t, p)

	r.Send(context.Background(), id, SendRequest{Prompt: "q", Settings: withModel("tunedModels/gone")}, nil)
	if p.got.Model != llm.DefaultModel {
		t.Errorf("model = %q, want %q", p.got.Model, llm.DefaultModel)
	}
}

func TestSend_StructuredOutputValidation(t *testing.T) {
	s := settings.Defaults()
	s.UseStructuredOutput = true
	s.StructuredOutputSchema = `{"type":"OBJECT","properties":{"recipeName":{"type":"STRING"}},"required":["recipeName"]}`

	p := &fakeProvider{fragments: textFragments(`{"recipeName":"Soup"}`)}
	r, id := newResponder(t, p)
	msg, err := r.Send(context.Background(), id, SendRequest{Prompt: "q", Settings: s}, nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if msg.SchemaError != "" {
		t.Errorf("unexpected schema error %q", msg.SchemaError)
	}

	p.fragments = textFragments(`{"name":"Soup"}`)
	msg, err = r.Send(context.Background(), id, SendRequest{Prompt: "q", Settings: s}, nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if msg.SchemaError == "" {
		t.Error("expected a schema error for a missing required property")
	}
}

func TestSend_IndexesMessages(t *testing.T) {
	idx, err := search.NewMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	p := &fakeProvider{fragments: textFragments("<thinking>consider photosynthesis</thinking>Plants make sugar.")}
	r, id := newResponder(t, p)
	r.Index = idx

	r.Send(context.Background(), id, SendRequest{Prompt: "how do plants eat?"}, nil)

	res, err := idx.Search(context.Background(), "photosynthesis", id, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(res) != 1 || res[0].MessageIndex != 1 {
		t.Errorf("search results = %+v", res)
	}
}

// ========== CountTokens ==========

func TestCountTokens(t *testing.T) {
	p := &fakeProvider{fragments: textFragments("a"), tokens: 42}
	r, id := newResponder(t, p)

	n, err := r.CountTokens(context.Background(), id, settings.Defaults())
	if err != nil || n != 0 {
		t.Errorf("empty chat = %d, %v; want 0", n, err)
	}

	r.Send(context.Background(), id, SendRequest{Prompt: "q"}, nil)
	n, err = r.CountTokens(context.Background(), id, withModel(llm.Gemini25Pro))
	if err != nil || n != 42 {
		t.Errorf("CountTokens = %d, %v; want 42", n, err)
	}
	if p.countModel != llm.Gemini25Pro {
		t.Errorf("counted with %q", p.countModel)
	}
}
