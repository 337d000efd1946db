package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"rexpro/internal/chat"
	"rexpro/internal/config"
	"rexpro/internal/llm"
	"rexpro/internal/settings"
)

type scriptedProvider struct {
	fragments []string
	got       llm.StreamRequest
}

func (p *scriptedProvider) StreamChat(_ context.Context, req llm.StreamRequest, onFragment func(llm.Fragment) error) error {
	p.got = req
	for _, f := range p.fragments {
		if err := onFragment(llm.Fragment{Text: f}); err != nil {
			return err
		}
	}
	return nil
}

func (p *scriptedProvider) CountTokens(context.Context, string, []llm.Message) (int, error) {
	return 0, nil
}

func execute(t *testing.T, p *scriptedProvider, dataDir string, args ...string) (string, string, error) {
	t.Helper()
	d := deps{
		cfg: config.Config{Provider: "gemini", GeminiAPIKey: "AIza-test", DataDir: dataDir},
		provider: func(context.Context, settings.Settings) (llm.Provider, error) {
			return p, nil
		},
	}
	cmd := newRootCommand(d)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestAsk_StreamsVisibleOnly(t *testing.T) {
	p := &scriptedProvider{fragments: []string{"<thinking>weigh ", "options</thinking>Use ", "Go."}}
	out, errOut, err := execute(t, p, t.TempDir(), "which language?")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if out != "Use Go.\n" {
		t.Errorf("stdout = %q", out)
	}
	if errOut != "" {
		t.Errorf("stderr = %q, want reasoning hidden", errOut)
	}
}

func TestAsk_ShowThinking(t *testing.T) {
	p := &scriptedProvider{fragments: []string{"<thinking>weigh ", "options</thinking>Use Go."}}
	out, errOut, err := execute(t, p, t.TempDir(), "--show-thinking", "which language?")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if out != "Use Go.\n" || errOut != "weigh options\n" {
		t.Errorf("stdout = %q, stderr = %q", out, errOut)
	}
}

func TestAsk_ModelAndThinkFlags(t *testing.T) {
	p := &scriptedProvider{fragments: []string{"ok"}}
	_, _, err := execute(t, p, t.TempDir(), "--model", llm.Gemini25Flash, "--think", "--budget", "1024", "hi")
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if p.got.Model != llm.Gemini25Flash {
		t.Errorf("model = %q", p.got.Model)
	}
	if p.got.Config.ThinkingBudget == nil || *p.got.Config.ThinkingBudget != 1024 {
		t.Errorf("thinking budget = %v", p.got.Config.ThinkingBudget)
	}
	if !strings.Contains(p.got.SystemInstruction, llm.ThinkingInstruction) {
		t.Errorf("system instruction missing thinking instruction: %q", p.got.SystemInstruction)
	}
}

func TestAsk_SaveRecordsChat(t *testing.T) {
	dir := t.TempDir()
	p := &scriptedProvider{fragments: []string{"saved answer"}}
	if _, _, err := execute(t, p, dir, "--save", "remember this"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}

	store, err := chat.NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	sess, err := store.Get(store.Active())
	if err != nil {
		t.Fatal(err)
	}
	if len(sess.Messages) != 2 || sess.Messages[1].Content != "saved answer" {
		t.Errorf("messages = %+v", sess.Messages)
	}
}

func TestAsk_EmptyPrompt(t *testing.T) {
	_, _, err := execute(t, &scriptedProvider{}, t.TempDir())
	if !errors.Is(err, chat.ErrEmptyPrompt) {
		t.Errorf("err = %v, want ErrEmptyPrompt", err)
	}
}
