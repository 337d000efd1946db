package search

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := NewMemory()
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

// ========== IndexMessage / Search ==========

func TestSearch_FindsContentAndReasoning(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	mustIndex(t, idx, 0, Document{ChatID: "chat-a", Role: "user", Content: "how do I bake sourdough bread"})
	mustIndex(t, idx, 1, Document{ChatID: "chat-a", Role: "model", Content: "Use a starter.", Reasoning: "the user wants fermentation advice"})
	mustIndex(t, idx, 0, Document{ChatID: "chat-b", Role: "user", Content: "tell me about rockets"})

	res, err := idx.Search(ctx, "sourdough", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res))
	}
	if res[0].ChatID != "chat-a" || res[0].MessageIndex != 0 {
		t.Errorf("result = %+v, want chat-a/0", res[0])
	}
	if res[0].Role != "user" {
		t.Errorf("role = %q, want user", res[0].Role)
	}
	if !strings.Contains(res[0].Snippet, "sourdough") {
		t.Errorf("snippet %q does not mention the match", res[0].Snippet)
	}

	res, err = idx.Search(ctx, "fermentation", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || res[0].MessageIndex != 1 {
		t.Errorf("reasoning search = %+v, want chat-a/1", res)
	}
}

func TestSearch_ScopedToChat(t *testing.T) {
	idx := newTestIndex(t)
	mustIndex(t, idx, 0, Document{ChatID: "chat-a", Content: "orbital mechanics"})
	mustIndex(t, idx, 0, Document{ChatID: "chat-b", Content: "orbital rockets"})

	res, err := idx.Search(context.Background(), "orbital", "chat-b", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || res[0].ChatID != "chat-b" {
		t.Errorf("scoped search = %+v, want only chat-b", res)
	}
}

func TestSearch_BlankQuery(t *testing.T) {
	idx := newTestIndex(t)
	res, err := idx.Search(context.Background(), "   ", "", 10)
	if err != nil || res != nil {
		t.Errorf("blank query = %v, %v; want nil, nil", res, err)
	}
}

func TestIndexMessage_ReplacesAndRemoves(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	mustIndex(t, idx, 1, Document{ChatID: "c", Content: "draft answer"})
	mustIndex(t, idx, 1, Document{ChatID: "c", Content: "final answer"})

	if res, _ := idx.Search(ctx, "draft", "", 10); len(res) != 0 {
		t.Errorf("replaced text still matches: %+v", res)
	}
	if res, _ := idx.Search(ctx, "final", "", 10); len(res) != 1 {
		t.Errorf("expected the replacement to match, got %+v", res)
	}

	mustIndex(t, idx, 1, Document{ChatID: "c"})
	if res, _ := idx.Search(ctx, "final", "", 10); len(res) != 0 {
		t.Errorf("emptied message still matches: %+v", res)
	}
}

// ========== DeleteChat ==========

func TestDeleteChat(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	mustIndex(t, idx, 0, Document{ChatID: "3f1c-aa", Content: "quantum tunnelling"})
	mustIndex(t, idx, 1, Document{ChatID: "3f1c-aa", Content: "quantum entanglement"})
	mustIndex(t, idx, 0, Document{ChatID: "other", Content: "quantum computers"})

	if err := idx.DeleteChat(ctx, "3f1c-aa"); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	res, err := idx.Search(ctx, "quantum", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || res[0].ChatID != "other" {
		t.Errorf("after delete = %+v, want only other", res)
	}
}

// ========== Open ==========

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "search.bleve")
	idx, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mustIndex(t, idx, 0, Document{ChatID: "c", Content: "persistent note"})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	res, err := idx.Search(context.Background(), "persistent", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 {
		t.Errorf("expected 1 result after reopen, got %d", len(res))
	}
}

func TestParseDocID(t *testing.T) {
	chat, n, ok := parseDocID("tunedModels/x/3")
	if !ok || chat != "tunedModels/x" || n != 3 {
		t.Errorf("parseDocID = %q, %d, %v", chat, n, ok)
	}
	if _, _, ok := parseDocID("nope"); ok {
		t.Error("expected failure without a slash")
	}
}

func mustIndex(t *testing.T, idx *Index, n int, doc Document) {
	t.Helper()
	if err := idx.IndexMessage(n, doc); err != nil {
		t.Fatalf("IndexMessage: %v", err)
	}
}
