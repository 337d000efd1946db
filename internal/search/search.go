// Package search keeps a full-text index of chat messages.
package search

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sirupsen/logrus"
)

const snippetRunes = 160

// Document is the indexed form of one chat message.
type Document struct {
	ChatID    string `json:"chat_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Reasoning string `json:"reasoning"`
}

// Result is a matching message.
type Result struct {
	ChatID       string  `json:"chat_id"`
	MessageIndex int     `json:"message_index"`
	Role         string  `json:"role"`
	Snippet      string  `json:"snippet"`
	Score        float64 `json:"score"`
}

type Index struct {
	bleve bleve.Index
}

// Open opens the index at path, creating it on first use.
func Open(path string) (*Index, error) {
	var idx bleve.Index
	var err error
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		idx, err = bleve.New(path, newMapping())
	} else {
		idx, err = bleve.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	return &Index{bleve: idx}, nil
}

// NewMemory returns an index that lives only in memory.
func NewMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, err
	}
	return &Index{bleve: idx}, nil
}

func newMapping() mapping.IndexMapping {
	keyword := bleve.NewKeywordFieldMapping()
	keyword.IncludeInAll = false
	text := bleve.NewTextFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("chat_id", keyword)
	doc.AddFieldMappingsAt("role", keyword)
	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("reasoning", text)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

func docID(chatID string, msgIndex int) string {
	return chatID + "/" + strconv.Itoa(msgIndex)
}

func parseDocID(id string) (string, int, bool) {
	slash := strings.LastIndex(id, "/")
	if slash < 0 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[slash+1:])
	if err != nil {
		return "", 0, false
	}
	return id[:slash], n, true
}

// IndexMessage adds or replaces a message. Messages with no text are removed.
func (i *Index) IndexMessage(msgIndex int, doc Document) error {
	id := docID(doc.ChatID, msgIndex)
	if strings.TrimSpace(doc.Content) == "" && strings.TrimSpace(doc.Reasoning) == "" {
		return i.bleve.Delete(id)
	}
	if err := i.bleve.Index(id, doc); err != nil {
		return fmt.Errorf("index %s: %w", id, err)
	}
	return nil
}

// DeleteChat removes every message of a chat.
func (i *Index) DeleteChat(ctx context.Context, chatID string) error {
	q := bleve.NewTermQuery(chatID)
	q.SetField("chat_id")
	for {
		req := bleve.NewSearchRequestOptions(q, 500, 0, false)
		res, err := i.bleve.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("find chat %s: %w", chatID, err)
		}
		if len(res.Hits) == 0 {
			return nil
		}
		batch := i.bleve.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := i.bleve.Batch(batch); err != nil {
			return fmt.Errorf("delete chat %s: %w", chatID, err)
		}
		logrus.WithFields(logrus.Fields{"chat": chatID, "messages": len(res.Hits)}).Debug("removed chat from search index")
	}
}

// Search runs a match query over message content and reasoning. A non-empty
// chatID restricts results to that chat.
func (i *Index) Search(ctx context.Context, text, chatID string, size int) ([]Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if size <= 0 {
		size = 10
	}

	var q query.Query = bleve.NewMatchQuery(text)
	if chatID != "" {
		chat := bleve.NewTermQuery(chatID)
		chat.SetField("chat_id")
		q = bleve.NewConjunctionQuery(q, chat)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = size
	req.Fields = []string{"role", "content"}
	req.Highlight = bleve.NewHighlight()

	res, err := i.bleve.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search error: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		chat, n, ok := parseDocID(hit.ID)
		if !ok {
			continue
		}
		role, _ := hit.Fields["role"].(string)
		results = append(results, Result{
			ChatID:       chat,
			MessageIndex: n,
			Role:         role,
			Snippet:      snippet(hit.Fragments, hit.Fields),
			Score:        hit.Score,
		})
	}
	return results, nil
}

func snippet(fragments map[string][]string, fields map[string]interface{}) string {
	for _, field := range []string{"content", "reasoning"} {
		if frags := fragments[field]; len(frags) > 0 {
			return frags[0]
		}
	}
	content, _ := fields["content"].(string)
	if utf8.RuneCountInString(content) <= snippetRunes {
		return content
	}
	return string([]rune(content)[:snippetRunes]) + "…"
}

func (i *Index) Close() error {
	return i.bleve.Close()
}
