// Package files lists the files attached to or produced in a conversation.
package files

import (
	"fmt"
	"regexp"
	"strings"

	"rexpro/internal/chat"
	"rexpro/internal/llm"

	"github.com/alecthomas/chroma/v2/lexers"
)

type Kind string

const (
	KindImage Kind = "image"
	KindCode  Kind = "code"
)

// GeneratedFile is an image or code snippet found in a model answer.
// Content is a data URL for images and the raw source for code.
type GeneratedFile struct {
	Name         string `json:"name"`
	Kind         Kind   `json:"kind"`
	Content      string `json:"content"`
	Language     string `json:"language,omitempty"`
	MimeType     string `json:"mime_type"`
	MessageIndex int    `json:"message_index"`
}

// Upload is a user attachment addressed by its position in the chat.
type Upload struct {
	MessageIndex    int    `json:"message_index"`
	AttachmentIndex int    `json:"attachment_index"`
	Name            string `json:"name"`
	MimeType        string `json:"mime_type"`
	DataURL         string `json:"data_url"`
}

var (
	imageRe = regexp.MustCompile(`!\[(.*?)\]\((data:image/[^;]+;base64,[A-Za-z0-9+/=]+)\)`)
	codeRe  = regexp.MustCompile("```(\\w*)\\n([\\s\\S]*?)\\n```")
)

// Generated scans model messages for markdown data-URL images and fenced code
// blocks, in message order.
func Generated(messages []chat.Message) []GeneratedFile {
	var out []GeneratedFile
	images, snippets := 0, 0
	for i, msg := range messages {
		if msg.Role != llm.RoleModel {
			continue
		}
		for _, m := range imageRe.FindAllStringSubmatch(msg.Content, -1) {
			images++
			name := m[1]
			if name == "" {
				name = fmt.Sprintf("generated-image-%d.png", images)
			}
			mimeType, _, _ := strings.Cut(strings.TrimPrefix(m[2], "data:"), ";")
			out = append(out, GeneratedFile{
				Name:         name,
				Kind:         KindImage,
				Content:      m[2],
				MimeType:     mimeType,
				MessageIndex: i,
			})
		}
		for _, m := range codeRe.FindAllStringSubmatch(msg.Content, -1) {
			snippets++
			lang := strings.ToLower(m[1])
			if lang == "" {
				lang = DetectLanguage(m[2])
			}
			out = append(out, GeneratedFile{
				Name:         fmt.Sprintf("code-snippet-%d.%s", snippets, Extension(lang)),
				Kind:         KindCode,
				Content:      m[2],
				Language:     lang,
				MimeType:     MimeForLanguage(lang),
				MessageIndex: i,
			})
		}
	}
	return out
}

// Uploads lists the attachments of user messages.
func Uploads(messages []chat.Message) []Upload {
	var out []Upload
	for i, msg := range messages {
		if msg.Role != llm.RoleUser {
			continue
		}
		for j, att := range msg.Attachments {
			out = append(out, Upload{
				MessageIndex:    i,
				AttachmentIndex: j,
				Name:            att.Name,
				MimeType:        att.MimeType,
				DataURL:         att.DataURL,
			})
		}
	}
	return out
}

// DetectLanguage guesses the language of an unlabelled code block, or
// returns "text".
func DetectLanguage(code string) string {
	if lexer := lexers.Analyse(code); lexer != nil {
		return strings.ToLower(lexer.Config().Name)
	}
	return "text"
}

// Extension picks a file extension for lang from the lexer's filename
// patterns.
func Extension(lang string) string {
	if lexer := lexers.Get(lang); lexer != nil {
		for _, pattern := range lexer.Config().Filenames {
			ext, ok := strings.CutPrefix(pattern, "*.")
			if ok && ext != "" && !strings.ContainsAny(ext, "*?[]{}") {
				return ext
			}
		}
	}
	if lang == "" || lang == "text" {
		return "txt"
	}
	return lang
}

var languageMimes = map[string]string{
	"json":       "application/json",
	"js":         "application/javascript",
	"javascript": "application/javascript",
	"ts":         "application/typescript",
	"typescript": "application/typescript",
	"html":       "text/html",
	"css":        "text/css",
	"md":         "text/markdown",
	"python":     "text/x-python",
	"shell":      "application/x-sh",
	"bash":       "application/x-sh",
}

// MimeForLanguage maps a code fence language to a download mime type.
func MimeForLanguage(lang string) string {
	if m, ok := languageMimes[strings.ToLower(lang)]; ok {
		return m
	}
	return "text/plain"
}
