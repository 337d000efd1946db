// Package extractor turns uploaded documents into plain text.
package extractor

import (
	"errors"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	ErrUnsupported = errors.New("unsupported document type")
	ErrNoText      = errors.New("no text in document")
)

const docxMime = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// ExtractText returns the text content of a document identified by name and
// mime type. Plain text must be valid UTF-8.
func ExtractText(name, mimeType string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case strings.HasPrefix(mimeType, "text/"):
		if !utf8.Valid(data) {
			return "", ErrNoText
		}
		return string(data), nil
	case mimeType == "application/pdf" || ext == ".pdf":
		pages, err := ExtractPDF(data)
		if err != nil {
			return "", err
		}
		return joinPages(pages), nil
	case mimeType == docxMime || ext == ".docx":
		pages, err := ExtractDOCX(data)
		if err != nil {
			return "", err
		}
		return joinPages(pages), nil
	default:
		return "", ErrUnsupported
	}
}

// IsDocument reports whether ExtractText can read the file.
func IsDocument(name, mimeType string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return strings.HasPrefix(mimeType, "text/") ||
		mimeType == "application/pdf" || ext == ".pdf" ||
		mimeType == docxMime || ext == ".docx"
}

func joinPages(pages []Page) string {
	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, "\n\n")
}
