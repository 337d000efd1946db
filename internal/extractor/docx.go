package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/nguyenthenguyen/docx"
)

// charsPerPage groups DOCX paragraphs into logical pages, since the format
// has no physical page breaks.
const charsPerPage = 3000

// ExtractDOCX extracts paragraph text from an in-memory DOCX file.
func ExtractDOCX(data []byte) ([]Page, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to read docx: %w", err)
	}
	defer r.Close()

	return paginate(splitDOCXParagraphs(r.Editable().GetContent())), nil
}

func paginate(paragraphs []string) []Page {
	var pages []Page
	var pageBuf strings.Builder
	pageNum := 1

	for _, para := range paragraphs {
		text := strings.TrimSpace(para)
		if text == "" {
			continue
		}
		if pageBuf.Len() > 0 && pageBuf.Len()+len(text) > charsPerPage {
			pages = append(pages, Page{Number: pageNum, Text: strings.TrimSpace(pageBuf.String())})
			pageNum++
			pageBuf.Reset()
		}
		if pageBuf.Len() > 0 {
			pageBuf.WriteString("\n")
		}
		pageBuf.WriteString(text)
	}
	if pageBuf.Len() > 0 {
		pages = append(pages, Page{Number: pageNum, Text: strings.TrimSpace(pageBuf.String())})
	}
	return pages
}

// splitDOCXParagraphs splits document XML on <w:p> tags and strips markup.
func splitDOCXParagraphs(xmlStr string) []string {
	var paragraphs []string
	for _, part := range strings.Split(xmlStr, "<w:p") {
		cleaned := strings.TrimSpace(stripTags(part))
		if cleaned != "" {
			paragraphs = append(paragraphs, cleaned)
		}
	}
	return paragraphs
}

func stripTags(xmlStr string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range xmlStr {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
