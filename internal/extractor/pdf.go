package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Page is the text of one page (or logical page) of a document.
type Page struct {
	Number int
	Text   string
}

// ExtractPDF extracts text from an in-memory PDF, one entry per page with
// text. Pages without extractable text are skipped.
func ExtractPDF(data []byte) ([]Page, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	var pages []Page
	numPages := r.NumPage()
	for pageIndex := 1; pageIndex <= numPages; pageIndex++ {
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Number: pageIndex, Text: text})
	}

	if len(pages) == 0 && numPages > 0 {
		return nil, fmt.Errorf("%w: no text extracted (scanned PDF?)", ErrNoText)
	}
	return pages, nil
}
