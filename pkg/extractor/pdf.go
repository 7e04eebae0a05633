// Package extractor turns PDF bytes into text.
package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/pdfbot/slack-pdf-backend/pkg/errors"
)

// DefaultPromptPages is the number of leading pages sent to the AI model.
const DefaultPromptPages = 2

// headerWindow is how far into the content the %PDF- marker may appear.
const headerWindow = 1024

var pdfMarker = []byte("%PDF-")

// Result is the text of a PDF document.
type Result struct {
	// Pages holds the text of each page, in page order. Pages without a
	// content stream yield an empty string so indices match page numbers.
	Pages []string
	// FullText is the concatenation of every page's text.
	FullText string
	// PromptText is the filename header followed by the leading pages, the
	// excerpt the metadata inference reads.
	PromptText string
}

// PDFExtractor extracts page text from PDF documents.
type PDFExtractor struct {
	promptPages int
}

// NewPDFExtractor creates an extractor whose prompt excerpt covers the first
// promptPages pages. Non-positive values fall back to DefaultPromptPages.
func NewPDFExtractor(promptPages int) *PDFExtractor {
	if promptPages <= 0 {
		promptPages = DefaultPromptPages
	}
	return &PDFExtractor{promptPages: promptPages}
}

// IsPDF reports whether content carries the PDF file signature.
func IsPDF(content []byte) bool {
	head := content
	if len(head) > headerWindow {
		head = head[:headerWindow]
	}
	return bytes.Contains(head, pdfMarker)
}

// Extract reads every page of content. Content that is not a PDF, or that the
// parser rejects, returns an error wrapping errors.ErrNotPDF.
func (e *PDFExtractor) Extract(content []byte, filename string) (_ *Result, err error) {
	if len(content) == 0 || !IsPDF(content) {
		return nil, fmt.Errorf("%s: %w", filename, errors.ErrNotPDF)
	}

	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: parsing pdf: %v: %w", filename, r, errors.ErrNotPDF)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%s: opening pdf: %v: %w", filename, err, errors.ErrNotPDF)
	}

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("%s: reading page %d: %v: %w", filename, i, err, errors.ErrNotPDF)
		}
		pages = append(pages, text)
	}

	return &Result{
		Pages:      pages,
		FullText:   strings.Join(pages, ""),
		PromptText: PromptText(filename, pages, e.promptPages),
	}, nil
}

// PromptText builds the excerpt for metadata inference: a FILENAME header,
// since titles and dates often appear in the filename, followed by the text
// of the first maxPages pages.
func PromptText(filename string, pages []string, maxPages int) string {
	if maxPages > len(pages) {
		maxPages = len(pages)
	}
	if maxPages < 0 {
		maxPages = 0
	}
	return "FILENAME: " + filename + "\n\n" + strings.Join(pages[:maxPages], "")
}
