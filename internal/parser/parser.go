// Package parser turns raw source payloads into plain text ready for
// segmenting. Every supported kind has exactly one parse path; paginated
// formats additionally report per-page text so segments can carry page
// locators.
package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/notebookd/internal/detect"
)

// Result is the extracted text of a source. Pages is populated only for
// paginated formats (PDF, scanned documents); Text is always the full
// document and for paginated formats equals the pages joined by blank
// lines.
type Result struct {
	Text  string
	Pages []string
}

// OCR is the slice of the OCR engine the parsers call. Satisfied by
// ocr.Engine.
type OCR interface {
	ImageText(ctx context.Context, image []byte) (string, error)
	PDFPages(ctx context.Context, pdf []byte) ([]string, error)
}

// Set bundles the per-kind parsers behind a single dispatch. The OCR
// engine is shared by the image parser and the scanned-PDF fallback.
type Set struct {
	ocr OCR
}

// NewSet builds the parser set.
func NewSet(engine OCR) *Set {
	return &Set{ocr: engine}
}

// Parse extracts text from data according to kind. The name is used for
// code fence tagging, image placeholders, and error messages only.
func (s *Set) Parse(ctx context.Context, kind, name string, data []byte) (*Result, error) {
	switch kind {
	case detect.KindText, detect.KindMarkdown:
		return parseText(data)
	case detect.KindCode:
		return parseCode(name, data)
	case detect.KindJSON:
		return parseJSON(data)
	case detect.KindYAML:
		return parseYAML(data)
	case detect.KindXML:
		return parseXML(data)
	case detect.KindCSV:
		return parseCSV(data)
	case detect.KindExcel:
		return parseExcel(data)
	case detect.KindDocx:
		return parseDocx(data)
	case detect.KindPDF:
		return s.parsePDF(ctx, data)
	case detect.KindHTML:
		return parseHTML(data)
	case detect.KindImage:
		return s.parseImage(ctx, name, data)
	}
	return nil, fmt.Errorf("no parser for kind %q", kind)
}

func joinPages(pages []string) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, "\n\n")
}
