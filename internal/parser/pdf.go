package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ocrThreshold is the minimum extracted text length below which a PDF is
// treated as a scan and sent through OCR.
const ocrThreshold = 100

// parsePDF extracts per-page text from the embedded text layer, falling
// back to OCR when the layer is empty or near-empty (scanned documents).
func (s *Set) parsePDF(ctx context.Context, data []byte) (*Result, error) {
	pages, textLen, err := pdfTextPages(data)
	if err != nil || textLen < ocrThreshold {
		ocrPages, ocrErr := s.ocr.PDFPages(ctx, data)
		if ocrErr != nil {
			if err != nil {
				return nil, fmt.Errorf("extracting pdf text: %w (ocr fallback: %v)", err, ocrErr)
			}
			return nil, fmt.Errorf("pdf has no text layer and ocr failed: %w", ocrErr)
		}
		if joined := joinPages(ocrPages); joined != "" {
			return &Result{Text: joined, Pages: ocrPages}, nil
		}
		return nil, fmt.Errorf("document contains no text")
	}
	return &Result{Text: joinPages(pages), Pages: pages}, nil
}

func pdfTextPages(data []byte) ([]string, int, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, 0, fmt.Errorf("opening pdf: %w", err)
	}

	total := 0
	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single corrupt page should not sink the document.
			pages = append(pages, "")
			continue
		}
		text = strings.ToValidUTF8(text, "")
		pages = append(pages, text)
		total += utf8.RuneCountInString(strings.TrimSpace(text))
	}
	return pages, total, nil
}
