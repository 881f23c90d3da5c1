package parser

import (
	"context"
	"fmt"
)

// parseImage runs OCR over the image. An image with no recognizable text
// still ingests: a placeholder line keeps the source addressable and
// citable by name.
func (s *Set) parseImage(ctx context.Context, name string, data []byte) (*Result, error) {
	text, err := s.ocr.ImageText(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("ocr: %w", err)
	}
	if text == "" {
		return &Result{Text: fmt.Sprintf("[Image file: %s]\nNo text detected in image.", name)}, nil
	}
	return &Result{Text: text}, nil
}
