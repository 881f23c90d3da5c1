// Package ocr extracts text from images and scanned PDFs by invoking the
// tesseract and poppler (pdftoppm) binaries. Both tools are optional at
// runtime: a missing binary fails the single source with a stored reason,
// never the ingestion workers.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
)

// Engine shells out to tesseract for OCR and pdftoppm for PDF rasterizing.
type Engine struct {
	tesseractPath string
	pdftoppmPath  string
}

// New locates the OCR binaries on PATH. Missing binaries are not an
// error here; Available reports them and calls fail with a clear reason.
func New() *Engine {
	e := &Engine{}
	if p, err := exec.LookPath("tesseract"); err == nil {
		e.tesseractPath = p
	}
	if p, err := exec.LookPath("pdftoppm"); err == nil {
		e.pdftoppmPath = p
	}
	return e
}

// Available reports whether image OCR can run at all.
func (e *Engine) Available() bool {
	return e.tesseractPath != ""
}

// ImageText runs tesseract over a single image payload and returns the
// recognized text.
func (e *Engine) ImageText(ctx context.Context, image []byte) (string, error) {
	if e.tesseractPath == "" {
		return "", fmt.Errorf("tesseract not installed")
	}

	cmd := exec.CommandContext(ctx, e.tesseractPath, "stdin", "stdout")
	cmd.Stdin = bytes.NewReader(image)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, firstLine(stderr.String()))
	}
	return strings.TrimSpace(out.String()), nil
}

// PDFPages rasterizes a PDF at 300dpi and OCRs each page, returning
// per-page text in page order.
func (e *Engine) PDFPages(ctx context.Context, pdf []byte) ([]string, error) {
	if e.tesseractPath == "" {
		return nil, fmt.Errorf("tesseract not installed")
	}
	if e.pdftoppmPath == "" {
		return nil, fmt.Errorf("pdftoppm (poppler) not installed")
	}

	dir, err := os.MkdirTemp("", "notebookd-ocr-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	pdfPath := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(pdfPath, pdf, 0o600); err != nil {
		return nil, fmt.Errorf("writing temp pdf: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.pdftoppmPath, "-png", "-r", "300", pdfPath, filepath.Join(dir, "page"))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, firstLine(stderr.String()))
	}

	images, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, err
	}
	// pdftoppm zero-pads page numbers, so lexical order is page order.
	sort.Strings(images)

	pages := make([]string, 0, len(images))
	for _, img := range images {
		data, err := os.ReadFile(img)
		if err != nil {
			return nil, fmt.Errorf("reading rasterized page: %w", err)
		}
		text, err := e.ImageText(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("ocr page %d: %w", len(pages)+1, err)
		}
		pages = append(pages, text)
	}
	return pages, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
