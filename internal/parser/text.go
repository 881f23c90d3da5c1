package parser

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/notebookd/internal/detect"
)

func parseText(data []byte) (*Result, error) {
	text := decodeText(data)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("file contains no text")
	}
	return &Result{Text: text}, nil
}

// parseCode wraps source code in a fenced block so the language survives
// into the model context.
func parseCode(name string, data []byte) (*Result, error) {
	text := decodeText(data)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("file contains no text")
	}
	lang := detect.CodeLanguage(name)
	return &Result{Text: fmt.Sprintf("```%s\n%s\n```", lang, strings.TrimRight(text, "\n"))}, nil
}

// decodeText interprets a payload as UTF-8, stripping a BOM and replacing
// invalid byte sequences so downstream stages always see valid strings.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}
