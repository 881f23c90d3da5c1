// Package detect classifies uploaded files and URLs into the closed set
// of source kinds the parser set understands.
package detect

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// Source kinds. Each kind is bound to exactly one parser (or to the
// transcription pipeline for audio).
const (
	KindPDF      = "pdf"
	KindDocx     = "docx"
	KindText     = "text"
	KindMarkdown = "markdown"
	KindJSON     = "json"
	KindCSV      = "csv"
	KindExcel    = "excel"
	KindYAML     = "yaml"
	KindXML      = "xml"
	KindHTML     = "html"
	KindCode     = "code"
	KindImage    = "image"
	KindAudio    = "audio"
	KindWeb      = "web"
)

// ErrUnsupportedFormat is returned when neither the extension nor the
// content sniff yields a known kind.
var ErrUnsupportedFormat = errors.New("unsupported format")

var extensionKinds = map[string]string{
	// Documents
	".txt":  KindText,
	".md":   KindMarkdown,
	".pdf":  KindPDF,
	".docx": KindDocx,
	".doc":  KindDocx,
	// Structured data
	".json": KindJSON,
	".csv":  KindCSV,
	".xlsx": KindExcel,
	".xls":  KindExcel,
	".yaml": KindYAML,
	".yml":  KindYAML,
	".xml":  KindXML,
	// Web
	".html": KindHTML,
	".htm":  KindHTML,
	// Images (OCR)
	".png": KindImage, ".jpg": KindImage, ".jpeg": KindImage, ".gif": KindImage,
	".bmp": KindImage, ".tiff": KindImage, ".webp": KindImage,
	// Audio
	".mp3": KindAudio, ".wav": KindAudio, ".m4a": KindAudio, ".flac": KindAudio,
	".ogg": KindAudio, ".aac": KindAudio, ".wma": KindAudio,
}

// codeLanguages maps source-code extensions to the fence language tag
// used when rendering the file for the model.
var codeLanguages = map[string]string{
	".py": "python", ".js": "javascript", ".ts": "typescript",
	".jsx": "javascript", ".tsx": "typescript", ".java": "java",
	".cpp": "cpp", ".c": "c", ".h": "c", ".rs": "rust", ".go": "go",
	".rb": "ruby", ".php": "php", ".swift": "swift", ".kt": "kotlin",
	".sql": "sql", ".sh": "bash", ".bash": "bash", ".css": "css",
	".scss": "scss", ".less": "less", ".vue": "vue", ".svelte": "svelte",
	".r": "r", ".scala": "scala", ".lua": "lua", ".perl": "perl", ".pl": "perl",
}

// Detect classifies a filename plus payload into a kind, using the
// extension first and falling back to content sniffing.
func Detect(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if kind, ok := extensionKinds[ext]; ok {
		return kind, nil
	}
	if _, ok := codeLanguages[ext]; ok {
		return KindCode, nil
	}

	mime := http.DetectContentType(data)
	switch {
	case strings.HasPrefix(mime, "text/html"):
		return KindHTML, nil
	case strings.HasPrefix(mime, "text/xml"), strings.Contains(mime, "xml"):
		return KindXML, nil
	case strings.HasPrefix(mime, "text/"):
		return KindText, nil
	case mime == "application/pdf":
		return KindPDF, nil
	case strings.HasPrefix(mime, "image/"):
		return KindImage, nil
	case strings.HasPrefix(mime, "audio/"), strings.HasPrefix(mime, "video/"):
		return KindAudio, nil
	}

	return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, filename, mime)
}

// CodeLanguage returns the fence language tag for a code file, or "code"
// when the extension is not in the table.
func CodeLanguage(filename string) string {
	if lang, ok := codeLanguages[strings.ToLower(filepath.Ext(filename))]; ok {
		return lang
	}
	return "code"
}

// IsYouTubeURL reports whether a URL points at YouTube and should be
// resolved to an audio stream for transcription.
func IsYouTubeURL(url string) bool {
	return strings.Contains(url, "youtube.com") || strings.Contains(url, "youtu.be")
}
