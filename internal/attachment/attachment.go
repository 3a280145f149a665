// Package attachment classifies message parts and imported files by kind
// (image, PDF, text, other) from their file name and MIME type.
package attachment

import (
	"mime"
	"path/filepath"
	"strings"
)

// Kind is the closed set of content kinds the pipeline knows how to handle.
type Kind int

const (
	Text Kind = iota
	HTML
	PDF
	Image
	Other
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case HTML:
		return "html"
	case PDF:
		return "pdf"
	case Image:
		return "image"
	default:
		return "other"
	}
}

type rule struct {
	kind       Kind
	extensions []string
	mimeTypes  []string
}

// rules are checked in order; the first match wins.
var rules = []rule{
	{kind: Text, extensions: []string{".txt", ".md"}, mimeTypes: []string{"text/plain"}},
	{kind: HTML, extensions: []string{".html", ".htm"}, mimeTypes: []string{"text/html"}},
	{kind: PDF, extensions: []string{".pdf"}, mimeTypes: []string{"application/pdf"}},
	{kind: Image, extensions: []string{".jpg", ".jpeg", ".png", ".gif"}, mimeTypes: []string{"image/jpeg", "image/png", "image/gif"}},
}

// Classify maps a filename and declared MIME type onto a Kind. It never fails:
// anything unrecognised is Other.
func Classify(filename, mimeType string) Kind {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	media := normalizeMediaType(mimeType)
	for _, r := range rules {
		if ext != "" && contains(r.extensions, ext) {
			return r.kind
		}
		if media != "" && contains(r.mimeTypes, media) {
			return r.kind
		}
	}
	return Other
}

// TypeByFilename guesses a MIME type from the file extension, falling back to
// application/octet-stream.
func TypeByFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == ".md" {
		return "text/markdown"
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return normalizeMediaType(t)
	}
	return "application/octet-stream"
}

func normalizeMediaType(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(value); err == nil {
		return strings.ToLower(parsed)
	}
	if i := strings.Index(value, ";"); i >= 0 {
		value = value[:i]
	}
	return strings.ToLower(strings.TrimSpace(value))
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
