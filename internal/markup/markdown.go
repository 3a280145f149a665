// Package markup converts between the HTML found in mail bodies and the
// Markdown stored in notes and task comments.
package markup

import (
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	// resourceRef matches note resource links and embeds: [x](:/0123abcd), ![x](:/0123abcd)
	// and the thumbnail form [![x](:/thumb)](:/file).
	resourceRef = regexp.MustCompile(`\[!\[[^\]]*\]\(:/[0-9a-fA-F]+\)\]\(:/[0-9a-fA-F]+\)|!?\[[^\]]*\]\(:/[0-9a-fA-F]+\)`)

	// tableSeparator matches a Markdown table delimiter row such as |---|:--:|.
	tableSeparator = regexp.MustCompile(`(?m)^\s*\|?\s*:?-{3,}:?\s*(?:\|\s*:?-{3,}:?\s*)+\|?\s*$`)

	md = goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Table,
			extension.Strikethrough,
		),
		goldmark.WithRendererOptions(
			html.WithUnsafe(),
		),
	)
)

// StripResourceRefs removes resource links from a note body and trims the result.
func StripResourceRefs(body string) string {
	return strings.TrimSpace(resourceRef.ReplaceAllString(body, ""))
}

// HasTable reports whether the Markdown contains a table delimiter row.
func HasTable(markdown string) bool {
	return tableSeparator.MatchString(markdown)
}

// RenderMarkdown converts Markdown (including GFM tables) to an HTML fragment.
func RenderMarkdown(markdown string) (string, error) {
	var buf strings.Builder
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderDocument wraps RenderMarkdown output in a standalone HTML page.
func RenderDocument(title, markdown string) (string, error) {
	body, err := RenderMarkdown(markdown)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>")
	b.WriteString(escapeText(title))
	b.WriteString("</title>\n</head>\n<body>\n")
	b.WriteString(body)
	b.WriteString("</body>\n</html>\n")
	return b.String(), nil
}

func escapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
