package markup

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/strikethrough"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

var (
	blankLines    = regexp.MustCompile(`\n{3,}`)
	trailingSpace = regexp.MustCompile(`(?m)[ \t]+$`)

	sanitizer = newSanitizer()
	mdConv    = newConverter()
)

func newSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("font", "center", "u", "s", "strike", "del")
	p.AllowURLSchemes("http", "https", "mailto", "cid", "data")
	return p
}

func newConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(
				commonmark.WithStrongDelimiter("**"),
				commonmark.WithEmDelimiter("*"),
				commonmark.WithBulletListMarker("-"),
				commonmark.WithHorizontalRule("---"),
			),
			strikethrough.NewStrikethroughPlugin(),
			table.NewTablePlugin(),
		),
	)
}

// HTMLToMarkdown sanitises an HTML document or fragment and renders it as Markdown.
// Hard line breaks come out as plain newlines.
func HTMLToMarkdown(src string) (string, error) {
	clean := sanitizer.Sanitize(src)
	out, err := mdConv.ConvertString(clean)
	if err != nil {
		return "", fmt.Errorf("convert html: %w", err)
	}
	out = trailingSpace.ReplaceAllString(out, "")
	out = blankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out), nil
}
