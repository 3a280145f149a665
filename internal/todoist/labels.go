package todoist

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// MaxCommentLength is the longest comment the hub sends; longer text is cut
// and marked with an ellipsis.
const MaxCommentLength = 15000

// LabelName normalises a note tag into a label name: title case, no spaces.
func LabelName(tag string) string {
	titled := cases.Title(language.Und).String(strings.TrimSpace(tag))
	return strings.Join(strings.Fields(titled), "")
}

// TruncateComment limits text to MaxCommentLength runes.
func TruncateComment(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxCommentLength {
		return text
	}
	return string(runes[:MaxCommentLength-3]) + "..."
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
