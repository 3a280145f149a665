// Package routing derives a title, tags and destination container from an
// e-mail subject line or an imported file name.
package routing

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"
)

const (
	// DefaultTitlePrefix is used for generated titles when nothing is configured.
	DefaultTitlePrefix = "Untitled"

	unknownSubject   = "[Subject Unknown]"
	maxSubjectLength = 1000
)

var (
	containerToken = regexp.MustCompile(`\s@([\w-]+)`)
	tagToken       = regexp.MustCompile(`\s#([\w-]+)`)

	// 2024-01-05, 2024-01-05 10.11.12, optionally followed by " - ".
	filenameStamp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(?:\s\d{2}\.\d{2}\.\d{2})?\s?-?\s?`)
	filenameTags  = regexp.MustCompile(`\[\s*(\w+(?:\s+\w+)*)\s*\]\s*$`)
)

// Decision is the routing information derived from a subject or file name.
type Decision struct {
	Title string
	Tags  []string
	// Container is empty when no explicit destination token was present.
	Container string
	// FallbackTitle is set when Title was generated because no title text survived.
	FallbackTitle bool
}

// Parser holds the settings shared by subject and file name parsing.
type Parser struct {
	TitlePrefix string
	Now         func() time.Time
}

// NewParser returns a parser that uses prefix for generated titles.
func NewParser(prefix string) *Parser {
	return &Parser{TitlePrefix: prefix, Now: time.Now}
}

// Subject normalises a raw subject header the way the mailbox jobs report it.
func Subject(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return unknownSubject
	}
	if len(s) >= maxSubjectLength {
		return s[:maxSubjectLength-4] + "..."
	}
	return s
}

// ParseSubject extracts tags (" #tag"), the first container token (" @name")
// and the remaining title text. Tokens only count when preceded by whitespace,
// so "Report@Work" stays literal text.
func (p *Parser) ParseSubject(subject string) Decision {
	var d Decision

	var cuts [][]int
	// Only the first container token is removed; later ones stay in the title.
	if m := containerToken.FindStringSubmatchIndex(subject); m != nil {
		d.Container = subject[m[2]:m[3]]
		cuts = append(cuts, m[:2])
	}
	for _, m := range tagToken.FindAllStringSubmatchIndex(subject, -1) {
		d.Tags = append(d.Tags, subject[m[2]:m[3]])
		cuts = append(cuts, m[:2])
	}
	d.Tags = dedupeFold(d.Tags)

	title := strings.Join(strings.Fields(cut(subject, cuts)), " ")
	if title == "" {
		d.Title = p.fallbackTitle()
		d.FallbackTitle = true
		return d
	}
	d.Title = title
	return d
}

// cut replaces each [start, end) span of s with a space. Spans must not overlap.
func cut(s string, spans [][]int) string {
	slices.SortFunc(spans, func(a, b []int) int { return a[0] - b[0] })
	var b strings.Builder
	last := 0
	for _, sp := range spans {
		b.WriteString(s[last:sp[0]])
		b.WriteByte(' ')
		last = sp[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// ParseFilename strips an optional leading date stamp and an optional trailing
// "[tag1 tag2]" list from a file name; the stem without extension is the title.
func (p *Parser) ParseFilename(name string) Decision {
	var d Decision

	base := filepath.Base(name)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = filenameStamp.ReplaceAllString(stem, "")

	if m := filenameTags.FindStringSubmatchIndex(stem); m != nil {
		d.Tags = dedupeFold(strings.Fields(stem[m[2]:m[3]]))
		stem = stem[:m[0]]
	}

	title := strings.TrimSpace(stem)
	if title == "" {
		d.Title = p.fallbackTitle()
		d.FallbackTitle = true
		return d
	}
	d.Title = title
	return d
}

func (p *Parser) fallbackTitle() string {
	prefix := strings.TrimSpace(p.TitlePrefix)
	if prefix == "" {
		prefix = DefaultTitlePrefix
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return fmt.Sprintf("%s - %s", prefix, now().Format("2006-01-02 15:04:05"))
}

// dedupeFold removes case-insensitive duplicates, keeping the first spelling.
func dedupeFold(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}
