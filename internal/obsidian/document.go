package obsidian

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// document is a Markdown note with optional YAML frontmatter.
type document struct {
	Metadata map[string]any
	Content  string
}

func parseDocument(data []byte) (*document, error) {
	doc := &document{Metadata: map[string]any{}}
	if !bytes.HasPrefix(data, []byte("---\n")) && !bytes.HasPrefix(data, []byte("---\r\n")) {
		doc.Content = string(data)
		return doc, nil
	}

	rest := data[3:]
	parts := bytes.SplitN(rest, []byte("\n---"), 2)
	if len(parts) == 1 {
		return nil, errors.New("frontmatter started but no closing delimiter found")
	}
	if err := yaml.Unmarshal(parts[0], &doc.Metadata); err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if doc.Metadata == nil {
		doc.Metadata = map[string]any{}
	}
	content := strings.TrimPrefix(string(parts[1]), "\r")
	content = strings.TrimPrefix(content, "\n")
	doc.Content = content
	return doc, nil
}

func (d *document) bytes() ([]byte, error) {
	var buf bytes.Buffer
	if len(d.Metadata) > 0 {
		buf.WriteString("---\n")
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(d.Metadata); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		buf.WriteString("---\n")
	}
	buf.WriteString(d.Content)
	return buf.Bytes(), nil
}

// tags returns the frontmatter tag list.
func (d *document) tags() []string {
	switch v := d.Metadata["tags"].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return strings.Fields(v)
	}
	return nil
}

// addTags merges tags into the frontmatter, ignoring case duplicates.
func (d *document) addTags(tags []string) {
	current := d.tags()
	for _, tag := range tags {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
		if tag == "" {
			continue
		}
		dup := false
		for _, c := range current {
			if strings.EqualFold(c, tag) {
				dup = true
				break
			}
		}
		if !dup {
			current = append(current, tag)
		}
	}
	if len(current) > 0 {
		d.Metadata["tags"] = current
	}
}
