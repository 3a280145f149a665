// Package notes defines the destination a routed item is written to, shared by
// the Joplin and Obsidian back ends.
package notes

import (
	"context"
	"strings"
	"time"

	"github.com/pkmhub/pkmhub/internal/attachment"
)

// Separator is placed between existing note content and appended text.
const Separator = "\n\n---\n\n"

// Draft describes a note to create.
type Draft struct {
	Title string
	Body  string
	// HTML marks Body as HTML; only destinations that accept HTML receive it raw.
	HTML        bool
	ContainerID string
	CreatedTime time.Time
	Due         time.Time
}

// Ref identifies a created note.
type Ref struct {
	ID          string
	Title       string
	ContainerID string
}

// Resource is an uploaded attachment.
type Resource struct {
	ID   string
	Name string
	Mime string
}

// Destination is a note store that routed content is written into.
type Destination interface {
	Name() string
	// AcceptsHTML reports whether CreateNote takes HTML bodies as-is.
	AcceptsHTML() bool
	// ResolveContainer maps a container name (empty for the default) to an id.
	ResolveContainer(ctx context.Context, name string) (string, error)
	CreateNote(ctx context.Context, draft Draft) (Ref, error)
	// AppendToNote adds text to the end of the note; blank text is ignored.
	AppendToNote(ctx context.Context, note Ref, text string) error
	TagNote(ctx context.Context, note Ref, tags []string) error
	UploadResource(ctx context.Context, note Ref, filename, mimeType string, data []byte) (Resource, error)
	// ResourceLink renders the markup that references res from the note body.
	// thumb is an optional preview image for PDFs.
	ResourceLink(res Resource, kind attachment.Kind, thumb *Resource) string
}

// Previewer is implemented by destinations whose ResourceLink shows a PDF
// through a preview image. Other destinations get no thumbnail uploaded.
type Previewer interface {
	ShowsPreviews() bool
}

// AppendText joins text to body using Separator. It reports false when text
// is blank and nothing should change.
func AppendText(body, text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return body, false
	}
	if strings.TrimSpace(body) == "" {
		return text, true
	}
	return body + Separator + text, true
}
