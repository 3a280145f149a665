package joplin

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/pkmhub/pkmhub/internal/attachment"
	"github.com/pkmhub/pkmhub/internal/notes"
)

// DestinationOptions controls container resolution.
type DestinationOptions struct {
	DefaultNotebook    string
	AutoCreateNotebook bool
	Logger             *log.Logger
}

// Destination writes routed content into Joplin notebooks.
type Destination struct {
	client *Client
	opts   DestinationOptions
}

// NewDestination wraps client as a notes.Destination.
func NewDestination(client *Client, opts DestinationOptions) *Destination {
	if strings.TrimSpace(opts.DefaultNotebook) == "" {
		opts.DefaultNotebook = "Inbox"
	}
	return &Destination{client: client, opts: opts}
}

// Name returns "joplin".
func (d *Destination) Name() string { return "joplin" }

// ShowsPreviews is true; PDFs link through their thumbnail.
func (d *Destination) ShowsPreviews() bool { return true }

// AcceptsHTML is true; Joplin converts body_html to Markdown itself.
func (d *Destination) AcceptsHTML() bool { return true }

// ResolveContainer looks a notebook up by case-insensitive name. A missing
// notebook is created when auto-create is on; otherwise the default notebook
// is used, created if it does not exist yet.
func (d *Destination) ResolveContainer(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return d.defaultNotebook(ctx)
	}
	nb, err := d.client.NotebookByName(ctx, name)
	if err != nil {
		return "", fmt.Errorf("lookup notebook %s: %w", name, err)
	}
	if nb != nil {
		return nb.ID, nil
	}
	if d.opts.AutoCreateNotebook {
		d.logf("creating notebook %s", name)
		nb, err = d.client.CreateNotebook(ctx, name)
		if err != nil {
			return "", fmt.Errorf("create notebook %s: %w", name, err)
		}
		return nb.ID, nil
	}
	d.logf("notebook %s not found, using %s", name, d.opts.DefaultNotebook)
	return d.defaultNotebook(ctx)
}

func (d *Destination) defaultNotebook(ctx context.Context) (string, error) {
	nb, err := d.client.NotebookByName(ctx, d.opts.DefaultNotebook)
	if err != nil {
		return "", fmt.Errorf("lookup default notebook: %w", err)
	}
	if nb == nil {
		d.logf("default notebook %s not found, creating it", d.opts.DefaultNotebook)
		nb, err = d.client.CreateNotebook(ctx, d.opts.DefaultNotebook)
		if err != nil {
			return "", fmt.Errorf("create default notebook: %w", err)
		}
	}
	return nb.ID, nil
}

// CreateNote creates the note in draft.ContainerID.
func (d *Destination) CreateNote(ctx context.Context, draft notes.Draft) (notes.Ref, error) {
	n := NewNote{Title: draft.Title, ParentID: draft.ContainerID}
	if draft.HTML {
		n.BodyHTML = draft.Body
	} else {
		n.Body = draft.Body
	}
	if !draft.CreatedTime.IsZero() {
		n.CreatedTime = draft.CreatedTime.UnixMilli()
	}
	if !draft.Due.IsZero() {
		n.TodoDue = draft.Due.UnixMilli()
	}
	note, err := d.client.CreateNote(ctx, n)
	if err != nil {
		return notes.Ref{}, fmt.Errorf("create note %q: %w", draft.Title, err)
	}
	return notes.Ref{ID: note.ID, Title: note.Title, ContainerID: note.ParentID}, nil
}

// AppendToNote appends text below the current body.
func (d *Destination) AppendToNote(ctx context.Context, note notes.Ref, text string) error {
	return AppendToNote(ctx, d.client, note.ID, text)
}

// BodyStore reads and writes note bodies; *Client implements it.
type BodyStore interface {
	NoteBody(ctx context.Context, id string) (string, error)
	SetNoteBody(ctx context.Context, id, body string) error
}

// AppendToNote appends text to a note body using the standard separator.
// Blank text leaves the note untouched.
func AppendToNote(ctx context.Context, c BodyStore, noteID, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	body, err := c.NoteBody(ctx, noteID)
	if err != nil {
		return fmt.Errorf("read note body: %w", err)
	}
	updated, _ := notes.AppendText(body, text)
	if err := c.SetNoteBody(ctx, noteID, updated); err != nil {
		return fmt.Errorf("update note body: %w", err)
	}
	return nil
}

// TagNote attaches tags to the note, creating missing ones.
func (d *Destination) TagNote(ctx context.Context, note notes.Ref, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	existing, err := d.client.Tags(ctx)
	if err != nil {
		return fmt.Errorf("list tags: %w", err)
	}
	for _, name := range tags {
		tag, err := d.ensureTag(ctx, existing, name)
		if err != nil {
			return err
		}
		if err := d.client.AddTagToNote(ctx, tag.ID, note.ID); err != nil {
			return fmt.Errorf("tag note with %s: %w", name, err)
		}
	}
	return nil
}

func (d *Destination) ensureTag(ctx context.Context, existing []Tag, name string) (*Tag, error) {
	for i := range existing {
		if strings.EqualFold(existing[i].Title, name) {
			return &existing[i], nil
		}
	}
	d.logf("creating tag %s", name)
	tag, err := d.client.CreateTag(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create tag %s: %w", name, err)
	}
	return tag, nil
}

// UploadResource stores data as a Joplin resource.
func (d *Destination) UploadResource(ctx context.Context, _ notes.Ref, filename, mimeType string, data []byte) (notes.Resource, error) {
	res, err := d.client.UploadResource(ctx, filename, mimeType, data)
	if err != nil {
		return notes.Resource{}, fmt.Errorf("upload %s: %w", filename, err)
	}
	return notes.Resource{ID: res.ID, Name: filename, Mime: mimeType}, nil
}

// ResourceLink renders Joplin's :/id resource markup.
func (d *Destination) ResourceLink(res notes.Resource, kind attachment.Kind, thumb *notes.Resource) string {
	return ResourceLink(res, kind, thumb)
}

// ResourceLink renders a Joplin link to res. Images are embedded; a PDF with a
// thumbnail shows the thumbnail linked to the document.
func ResourceLink(res notes.Resource, kind attachment.Kind, thumb *notes.Resource) string {
	switch {
	case kind == attachment.PDF && thumb != nil:
		return fmt.Sprintf("[![%s](:/%s)](:/%s)", res.Name, thumb.ID, res.ID)
	case kind == attachment.Image:
		return fmt.Sprintf("![%s](:/%s)", res.Name, res.ID)
	default:
		return fmt.Sprintf("[%s](:/%s)", res.Name, res.ID)
	}
}

func (d *Destination) logf(format string, args ...any) {
	if d.opts.Logger != nil {
		d.opts.Logger.Printf(format, args...)
	}
}
