// Package obsidian writes routed notes into an Obsidian vault on disk: one
// folder per container, Markdown files with YAML frontmatter, attachments
// stored beside the note.
package obsidian

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkmhub/pkmhub/internal/attachment"
	"github.com/pkmhub/pkmhub/internal/notes"
)

// maxCopies bounds the name-N suffixes tried before giving up.
const maxCopies = 9

var unsafeName = strings.NewReplacer("/", "-", "\\", "-", ":", "-", "*", "", "?", "", "\"", "", "<", "", ">", "", "|", "-")

// ErrNameTaken is returned when a note and all its numbered copies exist.
var ErrNameTaken = errors.New("obsidian: file name already taken")

// Options controls container resolution.
type Options struct {
	DefaultFolder    string
	AutoCreateFolder bool
	Logger           *log.Logger
}

// Vault is a notes.Destination backed by a directory tree.
type Vault struct {
	root string
	opts Options
}

// NewVault returns a vault rooted at dir.
func NewVault(dir string, opts Options) *Vault {
	if strings.TrimSpace(opts.DefaultFolder) == "" {
		opts.DefaultFolder = "Inbox"
	}
	return &Vault{root: dir, opts: opts}
}

func (v *Vault) Name() string { return "obsidian" }

// AcceptsHTML is false; callers convert HTML to Markdown first.
func (v *Vault) AcceptsHTML() bool { return false }

// ResolveContainer maps name onto a top-level folder of the vault, matched
// case-insensitively. The returned id is the folder name relative to the root.
func (v *Vault) ResolveContainer(_ context.Context, name string) (string, error) {
	name = strings.TrimSpace(unsafeName.Replace(name))
	if name == "" {
		return v.ensureFolder(v.opts.DefaultFolder)
	}
	entries, err := os.ReadDir(v.root)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("obsidian: read vault: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && strings.EqualFold(e.Name(), name) {
			return e.Name(), nil
		}
	}
	if v.opts.AutoCreateFolder {
		v.logf("creating folder %s", name)
		return v.ensureFolder(name)
	}
	v.logf("folder %s not found, using %s", name, v.opts.DefaultFolder)
	return v.ensureFolder(v.opts.DefaultFolder)
}

func (v *Vault) ensureFolder(name string) (string, error) {
	if err := os.MkdirAll(filepath.Join(v.root, name), 0o755); err != nil {
		return "", fmt.Errorf("obsidian: create folder %s: %w", name, err)
	}
	return name, nil
}

// CreateNote writes a new Markdown file, picking the first free name among
// title.md, title-1.md ... title-9.md.
func (v *Vault) CreateNote(_ context.Context, draft notes.Draft) (notes.Ref, error) {
	folder := draft.ContainerID
	if folder == "" {
		folder = v.opts.DefaultFolder
	}
	if _, err := v.ensureFolder(folder); err != nil {
		return notes.Ref{}, err
	}

	doc := &document{Metadata: map[string]any{}, Content: draft.Body}
	if !draft.CreatedTime.IsZero() {
		doc.Metadata["created"] = draft.CreatedTime.Format(time.RFC3339)
	}
	if !draft.Due.IsZero() {
		doc.Metadata["due"] = draft.Due.Format(time.RFC3339)
	}
	data, err := doc.bytes()
	if err != nil {
		return notes.Ref{}, fmt.Errorf("obsidian: encode %s: %w", draft.Title, err)
	}

	base := strings.TrimSpace(unsafeName.Replace(draft.Title))
	if base == "" {
		base = "Untitled"
	}
	rel, err := v.createExclusive(folder, base, ".md", data)
	if err != nil {
		return notes.Ref{}, err
	}
	if !draft.CreatedTime.IsZero() {
		_ = os.Chtimes(filepath.Join(v.root, rel), draft.CreatedTime, draft.CreatedTime)
	}
	return notes.Ref{ID: rel, Title: strings.TrimSuffix(filepath.Base(rel), ".md"), ContainerID: folder}, nil
}

// createExclusive writes data under the first unused name and returns the
// vault-relative path.
func (v *Vault) createExclusive(folder, base, ext string, data []byte) (string, error) {
	for i := 0; i <= maxCopies; i++ {
		name := base + ext
		if i > 0 {
			name = fmt.Sprintf("%s-%d%s", base, i, ext)
		}
		rel := filepath.Join(folder, name)
		f, err := os.OpenFile(filepath.Join(v.root, rel), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("obsidian: create %s: %w", rel, err)
		}
		_, werr := f.Write(data)
		cerr := f.Close()
		if err := errors.Join(werr, cerr); err != nil {
			return "", fmt.Errorf("obsidian: write %s: %w", rel, err)
		}
		return rel, nil
	}
	return "", fmt.Errorf("%w: %s%s", ErrNameTaken, filepath.Join(folder, base), ext)
}

func (v *Vault) readNote(rel string) (*document, error) {
	data, err := os.ReadFile(filepath.Join(v.root, rel))
	if err != nil {
		return nil, fmt.Errorf("obsidian: read %s: %w", rel, err)
	}
	return parseDocument(data)
}

func (v *Vault) writeNote(rel string, doc *document) error {
	data, err := doc.bytes()
	if err != nil {
		return fmt.Errorf("obsidian: encode %s: %w", rel, err)
	}
	if err := os.WriteFile(filepath.Join(v.root, rel), data, 0o644); err != nil {
		return fmt.Errorf("obsidian: write %s: %w", rel, err)
	}
	return nil
}

// AppendToNote appends text below the body using the standard separator.
func (v *Vault) AppendToNote(_ context.Context, note notes.Ref, text string) error {
	doc, err := v.readNote(note.ID)
	if err != nil {
		return err
	}
	updated, changed := notes.AppendText(doc.Content, text)
	if !changed {
		return nil
	}
	doc.Content = updated
	return v.writeNote(note.ID, doc)
}

// TagNote records tags in the note frontmatter.
func (v *Vault) TagNote(_ context.Context, note notes.Ref, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	doc, err := v.readNote(note.ID)
	if err != nil {
		return err
	}
	doc.addTags(tags)
	return v.writeNote(note.ID, doc)
}

// UploadResource writes data next to the note. Generic image names such as
// image001.png are prefixed with the note name so they stay unique.
func (v *Vault) UploadResource(_ context.Context, note notes.Ref, filename, mimeType string, data []byte) (notes.Resource, error) {
	folder := filepath.Dir(note.ID)
	name := filepath.Base(strings.TrimSpace(unsafeName.Replace(filename)))
	if name == "" || name == "." {
		name = "attachment"
	}
	if strings.HasPrefix(strings.ToLower(name), "image") && note.Title != "" {
		name = note.Title + name[len("image"):]
	}
	ext := filepath.Ext(name)
	rel, err := v.createExclusive(folder, strings.TrimSuffix(name, ext), ext, data)
	if err != nil {
		return notes.Resource{}, err
	}
	return notes.Resource{ID: rel, Name: filepath.Base(rel), Mime: mimeType}, nil
}

// ResourceLink embeds the attachment with a wikilink. Thumbnails are not
// needed; Obsidian previews PDFs itself.
func (v *Vault) ResourceLink(res notes.Resource, _ attachment.Kind, _ *notes.Resource) string {
	return "![[" + res.Name + "]]"
}

func (v *Vault) logf(format string, args ...any) {
	if v.opts.Logger != nil {
		v.opts.Logger.Printf(format, args...)
	}
}
