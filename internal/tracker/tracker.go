// Package tracker decides whether a source note or task was already routed
// and applies the processed marker once routing succeeds.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/pkmhub/pkmhub/internal/joplin"
)

// Strategy is the processed-marker applied to a note.
type Strategy int

const (
	Delete Strategy = iota + 1
	Tag
	Archive
)

func (s Strategy) String() string {
	switch s {
	case Delete:
		return "delete"
	case Tag:
		return "tag"
	case Archive:
		return "archive"
	default:
		return "none"
	}
}

// ErrNoStrategy means neither deletion, a processed tag nor an archive
// notebook is configured.
var ErrNoStrategy = errors.New("tracker: no processed-marker strategy configured (set delete, processed tag or archive notebook)")

// Config selects the strategy. Delete wins over Tag, Tag over Archive.
type Config struct {
	Delete          bool
	ProcessedTag    string
	ArchiveNotebook string
}

// FromConfig picks the strategy for cfg.
func FromConfig(cfg Config) (Strategy, error) {
	switch {
	case cfg.Delete:
		return Delete, nil
	case strings.TrimSpace(cfg.ProcessedTag) != "":
		return Tag, nil
	case strings.TrimSpace(cfg.ArchiveNotebook) != "":
		return Archive, nil
	}
	return 0, ErrNoStrategy
}

// NoteStore is the part of the Joplin client the tracker needs.
type NoteStore interface {
	NoteTags(ctx context.Context, noteID string) ([]joplin.Tag, error)
	TagByName(ctx context.Context, name string) (*joplin.Tag, error)
	CreateTag(ctx context.Context, title string) (*joplin.Tag, error)
	AddTagToNote(ctx context.Context, tagID, noteID string) error
	DeleteNote(ctx context.Context, noteID string) error
	NotebookByName(ctx context.Context, name string) (*joplin.Notebook, error)
	CreateNotebook(ctx context.Context, title string) (*joplin.Notebook, error)
	MoveNote(ctx context.Context, noteID, notebookID string) error
}

// NoteTracker marks Joplin notes as processed.
type NoteTracker struct {
	store    NoteStore
	cfg      Config
	strategy Strategy
	logger   *log.Logger

	archiveID string
}

// NewNoteTracker fails with ErrNoStrategy when cfg selects nothing.
func NewNoteTracker(store NoteStore, cfg Config, logger *log.Logger) (*NoteTracker, error) {
	strategy, err := FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &NoteTracker{store: store, cfg: cfg, strategy: strategy, logger: logger}, nil
}

// Strategy returns the configured marker.
func (t *NoteTracker) Strategy() Strategy { return t.strategy }

// IsProcessed reports whether note carries the processed tag, or already
// sits in the archive notebook.
func (t *NoteTracker) IsProcessed(ctx context.Context, note joplin.Note) (bool, error) {
	if name := strings.TrimSpace(t.cfg.ProcessedTag); name != "" {
		tags, err := t.store.NoteTags(ctx, note.ID)
		if err != nil {
			return false, fmt.Errorf("list tags of %q: %w", note.Title, err)
		}
		for _, tag := range tags {
			if strings.EqualFold(tag.Title, name) {
				return true, nil
			}
		}
	}
	if t.strategy == Archive {
		nb, err := t.store.NotebookByName(ctx, t.cfg.ArchiveNotebook)
		if err != nil {
			return false, fmt.Errorf("lookup archive notebook: %w", err)
		}
		if nb != nil && nb.ID == note.ParentID {
			return true, nil
		}
	}
	return false, nil
}

// MarkProcessed applies the configured marker. Call it only after every other
// step for the note succeeded.
func (t *NoteTracker) MarkProcessed(ctx context.Context, note joplin.Note) error {
	switch t.strategy {
	case Delete:
		t.logf("deleting note %q", note.Title)
		if err := t.store.DeleteNote(ctx, note.ID); err != nil {
			return fmt.Errorf("delete note %q: %w", note.Title, err)
		}
	case Tag:
		tag, err := t.processedTag(ctx)
		if err != nil {
			return err
		}
		t.logf("tagging note %q as %s", note.Title, tag.Title)
		if err := t.store.AddTagToNote(ctx, tag.ID, note.ID); err != nil {
			return fmt.Errorf("tag note %q: %w", note.Title, err)
		}
	case Archive:
		id, err := t.archiveNotebook(ctx)
		if err != nil {
			return err
		}
		if note.ParentID == id {
			t.logf("note %q is already in notebook %s", note.Title, t.cfg.ArchiveNotebook)
			return nil
		}
		t.logf("archiving note %q", note.Title)
		if err := t.store.MoveNote(ctx, note.ID, id); err != nil {
			return fmt.Errorf("move note %q: %w", note.Title, err)
		}
	default:
		return ErrNoStrategy
	}
	return nil
}

func (t *NoteTracker) processedTag(ctx context.Context) (*joplin.Tag, error) {
	tag, err := t.store.TagByName(ctx, t.cfg.ProcessedTag)
	if err != nil {
		return nil, fmt.Errorf("lookup processed tag: %w", err)
	}
	if tag != nil {
		return tag, nil
	}
	t.logf("tag %s does not exist, creating", t.cfg.ProcessedTag)
	tag, err = t.store.CreateTag(ctx, t.cfg.ProcessedTag)
	if err != nil {
		return nil, fmt.Errorf("create processed tag: %w", err)
	}
	return tag, nil
}

func (t *NoteTracker) archiveNotebook(ctx context.Context) (string, error) {
	if t.archiveID != "" {
		return t.archiveID, nil
	}
	nb, err := t.store.NotebookByName(ctx, t.cfg.ArchiveNotebook)
	if err != nil {
		return "", fmt.Errorf("lookup archive notebook: %w", err)
	}
	if nb == nil {
		t.logf("archive notebook %s not found, creating", t.cfg.ArchiveNotebook)
		nb, err = t.store.CreateNotebook(ctx, t.cfg.ArchiveNotebook)
		if err != nil {
			return "", fmt.Errorf("create archive notebook: %w", err)
		}
	}
	t.archiveID = nb.ID
	return nb.ID, nil
}

func (t *NoteTracker) logf(format string, args ...any) {
	if t.logger != nil {
		t.logger.Printf(format, args...)
	}
}
