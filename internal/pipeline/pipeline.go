// Package pipeline implements the routing jobs: each job drains one source
// (mailbox, directory, tagged notes, labelled tasks), writes the content to its
// destination and marks the source item processed.
package pipeline

import (
	"context"
	"errors"
	"log"

	"github.com/pkmhub/pkmhub/internal/email/outbound"
	"github.com/pkmhub/pkmhub/internal/joplin"
	"github.com/pkmhub/pkmhub/internal/todoist"
)

// Job names, in run order.
const (
	JobMailForward  = "mail-forward"
	JobMailToNote   = "mail-to-note"
	JobFileToNote   = "file-to-note"
	JobOCRTag       = "ocr-tag"
	JobNoteToKindle = "note-to-kindle"
	JobNoteToTask   = "note-to-task"
	JobNoteToTrello = "note-to-trello"
	JobTaskToNote   = "task-to-note"
)

// JobOrder is the fixed sequence the runner follows.
var JobOrder = []string{
	JobMailForward,
	JobMailToNote,
	JobFileToNote,
	JobOCRTag,
	JobNoteToKindle,
	JobNoteToTask,
	JobNoteToTrello,
	JobTaskToNote,
}

// Job is one routing step. Item failures are reported in the Report; an error
// is returned only when the job could not run at all.
type Job interface {
	Name() string
	Run(ctx context.Context) (*Report, error)
}

// ItemResult records what happened to one source item.
type ItemResult struct {
	Item   string
	Action string // created, forwarded, skipped, failed, ...
	Err    error
}

// Report collects the item results of one job run.
type Report struct {
	Job     string
	Results []ItemResult
}

func newReport(job string) *Report { return &Report{Job: job} }

func (r *Report) add(item, action string, err error) {
	if err != nil {
		action = "failed"
	}
	r.Results = append(r.Results, ItemResult{Item: item, Action: action, Err: err})
}

// Failed counts the failed items.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Count returns how many items ended with action.
func (r *Report) Count(action string) int {
	n := 0
	for _, res := range r.Results {
		if res.Action == action {
			n++
		}
	}
	return n
}

// Err joins every item error, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}

// TextExtractor turns PDF and image bytes into quoted text.
type TextExtractor interface {
	PDFText(ctx context.Context, data []byte) (string, error)
	ImageText(ctx context.Context, filename string, data []byte) (string, error)
}

// Thumbnailer renders a preview of the first PDF page.
type Thumbnailer interface {
	PDFThumbnail(data []byte) ([]byte, error)
}

// MailSender delivers outgoing mail.
type MailSender interface {
	SendRaw(to []string, raw []byte) error
	Send(msg *outbound.Message) error
}

// NoteStore is the read side of the Joplin client used by the note-sourced
// jobs. *joplin.Client implements it.
type NoteStore interface {
	joplin.BodyStore
	TagByName(ctx context.Context, name string) (*joplin.Tag, error)
	NotebookByName(ctx context.Context, name string) (*joplin.Notebook, error)
	ListNotes(ctx context.Context, container joplin.Container) ([]joplin.Note, error)
	NoteTags(ctx context.Context, noteID string) ([]joplin.Tag, error)
	NoteResources(ctx context.Context, noteID string) ([]joplin.Resource, error)
	ResourceFile(ctx context.Context, resourceID string) ([]byte, error)
	RemoveTagFromNote(ctx context.Context, tagID, noteID string) error
}

// NoteTracker applies the processed marker to notes.
type NoteTracker interface {
	IsProcessed(ctx context.Context, note joplin.Note) (bool, error)
	MarkProcessed(ctx context.Context, note joplin.Note) error
}

// TaskService is the part of the Todoist client the task jobs use.
type TaskService interface {
	Project(ctx context.Context, id string) (*todoist.Project, error)
	ProjectByName(ctx context.Context, name string) (*todoist.Project, error)
	CreateProject(ctx context.Context, name string) (*todoist.Project, error)
	EnsureLabels(ctx context.Context, tags []string) ([]string, error)
	CreateTask(ctx context.Context, task todoist.NewTask) (*todoist.Task, error)
	AddComment(ctx context.Context, taskID, content string) (*todoist.Comment, error)
	AddFileComment(ctx context.Context, taskID, filename, mimeType string, data []byte) (*todoist.Comment, error)
	TasksByLabel(ctx context.Context, label string) ([]todoist.Task, error)
	SubTasks(ctx context.Context, task todoist.Task) ([]todoist.Task, error)
	Comments(ctx context.Context, taskID string) ([]todoist.Comment, error)
}

// TaskTracker applies the processed marker to tasks.
type TaskTracker interface {
	IsProcessed(task todoist.Task) bool
	MarkProcessed(ctx context.Context, task todoist.Task) error
}

// sourceContainer resolves a job source: a tag when one is named, otherwise
// a notebook. It returns nil when neither exists.
func sourceContainer(ctx context.Context, store NoteStore, tagName, notebookName string) (joplin.Container, error) {
	if tagName != "" {
		tag, err := store.TagByName(ctx, tagName)
		if err != nil || tag == nil {
			return nil, err
		}
		return joplin.TagContainer{Tag: *tag}, nil
	}
	if notebookName != "" {
		nb, err := store.NotebookByName(ctx, notebookName)
		if err != nil || nb == nil {
			return nil, err
		}
		return joplin.NotebookContainer{Notebook: *nb}, nil
	}
	return nil, nil
}

func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}
