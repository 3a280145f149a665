package joplin

import "strings"

// Notebook is a Joplin folder.
type Notebook struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Title    string `json:"title"`
}

// Tag is a Joplin tag.
type Tag struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id"`
	Title    string `json:"title"`
}

// Note is the subset of note fields the hub reads.
type Note struct {
	ID        string `json:"id"`
	ParentID  string `json:"parent_id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	SourceURL string `json:"source_url"`
	IsTodo    int    `json:"is_todo"`
	// TodoDue is epoch milliseconds; zero means no due date.
	TodoDue int64 `json:"todo_due"`
}

// Resource is an attachment stored by Joplin.
type Resource struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Mime          string `json:"mime"`
	Filename      string `json:"filename"`
	FileExtension string `json:"file_extension"`
	Size          int64  `json:"size"`
}

// Name returns the best file name for the resource.
func (r Resource) Name() string {
	switch {
	case r.Filename != "":
		return r.Filename
	case r.Title != "" && r.FileExtension != "" && !strings.Contains(r.Title, "."):
		return r.Title + "." + r.FileExtension
	case r.Title != "":
		return r.Title
	case r.FileExtension != "":
		return r.ID + "." + r.FileExtension
	}
	return r.ID
}

// NewNote describes a note to create.
type NewNote struct {
	Title    string
	Body     string
	BodyHTML string
	ParentID string
	// CreatedTime and TodoDue are epoch milliseconds; zero leaves them unset.
	CreatedTime int64
	TodoDue     int64
}

// Container is where notes are grouped: either a tag or a notebook.
type Container interface {
	ContainerID() string
	ContainerTitle() string
	notesPath() string
}

// TagContainer groups the notes carrying a tag.
type TagContainer struct{ Tag Tag }

// ContainerID returns the tag id.
func (c TagContainer) ContainerID() string { return c.Tag.ID }

// ContainerTitle returns the tag title.
func (c TagContainer) ContainerTitle() string { return c.Tag.Title }

func (c TagContainer) notesPath() string { return "/tags/" + c.Tag.ID + "/notes" }

// NotebookContainer groups the notes inside a notebook.
type NotebookContainer struct{ Notebook Notebook }

// ContainerID returns the notebook id.
func (c NotebookContainer) ContainerID() string { return c.Notebook.ID }

// ContainerTitle returns the notebook title.
func (c NotebookContainer) ContainerTitle() string { return c.Notebook.Title }

func (c NotebookContainer) notesPath() string { return "/folders/" + c.Notebook.ID + "/notes" }
