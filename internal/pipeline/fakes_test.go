package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkmhub/pkmhub/internal/attachment"
	"github.com/pkmhub/pkmhub/internal/email/inbound/connector"
	"github.com/pkmhub/pkmhub/internal/email/outbound"
	"github.com/pkmhub/pkmhub/internal/joplin"
	"github.com/pkmhub/pkmhub/internal/notes"
	"github.com/pkmhub/pkmhub/internal/todoist"
)

type fakeNote struct {
	draft     notes.Draft
	body      string
	tags      []string
	resources []notes.Resource
}

type fakeDest struct {
	html      bool
	notes     []*fakeNote
	uploads   int
	createErr error
	noPreview bool
}

func (d *fakeDest) Name() string        { return "fake" }
func (d *fakeDest) AcceptsHTML() bool   { return d.html }
func (d *fakeDest) ShowsPreviews() bool { return !d.noPreview }

func (d *fakeDest) ResolveContainer(_ context.Context, name string) (string, error) {
	if name == "" {
		return "default", nil
	}
	return "nb-" + strings.ToLower(name), nil
}

func (d *fakeDest) CreateNote(_ context.Context, draft notes.Draft) (notes.Ref, error) {
	if d.createErr != nil {
		return notes.Ref{}, d.createErr
	}
	d.notes = append(d.notes, &fakeNote{draft: draft, body: draft.Body})
	return notes.Ref{ID: fmt.Sprint(len(d.notes) - 1), Title: draft.Title, ContainerID: draft.ContainerID}, nil
}

func (d *fakeDest) note(ref notes.Ref) *fakeNote {
	var i int
	fmt.Sscan(ref.ID, &i)
	return d.notes[i]
}

func (d *fakeDest) AppendToNote(_ context.Context, ref notes.Ref, text string) error {
	n := d.note(ref)
	n.body, _ = notes.AppendText(n.body, text)
	return nil
}

func (d *fakeDest) TagNote(_ context.Context, ref notes.Ref, tags []string) error {
	n := d.note(ref)
	n.tags = append(n.tags, tags...)
	return nil
}

func (d *fakeDest) UploadResource(_ context.Context, ref notes.Ref, filename, mimeType string, _ []byte) (notes.Resource, error) {
	d.uploads++
	res := notes.Resource{ID: fmt.Sprintf("%032x", d.uploads), Name: filename, Mime: mimeType}
	n := d.note(ref)
	n.resources = append(n.resources, res)
	return res, nil
}

func (d *fakeDest) ResourceLink(res notes.Resource, kind attachment.Kind, thumb *notes.Resource) string {
	return joplin.ResourceLink(res, kind, thumb)
}

type fakeExtractor struct {
	pdf, image string
	err        error
}

func (e *fakeExtractor) PDFText(context.Context, []byte) (string, error) { return e.pdf, e.err }

func (e *fakeExtractor) ImageText(context.Context, string, []byte) (string, error) {
	return e.image, e.err
}

type fakeSender struct {
	raw  [][]string
	sent []*outbound.Message
	err  error
}

func (s *fakeSender) SendRaw(to []string, _ []byte) error {
	if s.err != nil {
		return s.err
	}
	s.raw = append(s.raw, to)
	return nil
}

func (s *fakeSender) Send(msg *outbound.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

// fakeFetcher hands its messages to the handler and reports the ones that
// would have been archived.
type fakeFetcher struct {
	messages [][]byte
	archived []string
	err      error
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) Fetch(ctx context.Context, _ connector.Account, h connector.Handler) (connector.Summary, error) {
	var sum connector.Summary
	if f.err != nil {
		return sum, f.err
	}
	for i, raw := range f.messages {
		uid := fmt.Sprint(i + 1)
		sum.Fetched++
		if err := h.Handle(ctx, &connector.FetchedMessage{UID: uid, Raw: raw, ReceivedAt: time.Now()}); err != nil {
			sum.Failed++
			continue
		}
		sum.Handled++
		sum.Archived++
		f.archived = append(f.archived, uid)
	}
	return sum, nil
}

type fakeNoteStore struct {
	tags      map[string]joplin.Tag
	tagged    map[string][]joplin.Note
	noteTags  map[string][]joplin.Tag
	resources map[string][]joplin.Resource
	files     map[string][]byte
	bodies    map[string]string
	removed   []string
}

func newFakeNoteStore() *fakeNoteStore {
	return &fakeNoteStore{
		tags:      map[string]joplin.Tag{},
		tagged:    map[string][]joplin.Note{},
		noteTags:  map[string][]joplin.Tag{},
		resources: map[string][]joplin.Resource{},
		files:     map[string][]byte{},
		bodies:    map[string]string{},
	}
}

func (s *fakeNoteStore) addTagged(tag string, list ...joplin.Note) {
	t := joplin.Tag{ID: "tag-" + tag, Title: tag}
	s.tags[strings.ToLower(tag)] = t
	s.tagged[t.ID] = append(s.tagged[t.ID], list...)
	for _, n := range list {
		s.bodies[n.ID] = n.Body
	}
}

func (s *fakeNoteStore) NoteBody(_ context.Context, id string) (string, error) {
	return s.bodies[id], nil
}

func (s *fakeNoteStore) SetNoteBody(_ context.Context, id, body string) error {
	s.bodies[id] = body
	return nil
}

func (s *fakeNoteStore) TagByName(_ context.Context, name string) (*joplin.Tag, error) {
	if t, ok := s.tags[strings.ToLower(name)]; ok {
		return &t, nil
	}
	return nil, nil
}

func (s *fakeNoteStore) NotebookByName(context.Context, string) (*joplin.Notebook, error) {
	return nil, nil
}

func (s *fakeNoteStore) ListNotes(_ context.Context, c joplin.Container) ([]joplin.Note, error) {
	return s.tagged[c.ContainerID()], nil
}

func (s *fakeNoteStore) NoteTags(_ context.Context, id string) ([]joplin.Tag, error) {
	return s.noteTags[id], nil
}

func (s *fakeNoteStore) NoteResources(_ context.Context, id string) ([]joplin.Resource, error) {
	return s.resources[id], nil
}

func (s *fakeNoteStore) ResourceFile(_ context.Context, id string) ([]byte, error) {
	data, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("no resource %s", id)
	}
	return data, nil
}

func (s *fakeNoteStore) RemoveTagFromNote(_ context.Context, tagID, noteID string) error {
	s.removed = append(s.removed, tagID+":"+noteID)
	return nil
}

type fakeNoteTracker struct {
	done map[string]bool
}

func (t *fakeNoteTracker) IsProcessed(_ context.Context, note joplin.Note) (bool, error) {
	return t.done[note.ID], nil
}

func (t *fakeNoteTracker) MarkProcessed(_ context.Context, note joplin.Note) error {
	if t.done == nil {
		t.done = map[string]bool{}
	}
	t.done[note.ID] = true
	return nil
}

type fileComment struct {
	taskID, filename, mimeType string
	data                       []byte
}

type fakeTasks struct {
	projects     []todoist.Project
	created      []todoist.NewTask
	comments     map[string][]string
	fileComments []fileComment
	labelled     []todoist.Task
	subTasks     map[string][]todoist.Task
	taskComments map[string][]todoist.Comment
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{comments: map[string][]string{}}
}

func (f *fakeTasks) Project(_ context.Context, id string) (*todoist.Project, error) {
	for i := range f.projects {
		if f.projects[i].ID == id {
			return &f.projects[i], nil
		}
	}
	return nil, nil
}

func (f *fakeTasks) ProjectByName(_ context.Context, name string) (*todoist.Project, error) {
	for i := range f.projects {
		if strings.EqualFold(f.projects[i].Name, name) {
			return &f.projects[i], nil
		}
	}
	return nil, nil
}

func (f *fakeTasks) CreateProject(_ context.Context, name string) (*todoist.Project, error) {
	p := todoist.Project{ID: fmt.Sprintf("p%d", len(f.projects)+1), Name: name}
	f.projects = append(f.projects, p)
	return &p, nil
}

func (f *fakeTasks) EnsureLabels(_ context.Context, tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, todoist.LabelName(t))
	}
	return out, nil
}

func (f *fakeTasks) CreateTask(_ context.Context, task todoist.NewTask) (*todoist.Task, error) {
	f.created = append(f.created, task)
	return &todoist.Task{ID: fmt.Sprintf("t%d", len(f.created)), Content: task.Content, ProjectID: task.ProjectID}, nil
}

func (f *fakeTasks) AddComment(_ context.Context, taskID, content string) (*todoist.Comment, error) {
	f.comments[taskID] = append(f.comments[taskID], content)
	return &todoist.Comment{TaskID: taskID, Content: content}, nil
}

func (f *fakeTasks) AddFileComment(_ context.Context, taskID, filename, mimeType string, data []byte) (*todoist.Comment, error) {
	f.fileComments = append(f.fileComments, fileComment{taskID, filename, mimeType, data})
	return &todoist.Comment{TaskID: taskID}, nil
}

func (f *fakeTasks) TasksByLabel(context.Context, string) ([]todoist.Task, error) {
	return f.labelled, nil
}

func (f *fakeTasks) SubTasks(_ context.Context, task todoist.Task) ([]todoist.Task, error) {
	return f.subTasks[task.ID], nil
}

func (f *fakeTasks) Comments(_ context.Context, taskID string) ([]todoist.Comment, error) {
	return f.taskComments[taskID], nil
}

type fakeTaskTracker struct {
	label  string
	closed []string
}

func (t *fakeTaskTracker) IsProcessed(task todoist.Task) bool { return task.HasLabel(t.label) }

func (t *fakeTaskTracker) MarkProcessed(_ context.Context, task todoist.Task) error {
	t.closed = append(t.closed, task.ID)
	return nil
}
