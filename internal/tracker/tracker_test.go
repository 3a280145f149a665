package tracker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkmhub/pkmhub/internal/joplin"
	"github.com/pkmhub/pkmhub/internal/todoist"
)

type fakeStore struct {
	tags      []joplin.Tag
	noteTags  map[string][]string
	notebooks []joplin.Notebook
	deleted   []string
	moved     map[string]string
	created   []string
	failMove  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{noteTags: map[string][]string{}, moved: map[string]string{}}
}

func (f *fakeStore) NoteTags(_ context.Context, noteID string) ([]joplin.Tag, error) {
	var out []joplin.Tag
	for _, id := range f.noteTags[noteID] {
		for _, tag := range f.tags {
			if tag.ID == id {
				out = append(out, tag)
			}
		}
	}
	return out, nil
}

func (f *fakeStore) TagByName(_ context.Context, name string) (*joplin.Tag, error) {
	for i := range f.tags {
		if strings.EqualFold(f.tags[i].Title, name) {
			return &f.tags[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateTag(_ context.Context, title string) (*joplin.Tag, error) {
	tag := joplin.Tag{ID: "tag-" + title, Title: title}
	f.tags = append(f.tags, tag)
	f.created = append(f.created, "tag:"+title)
	return &tag, nil
}

func (f *fakeStore) AddTagToNote(_ context.Context, tagID, noteID string) error {
	f.noteTags[noteID] = append(f.noteTags[noteID], tagID)
	return nil
}

func (f *fakeStore) DeleteNote(_ context.Context, noteID string) error {
	f.deleted = append(f.deleted, noteID)
	return nil
}

func (f *fakeStore) NotebookByName(_ context.Context, name string) (*joplin.Notebook, error) {
	for i := range f.notebooks {
		if strings.EqualFold(f.notebooks[i].Title, name) {
			return &f.notebooks[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) CreateNotebook(_ context.Context, title string) (*joplin.Notebook, error) {
	nb := joplin.Notebook{ID: "nb-" + title, Title: title}
	f.notebooks = append(f.notebooks, nb)
	f.created = append(f.created, "notebook:"+title)
	return &nb, nil
}

func (f *fakeStore) MoveNote(_ context.Context, noteID, notebookID string) error {
	if f.failMove != nil {
		return f.failMove
	}
	f.moved[noteID] = notebookID
	return nil
}

func TestFromConfigPrecedence(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want Strategy
	}{
		{"delete wins", Config{Delete: true, ProcessedTag: "done", ArchiveNotebook: "Archive"}, Delete},
		{"tag over archive", Config{ProcessedTag: "done", ArchiveNotebook: "Archive"}, Tag},
		{"archive", Config{ArchiveNotebook: "Archive"}, Archive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FromConfig(tc.cfg)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := FromConfig(Config{ProcessedTag: "  "})
	require.ErrorIs(t, err, ErrNoStrategy)
	_, err = NewNoteTracker(newFakeStore(), Config{}, nil)
	require.ErrorIs(t, err, ErrNoStrategy)
}

func TestTagStrategyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	tr, err := NewNoteTracker(store, Config{ProcessedTag: "Processed"}, nil)
	require.NoError(t, err)
	note := joplin.Note{ID: "n1", Title: "Article"}

	done, err := tr.IsProcessed(ctx, note)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, tr.MarkProcessed(ctx, note))
	assert.Equal(t, []string{"tag:Processed"}, store.created)

	store.tags[0].Title = "PROCESSED"
	done, err = tr.IsProcessed(ctx, note)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestDeleteStrategy(t *testing.T) {
	store := newFakeStore()
	tr, err := NewNoteTracker(store, Config{Delete: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "delete", tr.Strategy().String())

	require.NoError(t, tr.MarkProcessed(context.Background(), joplin.Note{ID: "n1"}))
	assert.Equal(t, []string{"n1"}, store.deleted)
}

func TestArchiveStrategy(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	tr, err := NewNoteTracker(store, Config{ArchiveNotebook: "Archive"}, nil)
	require.NoError(t, err)

	note := joplin.Note{ID: "n1", Title: "Article", ParentID: "inbox"}
	done, err := tr.IsProcessed(ctx, note)
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, tr.MarkProcessed(ctx, note))
	assert.Equal(t, "nb-Archive", store.moved["n1"])
	assert.Equal(t, []string{"notebook:Archive"}, store.created)

	archived := joplin.Note{ID: "n2", Title: "Old", ParentID: "nb-Archive"}
	done, err = tr.IsProcessed(ctx, archived)
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, tr.MarkProcessed(ctx, archived))
	assert.NotContains(t, store.moved, "n2")
}

func TestArchiveFailureSurfaces(t *testing.T) {
	store := newFakeStore()
	store.failMove = errors.New("boom")
	tr, err := NewNoteTracker(store, Config{ArchiveNotebook: "Archive"}, nil)
	require.NoError(t, err)
	err = tr.MarkProcessed(context.Background(), joplin.Note{ID: "n1", Title: "Article"})
	require.ErrorContains(t, err, `move note "Article": boom`)
}

type fakeTaskStore struct {
	labels map[string][]string
	closed []string
}

func (f *fakeTaskStore) SetTaskLabels(_ context.Context, taskID string, labels []string) error {
	f.labels[taskID] = labels
	return nil
}

func (f *fakeTaskStore) CloseTask(_ context.Context, taskID string) error {
	f.closed = append(f.closed, taskID)
	return nil
}

func TestTaskTracker(t *testing.T) {
	store := &fakeTaskStore{labels: map[string][]string{}}
	tr := NewTaskTracker(store, "Forwarded")
	task := todoist.Task{ID: "t1", Labels: []string{"Joplin"}}

	assert.False(t, tr.IsProcessed(task))
	require.NoError(t, tr.MarkProcessed(context.Background(), task))
	assert.Equal(t, []string{"Joplin", "Forwarded"}, store.labels["t1"])
	assert.Equal(t, []string{"t1"}, store.closed)
	assert.Equal(t, []string{"Joplin"}, task.Labels)

	assert.True(t, tr.IsProcessed(todoist.Task{Labels: []string{"forwarded"}}))

	bare := NewTaskTracker(store, "")
	assert.False(t, bare.IsProcessed(todoist.Task{Labels: []string{"Forwarded"}}))
	require.NoError(t, bare.MarkProcessed(context.Background(), todoist.Task{ID: "t2"}))
	assert.NotContains(t, store.labels, "t2")
	assert.Equal(t, []string{"t1", "t2"}, store.closed)
}
