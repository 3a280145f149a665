package obsidian

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkmhub/pkmhub/internal/attachment"
	"github.com/pkmhub/pkmhub/internal/notes"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestResolveContainer(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "Work"), 0o755))

	v := NewVault(root, Options{})
	id, err := v.ResolveContainer(ctx, "work")
	require.NoError(t, err)
	assert.Equal(t, "Work", id)

	id, err = v.ResolveContainer(ctx, "Travel")
	require.NoError(t, err)
	assert.Equal(t, "Inbox", id)
	assert.DirExists(t, filepath.Join(root, "Inbox"))
	assert.NoDirExists(t, filepath.Join(root, "Travel"))

	auto := NewVault(root, Options{AutoCreateFolder: true})
	id, err = auto.ResolveContainer(ctx, "Travel")
	require.NoError(t, err)
	assert.Equal(t, "Travel", id)
	assert.DirExists(t, filepath.Join(root, "Travel"))

	id, err = auto.ResolveContainer(ctx, "  ")
	require.NoError(t, err)
	assert.Equal(t, "Inbox", id)
}

func TestCreateNoteNoClobber(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	v := NewVault(root, Options{})

	first, err := v.CreateNote(ctx, notes.Draft{Title: "Trip: plans", Body: "one", ContainerID: "Inbox"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("Inbox", "Trip- plans.md"), first.ID)

	second, err := v.CreateNote(ctx, notes.Draft{Title: "Trip: plans", Body: "two", ContainerID: "Inbox"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("Inbox", "Trip- plans-1.md"), second.ID)
	assert.Equal(t, "Trip- plans-1", second.Title)

	assert.Equal(t, "one", readFile(t, filepath.Join(root, first.ID)))
	assert.Equal(t, "two", readFile(t, filepath.Join(root, second.ID)))

	for i := 2; i <= maxCopies; i++ {
		_, err = v.CreateNote(ctx, notes.Draft{Title: "Trip: plans", ContainerID: "Inbox"})
		require.NoError(t, err)
	}
	_, err = v.CreateNote(ctx, notes.Draft{Title: "Trip: plans", ContainerID: "Inbox"})
	require.ErrorIs(t, err, ErrNameTaken)
}

func TestAppendAndTagPreserveFrontmatter(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	v := NewVault(root, Options{})
	created := time.Date(2024, 1, 5, 10, 0, 0, 0, time.UTC)

	ref, err := v.CreateNote(ctx, notes.Draft{Title: "Notes", Body: "", ContainerID: "Inbox", CreatedTime: created})
	require.NoError(t, err)

	require.NoError(t, v.AppendToNote(ctx, ref, "first"))
	require.NoError(t, v.AppendToNote(ctx, ref, "   "))
	require.NoError(t, v.AppendToNote(ctx, ref, "second"))
	require.NoError(t, v.TagNote(ctx, ref, []string{"work", "#Urgent", "WORK"}))

	doc, err := parseDocument([]byte(readFile(t, filepath.Join(root, ref.ID))))
	require.NoError(t, err)
	assert.Equal(t, "first\n\n---\n\nsecond", doc.Content)
	assert.Equal(t, []string{"work", "Urgent"}, doc.tags())
	assert.Equal(t, "2024-01-05T10:00:00Z", doc.Metadata["created"])
}

func TestUploadResourceBesideNote(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	v := NewVault(root, Options{})
	ref, err := v.CreateNote(ctx, notes.Draft{Title: "Receipt", ContainerID: "Bills"})
	require.NoError(t, err)

	res, err := v.UploadResource(ctx, ref, "image001.png", "image/png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "Receipt001.png", res.Name)
	assert.Equal(t, "png", readFile(t, filepath.Join(root, "Bills", "Receipt001.png")))

	again, err := v.UploadResource(ctx, ref, "scan.pdf", "application/pdf", []byte("a"))
	require.NoError(t, err)
	dup, err := v.UploadResource(ctx, ref, "scan.pdf", "application/pdf", []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, "scan.pdf", again.Name)
	assert.Equal(t, "scan-1.pdf", dup.Name)

	assert.Equal(t, "![[scan.pdf]]", v.ResourceLink(again, attachment.PDF, &notes.Resource{ID: "t"}))
	assert.False(t, v.AcceptsHTML())
}

func TestParseDocument(t *testing.T) {
	doc, err := parseDocument([]byte("---\ntags: [a, b]\nsource: mail\n---\nbody text\n"))
	require.NoError(t, err)
	assert.Equal(t, "body text\n", doc.Content)
	assert.Equal(t, []string{"a", "b"}, doc.tags())
	assert.Equal(t, "mail", doc.Metadata["source"])

	plain, err := parseDocument([]byte("no frontmatter"))
	require.NoError(t, err)
	assert.Equal(t, "no frontmatter", plain.Content)
	assert.Empty(t, plain.tags())

	_, err = parseDocument([]byte("---\ntags: [a]\nbody"))
	require.Error(t, err)
}
