package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkmhub/pkmhub/internal/notes"
)

type fakeThumbnailer struct {
	err error
}

func (f fakeThumbnailer) PDFThumbnail([]byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []byte("png"), nil
}

func newNote(t *testing.T, dest *fakeDest) notes.Ref {
	t.Helper()
	ref, err := dest.CreateNote(context.Background(), notes.Draft{Title: "Scan", ContainerID: "default"})
	require.NoError(t, err)
	return ref
}

func TestAssemblerPDFWithThumbnail(t *testing.T) {
	dest := &fakeDest{}
	ref := newNote(t, dest)
	a := NewAssembler(dest, &fakeExtractor{pdf: "> invoice 42"}, WithThumbnailer(fakeThumbnailer{}))

	require.NoError(t, a.AddAttachment(context.Background(), ref, "report.pdf", "application/pdf", []byte("%PDF")))

	n := dest.notes[0]
	require.Len(t, n.resources, 2)
	assert.Equal(t, thumbnailName, n.resources[0].Name)
	assert.Equal(t, "image/png", n.resources[0].Mime)
	want := fmt.Sprintf("[![report.pdf](:/%032x)](:/%032x)\n\n> invoice 42", 1, 2)
	assert.Equal(t, want, n.body)
}

func TestAssemblerPDFThumbnailFailureFallsBackToLink(t *testing.T) {
	dest := &fakeDest{}
	ref := newNote(t, dest)
	a := NewAssembler(dest, &fakeExtractor{}, WithThumbnailer(fakeThumbnailer{err: errors.New("no vips")}))

	require.NoError(t, a.AddAttachment(context.Background(), ref, "report.pdf", "", []byte("%PDF")))
	assert.Equal(t, fmt.Sprintf("[report.pdf](:/%032x)", 1), dest.notes[0].body)
}

func TestAssemblerSkipsThumbnailWithoutPreviews(t *testing.T) {
	dest := &fakeDest{noPreview: true}
	ref := newNote(t, dest)
	a := NewAssembler(dest, &fakeExtractor{}, WithThumbnailer(fakeThumbnailer{}))

	require.NoError(t, a.AddAttachment(context.Background(), ref, "report.pdf", "application/pdf", []byte("%PDF")))
	require.Len(t, dest.notes[0].resources, 1)
	assert.Equal(t, "report.pdf", dest.notes[0].resources[0].Name)
	assert.Equal(t, fmt.Sprintf("[report.pdf](:/%032x)", 1), dest.notes[0].body)
}

func TestAssemblerOtherAndTextParts(t *testing.T) {
	dest := &fakeDest{}
	ref := newNote(t, dest)
	a := NewAssembler(dest, &fakeExtractor{})
	ctx := context.Background()

	require.NoError(t, a.AddAttachment(ctx, ref, "notes.txt", "text/plain", []byte("first line")))
	require.NoError(t, a.AddAttachment(ctx, ref, "blank.txt", "text/plain", []byte("  \n")))
	require.NoError(t, a.AddAttachment(ctx, ref, "data.zip", "application/zip", []byte("PK")))

	want := "first line\n\n---\n\n" + fmt.Sprintf("[data.zip](:/%032x)", 1)
	assert.Equal(t, want, dest.notes[0].body)
}

func TestAssemblerExtractionErrorPropagates(t *testing.T) {
	dest := &fakeDest{}
	ref := newNote(t, dest)
	a := NewAssembler(dest, &fakeExtractor{err: errors.New("tesseract not found")})

	err := a.AddAttachment(context.Background(), ref, "photo.jpg", "image/jpeg", []byte("jpg"))
	assert.ErrorContains(t, err, "extract text from photo.jpg: tesseract not found")
}
