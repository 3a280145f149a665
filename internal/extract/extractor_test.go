package extract

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls   []call
	outputs map[string][]byte
	errs    map[string]error
	// images are written by the pdfimages fake, keyed by suffix.
	images map[string][]byte
	// ocr maps an input file base name to tesseract output.
	ocr     map[string]string
	scratch []string
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	switch name {
	case "pdfimages":
		prefix := args[len(args)-1]
		f.scratch = append(f.scratch, filepath.Dir(prefix))
		for suffix, data := range f.images {
			if err := os.WriteFile(prefix+suffix, data, 0o600); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case "tesseract":
		input := args[len(args)-2]
		f.scratch = append(f.scratch, filepath.Dir(input))
		return []byte(f.ocr[filepath.Base(input)]), nil
	}
	if len(args) > 1 {
		f.scratch = append(f.scratch, filepath.Dir(args[len(args)-2]))
	}
	return f.outputs[name], nil
}

func newTestExtractor(t *testing.T, f *fakeRunner) *Extractor {
	t.Helper()
	return NewExtractor(WithCommandRunner(f.run), WithTempDir(t.TempDir()))
}

func assertRemoved(t *testing.T, dirs []string) {
	t.Helper()
	require.NotEmpty(t, dirs)
	for _, dir := range dirs {
		_, err := os.Stat(dir)
		assert.True(t, os.IsNotExist(err), "scratch dir %s still exists", dir)
	}
}

func TestPDFTextUsesTextLayer(t *testing.T) {
	f := &fakeRunner{outputs: map[string][]byte{"pdftotext": []byte("Invoice 42\nTotal > 10\n\n")}}
	e := newTestExtractor(t, f)

	text, err := e.PDFText(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "> Invoice 42\n> Total \\> 10", text)

	require.Len(t, f.calls, 1)
	assert.Equal(t, "pdftotext", f.calls[0].name)
	assert.Equal(t, []string{"-nopgbrk", "-layout"}, f.calls[0].args[:2])
	assert.Equal(t, "-", f.calls[0].args[3])
	assertRemoved(t, f.scratch)
}

func TestPDFTextFallsBackToOCR(t *testing.T) {
	f := &fakeRunner{
		outputs: map[string][]byte{"pdftotext": []byte("  \n\f")},
		images: map[string][]byte{
			"-001.tif": []byte("page2"),
			"-000.tif": []byte("page1"),
		},
		ocr: map[string]string{
			"image-000.tif": "First page\n",
			"image-001.tif": "Second page\n",
		},
	}
	e := newTestExtractor(t, f)

	text, err := e.PDFText(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "> First page\n> Second page", text)

	require.Len(t, f.calls, 4)
	assert.Equal(t, "pdfimages", f.calls[1].name)
	assert.Equal(t, "-tiff", f.calls[1].args[0])
	assert.Equal(t, "image-000.tif", filepath.Base(f.calls[2].args[len(f.calls[2].args)-2]))
	assert.Equal(t, "image-001.tif", filepath.Base(f.calls[3].args[len(f.calls[3].args)-2]))
	assertRemoved(t, f.scratch)
}

func TestPDFTextOCRPagesInNumericOrder(t *testing.T) {
	f := &fakeRunner{
		outputs: map[string][]byte{"pdftotext": []byte("")},
		images: map[string][]byte{
			"-1000.tif": []byte("p1000"),
			"-999.tif":  []byte("p999"),
			"-002.tif":  []byte("blank"),
		},
		ocr: map[string]string{
			"image-999.tif":  "Page 999\n\f",
			"image-1000.tif": "Page 1000\n\f",
			"image-002.tif":  "\f",
		},
	}
	e := newTestExtractor(t, f)

	text, err := e.PDFText(context.Background(), []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "> Page 999\n> Page 1000", text)
	assert.Equal(t, "image-002.tif", filepath.Base(f.calls[2].args[len(f.calls[2].args)-2]))
}

func TestPDFTextCommandFailureDegrades(t *testing.T) {
	exitErr := exec.Command("sh", "-c", "exit 3").Run()
	var ee *exec.ExitError
	if !errors.As(exitErr, &ee) {
		t.Skip("shell not available")
	}

	f := &fakeRunner{errs: map[string]error{"pdftotext": exitErr, "pdfimages": exitErr}}
	e := newTestExtractor(t, f)

	text, err := e.PDFText(context.Background(), []byte("broken"))
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestPDFTextMissingBinary(t *testing.T) {
	f := &fakeRunner{errs: map[string]error{"pdftotext": exec.ErrNotFound}}
	e := newTestExtractor(t, f)

	_, err := e.PDFText(context.Background(), []byte("%PDF"))
	var extractErr *ExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, "pdftotext", extractErr.Command)
	assert.ErrorIs(t, err, exec.ErrNotFound)
}

func TestImageText(t *testing.T) {
	f := &fakeRunner{ocr: map[string]string{"receipt.png": "Coffee 3.50\n"}}
	e := NewExtractor(WithCommandRunner(f.run), WithTempDir(t.TempDir()), WithLanguage("deu"))

	text, err := e.ImageText(context.Background(), "scans/receipt.png", []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	assert.Equal(t, "> Coffee 3.50", text)
	require.Len(t, f.calls, 1)
	assert.Equal(t, []string{"-l", "deu"}, f.calls[0].args[:2])
	assertRemoved(t, f.scratch)
}

func TestImageTextEmptyOCR(t *testing.T) {
	f := &fakeRunner{ocr: map[string]string{"blank.jpg": " \n \n"}}
	e := newTestExtractor(t, f)

	text, err := e.ImageText(context.Background(), "blank.jpg", []byte{0xff})
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, "", Quote(""))
	assert.Equal(t, "", Quote(" \n\t"))
	assert.Equal(t, "> a\n> \n> b", Quote("a\n\nb\n"))
	assert.Equal(t, "> x \\> y \\>\\> z", Quote("x > y >> z"))
	assert.False(t, strings.Contains(Quote("line\r\n"), "\r"))
}

func TestThumbnailScale(t *testing.T) {
	assert.InDelta(t, 0.5, thumbnailScale(800, 600, 400, 400), 1e-9)
	assert.InDelta(t, 0.25, thumbnailScale(1000, 1600, 400, 400), 1e-9)
	assert.InDelta(t, 1.0, thumbnailScale(100, 100, 400, 400), 1e-9)
	assert.InDelta(t, 1.0, thumbnailScale(0, 100, 400, 400), 1e-9)
}
