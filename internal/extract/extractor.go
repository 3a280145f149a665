// Package extract turns PDF and image attachments into quoted Markdown text
// using the poppler utilities and tesseract.
package extract

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// CommandRunner executes an external program and returns its stdout.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExtractionError reports that an extraction command could not be started at all.
// A command that runs and fails is not an ExtractionError; it yields empty text.
type ExtractionError struct {
	Command string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract: run %s: %v", e.Command, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Binaries names the external programs used for extraction.
type Binaries struct {
	PDFToText string
	PDFImages string
	Tesseract string
}

// DefaultBinaries resolves the programs from PATH.
func DefaultBinaries() Binaries {
	return Binaries{PDFToText: "pdftotext", PDFImages: "pdfimages", Tesseract: "tesseract"}
}

// Extractor produces best-effort text from PDF and image bytes.
type Extractor struct {
	bins     Binaries
	language string
	run      CommandRunner
	logger   *log.Logger
	tempDir  string
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithBinaries overrides the external program paths.
func WithBinaries(b Binaries) Option {
	return func(e *Extractor) {
		if b.PDFToText != "" {
			e.bins.PDFToText = b.PDFToText
		}
		if b.PDFImages != "" {
			e.bins.PDFImages = b.PDFImages
		}
		if b.Tesseract != "" {
			e.bins.Tesseract = b.Tesseract
		}
	}
}

// WithLanguage sets the tesseract language code (default "eng").
func WithLanguage(lang string) Option {
	return func(e *Extractor) {
		if lang != "" {
			e.language = lang
		}
	}
}

// WithCommandRunner replaces process execution, mainly for tests.
func WithCommandRunner(run CommandRunner) Option {
	return func(e *Extractor) {
		if run != nil {
			e.run = run
		}
	}
}

// WithLogger sets the logger used for degraded extractions.
func WithLogger(logger *log.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// WithTempDir sets the parent directory for per-call scratch directories.
func WithTempDir(dir string) Option {
	return func(e *Extractor) {
		e.tempDir = dir
	}
}

// NewExtractor builds an Extractor using the system binaries unless overridden.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		bins:     DefaultBinaries(),
		language: "eng",
		run:      execRunner,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// PDFText returns the text layer of a PDF as a quoted block. When the PDF has no
// text layer, its embedded images are OCR'd page by page instead. An empty
// string means nothing could be extracted.
func (e *Extractor) PDFText(ctx context.Context, data []byte) (string, error) {
	dir, err := os.MkdirTemp(e.tempDir, "pkmhub-pdf-*")
	if err != nil {
		return "", fmt.Errorf("extract: scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return "", fmt.Errorf("extract: write pdf: %w", err)
	}

	out, err := e.output(ctx, e.bins.PDFToText, "-nopgbrk", "-layout", input, "-")
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(string(out)) != "" {
		return Quote(string(out)), nil
	}

	e.logf("pdf has no text layer, falling back to OCR")
	if _, err := e.output(ctx, e.bins.PDFImages, "-tiff", input, filepath.Join(dir, "image")); err != nil {
		return "", err
	}

	images, err := filepath.Glob(filepath.Join(dir, "image-*"))
	if err != nil {
		return "", fmt.Errorf("extract: list images: %w", err)
	}
	slices.SortFunc(images, func(a, b string) int {
		return cmp.Or(cmp.Compare(imageIndex(a), imageIndex(b)), strings.Compare(a, b))
	})

	var pages []string
	for _, img := range images {
		out, err := e.output(ctx, e.bins.Tesseract, "-l", e.language, img, "-")
		if err != nil {
			return "", err
		}
		// tesseract ends each page with a form feed.
		if text := strings.Trim(string(out), " \t\r\n\f"); text != "" {
			pages = append(pages, text)
		}
	}
	return Quote(strings.Join(pages, "\n")), nil
}

// imageIndex returns the number pdfimages gave a file ("image-1000.tif" is
// 1000), or -1.
func imageIndex(path string) int {
	name := strings.TrimPrefix(filepath.Base(path), "image-")
	n, err := strconv.Atoi(strings.TrimSuffix(name, filepath.Ext(name)))
	if err != nil {
		return -1
	}
	return n
}

// ImageText OCRs an image and returns the result as a quoted block, or an empty
// string when nothing was recognised.
func (e *Extractor) ImageText(ctx context.Context, filename string, data []byte) (string, error) {
	dir, err := os.MkdirTemp(e.tempDir, "pkmhub-img-*")
	if err != nil {
		return "", fmt.Errorf("extract: scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "image"
	}
	input := filepath.Join(dir, name)
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return "", fmt.Errorf("extract: write image: %w", err)
	}

	out, err := e.output(ctx, e.bins.Tesseract, "-l", e.language, input, "-")
	if err != nil {
		return "", err
	}
	return Quote(string(out)), nil
}

// output runs a command. A non-zero exit degrades to empty output; only a
// failure to start the command is returned.
func (e *Extractor) output(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := e.run(ctx, name, args...)
	if err == nil {
		return out, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		e.logf("%s exited with %d: %s", name, exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		return nil, nil
	}
	return nil, &ExtractionError{Command: name, Err: err}
}

func (e *Extractor) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// Quote renders text as a Markdown block quote, escaping '>' so extracted
// content cannot open nested quotes. Whitespace-only input yields "".
func Quote(text string) string {
	text = strings.TrimRight(text, " \t\r\n\f")
	if strings.TrimSpace(text) == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = "> " + strings.ReplaceAll(strings.TrimRight(line, "\r"), ">", `\>`)
	}
	return strings.Join(lines, "\n")
}
