package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/pkmhub/pkmhub/internal/attachment"
	"github.com/pkmhub/pkmhub/internal/notes"
	"github.com/pkmhub/pkmhub/internal/routing"
)

// FileToNote imports every file below Directory as a note in the default
// container. File names carry routing: "2024-01-05 - Title [tag1 tag2].pdf".
type FileToNote struct {
	Directory string
	// ArchiveDir receives imported files; empty leaves them in place.
	ArchiveDir string
	// Ignore holds doublestar patterns matched against slash-separated
	// paths relative to Directory, e.g. "**/*.part" or "scans/tmp/**".
	Ignore    []string
	Parser    *routing.Parser
	Assembler *Assembler
	Logger    *log.Logger
}

func (j *FileToNote) Name() string { return JobFileToNote }

// Run walks the directory. A missing directory is logged, not an error.
func (j *FileToNote) Run(ctx context.Context) (*Report, error) {
	report := newReport(j.Name())
	info, err := os.Stat(j.Directory)
	if j.Directory == "" || err != nil || !info.IsDir() {
		logf(j.Logger, "no directory configured for file import (%q)", j.Directory)
		return report, nil
	}

	var files []string
	archive, _ := filepath.Abs(j.ArchiveDir)
	err = filepath.WalkDir(j.Directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if abs, _ := filepath.Abs(path); j.ArchiveDir != "" && abs == archive {
				return filepath.SkipDir
			}
			if path != j.Directory && j.ignored(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if j.ignored(path) {
			logf(j.Logger, "ignoring %s", path)
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("scan %s: %w", j.Directory, err)
	}

	for _, path := range files {
		name := filepath.Base(path)
		if strings.HasPrefix(name, ".") {
			logf(j.Logger, "ignoring hidden file %s", name)
			report.add(name, "skipped", nil)
			continue
		}
		if err := j.importFile(ctx, path); err != nil {
			err = fmt.Errorf("file %q: %w", path, err)
			logf(j.Logger, "error: %v", err)
			report.add(name, "", err)
			continue
		}
		if j.ArchiveDir != "" {
			if err := moveFile(path, j.ArchiveDir); err != nil {
				report.add(name, "", fmt.Errorf("archive %q: %w", path, err))
				continue
			}
		}
		report.add(name, "created", nil)
	}
	return report, nil
}

func (j *FileToNote) ignored(path string) bool {
	if len(j.Ignore) == 0 {
		return false
	}
	rel, err := filepath.Rel(j.Directory, path)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, pattern := range j.Ignore {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

func (j *FileToNote) importFile(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	name := filepath.Base(path)
	decision := j.Parser.ParseFilename(name)

	dest := j.Assembler.Destination()
	containerID, err := dest.ResolveContainer(ctx, "")
	if err != nil {
		return err
	}
	logf(j.Logger, "creating note %q from %s", decision.Title, name)
	note, err := dest.CreateNote(ctx, notes.Draft{
		Title:       decision.Title,
		ContainerID: containerID,
		CreatedTime: info.ModTime(),
	})
	if err != nil {
		return err
	}
	if err := dest.TagNote(ctx, note, decision.Tags); err != nil {
		return err
	}
	return j.Assembler.AddAttachment(ctx, note, name, attachment.TypeByFilename(name), data)
}

// moveFile moves path into dir, copying when a rename crosses devices.
func moveFile(path, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	target := filepath.Join(dir, filepath.Base(path))
	err := os.Rename(path, target)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) {
		return err
	}
	data, rerr := os.ReadFile(path)
	if rerr != nil {
		return rerr
	}
	if werr := os.WriteFile(target, data, 0o644); werr != nil {
		return werr
	}
	return os.Remove(path)
}
