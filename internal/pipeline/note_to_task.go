package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pkmhub/pkmhub/internal/joplin"
	"github.com/pkmhub/pkmhub/internal/markup"
	"github.com/pkmhub/pkmhub/internal/todoist"
)

// NoteToTask copies the notes of a source tag or notebook into Todoist tasks.
// A note tag "#Name" selects the project; "##Name" marks an inactive project
// and is ignored.
type NoteToTask struct {
	SourceTag      string
	SourceNotebook string
	// ReservedTags never become labels (source, processed and OCR tags).
	ReservedTags []string
	Location     *time.Location
	Store        NoteStore
	Tasks        TaskService
	Tracker      NoteTracker
	Logger       *log.Logger
}

func (j *NoteToTask) Name() string { return JobNoteToTask }

func (j *NoteToTask) Run(ctx context.Context) (*Report, error) {
	report := newReport(j.Name())
	if j.Tracker == nil {
		return report, fmt.Errorf("%s: no processed-marker tracker", j.Name())
	}
	container, err := sourceContainer(ctx, j.Store, j.SourceTag, j.SourceNotebook)
	if err != nil {
		return report, fmt.Errorf("resolve task source: %w", err)
	}
	if container == nil {
		logf(j.Logger, "unable to find the task source (tag %q, notebook %q)", j.SourceTag, j.SourceNotebook)
		return report, nil
	}
	list, err := j.Store.ListNotes(ctx, container)
	if err != nil {
		return report, fmt.Errorf("list notes in %s: %w", container.ContainerTitle(), err)
	}

	for _, note := range list {
		done, err := j.Tracker.IsProcessed(ctx, note)
		if err == nil && done {
			report.add(note.Title, "skipped", nil)
			continue
		}
		if err == nil {
			logf(j.Logger, "copying note %q", note.Title)
			err = j.copyNote(ctx, note)
		}
		if err == nil {
			err = j.Tracker.MarkProcessed(ctx, note)
		}
		if err != nil {
			err = fmt.Errorf("note %q: %w", note.Title, err)
			logf(j.Logger, "error: %v", err)
			report.add(note.Title, "", err)
			continue
		}
		report.add(note.Title, "created", nil)
	}
	return report, nil
}

func (j *NoteToTask) copyNote(ctx context.Context, note joplin.Note) error {
	tags, err := j.Store.NoteTags(ctx, note.ID)
	if err != nil {
		return fmt.Errorf("list tags: %w", err)
	}
	projectName, labelTags := splitProjectTags(tags, j.ReservedTags)
	if len(projectName) > 1 {
		logf(j.Logger, "warning: note %q has several project tags %v, using %s", note.Title, projectName, projectName[0])
	}

	newTask := todoist.NewTask{
		Content:     taskContent(note),
		DueDatetime: todoist.DueFromMillis(note.TodoDue, j.Location),
	}
	if len(projectName) > 0 {
		project, err := j.project(ctx, projectName[0])
		if err != nil {
			return err
		}
		newTask.ProjectID = project.ID
	}
	if newTask.Labels, err = j.Tasks.EnsureLabels(ctx, labelTags); err != nil {
		return fmt.Errorf("labels: %w", err)
	}

	task, err := j.Tasks.CreateTask(ctx, newTask)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	if err := j.addBody(ctx, task.ID, note); err != nil {
		return err
	}

	resources, err := j.Store.NoteResources(ctx, note.ID)
	if err != nil {
		return fmt.Errorf("list resources: %w", err)
	}
	for _, res := range resources {
		data, err := j.Store.ResourceFile(ctx, res.ID)
		if err != nil {
			return fmt.Errorf("download %s: %w", res.Name(), err)
		}
		if _, err := j.Tasks.AddFileComment(ctx, task.ID, res.Name(), res.Mime, data); err != nil {
			return fmt.Errorf("file comment %s: %w", res.Name(), err)
		}
	}
	return nil
}

func (j *NoteToTask) project(ctx context.Context, name string) (*todoist.Project, error) {
	project, err := j.Tasks.ProjectByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("lookup project %s: %w", name, err)
	}
	if project != nil {
		return project, nil
	}
	logf(j.Logger, "creating project %s", name)
	project, err = j.Tasks.CreateProject(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create project %s: %w", name, err)
	}
	return project, nil
}

// addBody posts the note body without resource links. Bodies with a Markdown
// table are rendered to HTML and attached as a file instead.
func (j *NoteToTask) addBody(ctx context.Context, taskID string, note joplin.Note) error {
	comment := markup.StripResourceRefs(note.Body)
	if comment == "" {
		return nil
	}
	if markup.HasTable(comment) {
		html, err := markup.RenderDocument(note.Title, comment)
		if err != nil {
			return fmt.Errorf("render table: %w", err)
		}
		if _, err := j.Tasks.AddFileComment(ctx, taskID, note.Title+".html", "text/html", []byte(html)); err != nil {
			return fmt.Errorf("table comment: %w", err)
		}
		return nil
	}
	if _, err := j.Tasks.AddComment(ctx, taskID, comment); err != nil {
		return fmt.Errorf("comment: %w", err)
	}
	return nil
}

// taskContent links the title to the note's source when it has one.
func taskContent(note joplin.Note) string {
	if note.SourceURL != "" {
		return fmt.Sprintf("[%s](%s)", note.Title, note.SourceURL)
	}
	return note.Title
}

// splitProjectTags separates project selectors ("#Name", in tag order) from
// the tags that become labels. Inactive projects ("##Name") and reserved tags
// are dropped.
func splitProjectTags(tags []joplin.Tag, reserved []string) (projects, labels []string) {
	for _, tag := range tags {
		title := strings.TrimSpace(tag.Title)
		switch {
		case strings.HasPrefix(title, "##"):
			continue
		case strings.HasPrefix(title, "#"):
			if name := strings.TrimSpace(title[1:]); name != "" {
				projects = append(projects, name)
			}
		case title == "" || isReserved(title, reserved):
			continue
		default:
			labels = append(labels, title)
		}
	}
	return projects, labels
}

func isReserved(tag string, reserved []string) bool {
	for _, r := range reserved {
		if strings.EqualFold(tag, strings.TrimSpace(r)) {
			return true
		}
	}
	return false
}
