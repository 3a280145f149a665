package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pkmhub/pkmhub/internal/notes"
	"github.com/pkmhub/pkmhub/internal/todoist"
)

// TaskToNote copies the tasks carrying Label into notes. Sub-tasks become a
// checklist section, comments are appended, and the note is tagged with the
// task's project as "#Project" unless it lives in the inbox.
type TaskToNote struct {
	Label    string
	Location *time.Location
	Tasks    TaskService
	Tracker  TaskTracker
	Dest     notes.Destination
	Logger   *log.Logger
}

func (j *TaskToNote) Name() string { return JobTaskToNote }

func (j *TaskToNote) Run(ctx context.Context) (*Report, error) {
	report := newReport(j.Name())
	if j.Label == "" {
		return report, nil
	}
	tasks, err := j.Tasks.TasksByLabel(ctx, j.Label)
	if err != nil {
		return report, fmt.Errorf("list tasks labelled %s: %w", j.Label, err)
	}

	for _, task := range tasks {
		if j.Tracker.IsProcessed(task) {
			report.add(task.Content, "skipped", nil)
			continue
		}
		logf(j.Logger, "copying task %q", task.Content)
		err := j.copyTask(ctx, task)
		if err == nil {
			err = j.Tracker.MarkProcessed(ctx, task)
		}
		if err != nil {
			err = fmt.Errorf("task %q: %w", task.Content, err)
			logf(j.Logger, "error: %v", err)
			report.add(task.Content, "", err)
			continue
		}
		report.add(task.Content, "created", nil)
	}
	return report, nil
}

func (j *TaskToNote) copyTask(ctx context.Context, task todoist.Task) error {
	draft := notes.Draft{Title: task.Content, Body: task.Description}
	dueMillis, err := task.Due.Millis(j.Location)
	if err != nil {
		return err
	}
	if dueMillis > 0 {
		draft.Due = time.UnixMilli(dueMillis)
	}

	subs, err := j.Tasks.SubTasks(ctx, task)
	if err != nil {
		return fmt.Errorf("list sub-tasks: %w", err)
	}
	if section := subTaskSection(subs); section != "" {
		draft.Body, _ = notes.AppendText(draft.Body, section)
	}

	comments, err := j.Tasks.Comments(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("list comments: %w", err)
	}
	for _, c := range comments {
		draft.Body, _ = notes.AppendText(draft.Body, commentText(c))
	}

	var tags []string
	if task.ProjectID != "" {
		project, err := j.Tasks.Project(ctx, task.ProjectID)
		if err != nil {
			return fmt.Errorf("lookup project: %w", err)
		}
		if project != nil && !project.IsInboxProject {
			tags = append(tags, "#"+project.Name)
		}
	}

	containerID, err := j.Dest.ResolveContainer(ctx, "")
	if err != nil {
		return err
	}
	draft.ContainerID = containerID
	note, err := j.Dest.CreateNote(ctx, draft)
	if err != nil {
		return err
	}
	return j.Dest.TagNote(ctx, note, tags)
}

func subTaskSection(subs []todoist.Task) string {
	if len(subs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Sub-tasks\n")
	for _, s := range subs {
		box := "[ ]"
		if s.IsCompleted {
			box = "[x]"
		}
		fmt.Fprintf(&b, "\n- %s %s", box, s.Content)
		if d := strings.TrimSpace(s.Description); d != "" {
			for _, line := range strings.Split(d, "\n") {
				b.WriteString("\n  " + line)
			}
		}
	}
	return b.String()
}

func commentText(c todoist.Comment) string {
	text := strings.TrimSpace(c.Content)
	if c.Attachment != nil && c.Attachment.FileURL != "" {
		name := c.Attachment.FileName
		if name == "" {
			name = c.Attachment.FileURL
		}
		link := fmt.Sprintf("[%s](%s)", name, c.Attachment.FileURL)
		if text == "" {
			return link
		}
		return text + "\n\n" + link
	}
	return text
}
