package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkmhub/pkmhub/internal/todoist"
)

// TaskStore is the part of the Todoist client the task tracker needs.
type TaskStore interface {
	SetTaskLabels(ctx context.Context, taskID string, labels []string) error
	CloseTask(ctx context.Context, taskID string) error
}

// TaskTracker marks Todoist tasks as forwarded: the processed label is added
// when configured, then the task is completed.
type TaskTracker struct {
	store TaskStore
	label string
}

// NewTaskTracker returns a tracker using label as the forwarded marker.
func NewTaskTracker(store TaskStore, label string) *TaskTracker {
	return &TaskTracker{store: store, label: strings.TrimSpace(label)}
}

// IsProcessed reports whether task already carries the processed label.
func (t *TaskTracker) IsProcessed(task todoist.Task) bool {
	return t.label != "" && task.HasLabel(t.label)
}

// MarkProcessed labels and closes task.
func (t *TaskTracker) MarkProcessed(ctx context.Context, task todoist.Task) error {
	if t.label != "" && !task.HasLabel(t.label) {
		labels := append(append([]string(nil), task.Labels...), t.label)
		if err := t.store.SetTaskLabels(ctx, task.ID, labels); err != nil {
			return fmt.Errorf("label task %q: %w", task.Content, err)
		}
	}
	if err := t.store.CloseTask(ctx, task.ID); err != nil {
		return fmt.Errorf("close task %q: %w", task.Content, err)
	}
	return nil
}
