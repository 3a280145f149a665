package todoist

// Project is a Todoist project.
type Project struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ParentID       string `json:"parent_id"`
	Order          int    `json:"order"`
	IsInboxProject bool   `json:"is_inbox_project"`
	IsArchived     bool   `json:"is_archived"`
}

// Section groups tasks inside a project.
type Section struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
	Order     int    `json:"order"`
}

// Due is the due object attached to a task. Datetime is empty for all-day
// tasks; Timezone is empty for floating datetimes.
type Due struct {
	Date        string `json:"date"`
	Datetime    string `json:"datetime,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	String      string `json:"string"`
	IsRecurring bool   `json:"is_recurring"`
}

// Task is a Todoist task. ParentID is set on sub-tasks.
type Task struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id"`
	SectionID   string   `json:"section_id"`
	ParentID    string   `json:"parent_id"`
	Content     string   `json:"content"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	Priority    int      `json:"priority"`
	Order       int      `json:"order"`
	IsCompleted bool     `json:"is_completed"`
	Due         *Due     `json:"due"`
	URL         string   `json:"url"`
}

// HasLabel reports whether the task carries name, ignoring case.
func (t Task) HasLabel(name string) bool {
	for _, l := range t.Labels {
		if equalFold(l, name) {
			return true
		}
	}
	return false
}

// Attachment is a file attached to a comment.
type Attachment struct {
	FileName     string `json:"file_name"`
	FileType     string `json:"file_type"`
	FileURL      string `json:"file_url"`
	FileSize     int64  `json:"file_size,omitempty"`
	ResourceType string `json:"resource_type"`
	UploadState  string `json:"upload_state,omitempty"`
}

// Comment is a note on a task.
type Comment struct {
	ID         string      `json:"id"`
	TaskID     string      `json:"task_id"`
	Content    string      `json:"content"`
	PostedAt   string      `json:"posted_at"`
	Attachment *Attachment `json:"attachment"`
}

// Label is a personal label.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewTask describes a task to create.
type NewTask struct {
	Content     string
	Description string
	ProjectID   string
	Labels      []string
	// DueDatetime is an RFC 3339 timestamp; empty means no due date.
	DueDatetime string
}
