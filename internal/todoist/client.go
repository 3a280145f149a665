// Package todoist is a client for the Todoist REST API, including the
// two-step file upload used for file comments.
package todoist

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultBaseURL   = "https://api.todoist.com/rest/v2"
	DefaultUploadURL = "https://api.todoist.com/sync/v9/uploads/add"
)

// Config holds the connection settings.
type Config struct {
	Token     string
	BaseURL   string
	UploadURL string
	Timeout   time.Duration
}

// Client talks to one Todoist account.
type Client struct {
	http      *resty.Client
	uploadURL string
}

// NewClient creates a client authenticated with cfg.Token.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UploadURL == "" {
		cfg.UploadURL = DefaultUploadURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetAuthToken(cfg.Token).
		SetHeader("Accept", "application/json")

	return &Client{http: httpClient, uploadURL: cfg.UploadURL}
}

func check(resp *resty.Response, err error, method, path string) error {
	if err != nil {
		return fmt.Errorf("todoist %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return &APIError{
			StatusCode: resp.StatusCode(),
			Method:     method,
			Path:       path,
			Body:       strings.TrimSpace(string(resp.Body())),
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, result any) error {
	resp, err := c.http.R().SetContext(ctx).SetQueryParams(params).SetResult(result).Get(path)
	return check(resp, err, http.MethodGet, path)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Post(path)
	return check(resp, err, http.MethodPost, path)
}

// Projects lists every project.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := c.get(ctx, "/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// Project fetches a project, returning nil when it does not exist.
func (c *Client) Project(ctx context.Context, id string) (*Project, error) {
	var p Project
	err := c.get(ctx, "/projects/"+id, nil, &p)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProject creates a top-level project.
func (c *Client) CreateProject(ctx context.Context, name string) (*Project, error) {
	var p Project
	if err := c.post(ctx, "/projects", map[string]string{"name": name}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ProjectByName finds a project by case-insensitive name, or returns nil.
func (c *Client) ProjectByName(ctx context.Context, name string) (*Project, error) {
	projects, err := c.Projects(ctx)
	if err != nil {
		return nil, err
	}
	for i := range projects {
		if equalFold(projects[i].Name, name) {
			return &projects[i], nil
		}
	}
	return nil, nil
}

// Sections lists the sections of a project.
func (c *Client) Sections(ctx context.Context, projectID string) ([]Section, error) {
	var sections []Section
	if err := c.get(ctx, "/sections", map[string]string{"project_id": projectID}, &sections); err != nil {
		return nil, err
	}
	return sections, nil
}

// TasksByProject lists the active tasks of a project, sub-tasks included.
func (c *Client) TasksByProject(ctx context.Context, projectID string) ([]Task, error) {
	var tasks []Task
	if err := c.get(ctx, "/tasks", map[string]string{"project_id": projectID}, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// TasksByLabel lists the active tasks carrying label.
func (c *Client) TasksByLabel(ctx context.Context, label string) ([]Task, error) {
	var tasks []Task
	if err := c.get(ctx, "/tasks", map[string]string{"label": label}, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// SubTasks returns the direct children of a task.
func (c *Client) SubTasks(ctx context.Context, task Task) ([]Task, error) {
	tasks, err := c.TasksByProject(ctx, task.ProjectID)
	if err != nil {
		return nil, err
	}
	var children []Task
	for _, t := range tasks {
		if t.ParentID == task.ID {
			children = append(children, t)
		}
	}
	return children, nil
}

// CreateTask adds a task.
func (c *Client) CreateTask(ctx context.Context, t NewTask) (*Task, error) {
	payload := map[string]any{"content": t.Content}
	if t.Description != "" {
		payload["description"] = t.Description
	}
	if t.ProjectID != "" {
		payload["project_id"] = t.ProjectID
	}
	if len(t.Labels) > 0 {
		payload["labels"] = t.Labels
	}
	if t.DueDatetime != "" {
		payload["due_datetime"] = t.DueDatetime
	}

	var task Task
	if err := c.post(ctx, "/tasks", payload, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// SetTaskLabels replaces the labels of a task.
func (c *Client) SetTaskLabels(ctx context.Context, taskID string, labels []string) error {
	if labels == nil {
		labels = []string{}
	}
	return c.post(ctx, "/tasks/"+taskID, map[string]any{"labels": labels}, nil)
}

// CloseTask completes a task.
func (c *Client) CloseTask(ctx context.Context, taskID string) error {
	return c.post(ctx, "/tasks/"+taskID+"/close", nil, nil)
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	path := "/tasks/" + taskID
	resp, err := c.http.R().SetContext(ctx).Delete(path)
	return check(resp, err, http.MethodDelete, path)
}

// Comments lists the comments on a task.
func (c *Client) Comments(ctx context.Context, taskID string) ([]Comment, error) {
	var comments []Comment
	if err := c.get(ctx, "/comments", map[string]string{"task_id": taskID}, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

// AddComment posts a text comment, truncated to MaxCommentLength.
func (c *Client) AddComment(ctx context.Context, taskID, content string) (*Comment, error) {
	var comment Comment
	payload := map[string]any{"task_id": taskID, "content": TruncateComment(content)}
	if err := c.post(ctx, "/comments", payload, &comment); err != nil {
		return nil, err
	}
	return &comment, nil
}

// UploadFile is the first step of a file comment: it stores the bytes and
// returns the attachment to reference from the comment.
func (c *Client) UploadFile(ctx context.Context, filename, mimeType string, data []byte) (*Attachment, error) {
	form := map[string]string{"file_name": filename}
	if mimeType != "" {
		form["file_type"] = mimeType
	}
	var att Attachment
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", filename, bytes.NewReader(data)).
		SetFormData(form).
		SetResult(&att).
		Post(c.uploadURL)
	if err := check(resp, err, http.MethodPost, c.uploadURL); err != nil {
		return nil, err
	}
	return &att, nil
}

// AddFileComment uploads data and attaches it to the task as a comment.
func (c *Client) AddFileComment(ctx context.Context, taskID, filename, mimeType string, data []byte) (*Comment, error) {
	att, err := c.UploadFile(ctx, filename, mimeType, data)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}
	var comment Comment
	payload := map[string]any{"task_id": taskID, "content": "", "attachment": att}
	if err := c.post(ctx, "/comments", payload, &comment); err != nil {
		return nil, fmt.Errorf("attach %s: %w", filename, err)
	}
	return &comment, nil
}

// Labels lists the personal labels.
func (c *Client) Labels(ctx context.Context) ([]Label, error) {
	var labels []Label
	if err := c.get(ctx, "/labels", nil, &labels); err != nil {
		return nil, err
	}
	return labels, nil
}

// CreateLabel adds a personal label.
func (c *Client) CreateLabel(ctx context.Context, name string) (*Label, error) {
	var label Label
	if err := c.post(ctx, "/labels", map[string]string{"name": name}, &label); err != nil {
		return nil, err
	}
	return &label, nil
}

// EnsureLabels maps tags onto label names, reusing existing labels matched
// case-insensitively and creating normalised ones for the rest.
func (c *Client) EnsureLabels(ctx context.Context, tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	existing, err := c.Labels(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		if strings.TrimSpace(tag) == "" {
			continue
		}
		name := ""
		for _, l := range existing {
			if equalFold(l.Name, tag) || equalFold(l.Name, LabelName(tag)) {
				name = l.Name
				break
			}
		}
		if name == "" {
			created, err := c.CreateLabel(ctx, LabelName(tag))
			if err != nil {
				return nil, fmt.Errorf("create label %s: %w", tag, err)
			}
			existing = append(existing, *created)
			name = created.Name
		}
		names = append(names, name)
	}
	return names, nil
}
