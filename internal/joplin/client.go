// Package joplin is a client for the Joplin data API (the clipper service)
// plus the note-destination operations the hub builds on top of it.
package joplin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	noteFields     = "id,parent_id,title,body,source_url,is_todo,todo_due"
	resourceFields = "id,title,mime,filename,file_extension,size"
)

// Config holds the connection settings for the data API.
type Config struct {
	BaseURL  string
	Token    string
	PageSize int
	Timeout  time.Duration
}

// Client talks to a single Joplin instance.
type Client struct {
	http     *resty.Client
	pageSize int
}

// NewClient creates a client for cfg. The token is sent as a query parameter
// on every request, as the data API expects.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:41184"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json").
		SetQueryParam("token", cfg.Token)

	return &Client{http: httpClient, pageSize: cfg.PageSize}
}

type page[T any] struct {
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}

// list follows the page cursor until has_more is false.
func list[T any](ctx context.Context, c *Client, path string, params map[string]string) ([]T, error) {
	var items []T
	for pageNum := 1; ; pageNum++ {
		var p page[T]
		req := c.http.R().
			SetContext(ctx).
			SetQueryParams(params).
			SetQueryParam("limit", strconv.Itoa(c.pageSize)).
			SetQueryParam("page", strconv.Itoa(pageNum)).
			SetResult(&p)
		resp, err := req.Get(path)
		if err := check(resp, err, http.MethodGet, path); err != nil {
			return nil, err
		}
		items = append(items, p.Items...)
		if !p.HasMore {
			return items, nil
		}
	}
}

func check(resp *resty.Response, err error, method, path string) error {
	if err != nil {
		return fmt.Errorf("joplin %s %s: %w", method, path, err)
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
	req := c.http.R().SetContext(ctx).SetBody(body)
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Post(path)
	return check(resp, err, http.MethodPost, path)
}

func (c *Client) put(ctx context.Context, path string, body, result any) error {
	req := c.http.R().SetContext(ctx).SetBody(body)
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Put(path)
	return check(resp, err, http.MethodPut, path)
}

func (c *Client) delete(ctx context.Context, path string) error {
	resp, err := c.http.R().SetContext(ctx).Delete(path)
	return check(resp, err, http.MethodDelete, path)
}

// Notebooks lists every notebook.
func (c *Client) Notebooks(ctx context.Context) ([]Notebook, error) {
	return list[Notebook](ctx, c, "/folders", nil)
}

// CreateNotebook creates a top-level notebook.
func (c *Client) CreateNotebook(ctx context.Context, title string) (*Notebook, error) {
	var nb Notebook
	if err := c.post(ctx, "/folders", map[string]string{"title": title}, &nb); err != nil {
		return nil, err
	}
	return &nb, nil
}

// NotebookByName finds a notebook by case-insensitive title, or returns nil.
func (c *Client) NotebookByName(ctx context.Context, name string) (*Notebook, error) {
	notebooks, err := c.Notebooks(ctx)
	if err != nil {
		return nil, err
	}
	for i := range notebooks {
		if strings.EqualFold(notebooks[i].Title, name) {
			return &notebooks[i], nil
		}
	}
	return nil, nil
}

// Tags lists every tag.
func (c *Client) Tags(ctx context.Context) ([]Tag, error) {
	return list[Tag](ctx, c, "/tags", nil)
}

// CreateTag creates a tag.
func (c *Client) CreateTag(ctx context.Context, title string) (*Tag, error) {
	var tag Tag
	if err := c.post(ctx, "/tags", map[string]string{"title": title}, &tag); err != nil {
		return nil, err
	}
	return &tag, nil
}

// TagByName finds a tag by case-insensitive title, or returns nil.
func (c *Client) TagByName(ctx context.Context, name string) (*Tag, error) {
	tags, err := c.Tags(ctx)
	if err != nil {
		return nil, err
	}
	for i := range tags {
		if strings.EqualFold(tags[i].Title, name) {
			return &tags[i], nil
		}
	}
	return nil, nil
}

// Note fetches a note, returning nil when it does not exist.
func (c *Client) Note(ctx context.Context, id string) (*Note, error) {
	var note Note
	err := c.get(ctx, "/notes/"+id, map[string]string{"fields": noteFields}, &note)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &note, nil
}

// CreateNote creates a note. A BodyHTML is converted to Markdown by Joplin.
func (c *Client) CreateNote(ctx context.Context, n NewNote) (*Note, error) {
	payload := map[string]any{"title": n.Title}
	switch {
	case n.BodyHTML != "":
		payload["body_html"] = n.BodyHTML
	case n.Body != "":
		payload["body"] = n.Body
	}
	if n.ParentID != "" {
		payload["parent_id"] = n.ParentID
	}
	if n.CreatedTime > 0 {
		payload["user_created_time"] = n.CreatedTime
	}
	if n.TodoDue > 0 {
		payload["is_todo"] = 1
		payload["todo_due"] = n.TodoDue
	}

	var note Note
	if err := c.post(ctx, "/notes", payload, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

// NoteBody returns the current body of a note.
func (c *Client) NoteBody(ctx context.Context, id string) (string, error) {
	var note Note
	if err := c.get(ctx, "/notes/"+id, map[string]string{"fields": "body"}, &note); err != nil {
		return "", err
	}
	return note.Body, nil
}

// SetNoteBody replaces the body of a note.
func (c *Client) SetNoteBody(ctx context.Context, id, body string) error {
	return c.put(ctx, "/notes/"+id, map[string]string{"body": body}, nil)
}

// MoveNote changes the parent notebook of a note.
func (c *Client) MoveNote(ctx context.Context, id, notebookID string) error {
	return c.put(ctx, "/notes/"+id, map[string]string{"parent_id": notebookID}, nil)
}

// DeleteNote deletes a note.
func (c *Client) DeleteNote(ctx context.Context, id string) error {
	return c.delete(ctx, "/notes/"+id)
}

// NoteTags lists the tags attached to a note.
func (c *Client) NoteTags(ctx context.Context, id string) ([]Tag, error) {
	return list[Tag](ctx, c, "/notes/"+id+"/tags", nil)
}

// NoteResources lists the resources attached to a note.
func (c *Client) NoteResources(ctx context.Context, id string) ([]Resource, error) {
	return list[Resource](ctx, c, "/notes/"+id+"/resources", map[string]string{"fields": resourceFields})
}

// AddTagToNote attaches an existing tag to a note.
func (c *Client) AddTagToNote(ctx context.Context, tagID, noteID string) error {
	return c.post(ctx, "/tags/"+tagID+"/notes", map[string]string{"id": noteID}, nil)
}

// RemoveTagFromNote detaches a tag from a note.
func (c *Client) RemoveTagFromNote(ctx context.Context, tagID, noteID string) error {
	return c.delete(ctx, "/tags/"+tagID+"/notes/"+noteID)
}

// ListNotes returns every note in a container.
func (c *Client) ListNotes(ctx context.Context, container Container) ([]Note, error) {
	if container == nil {
		return nil, nil
	}
	return list[Note](ctx, c, container.notesPath(), map[string]string{"fields": noteFields})
}

// UploadResource stores data as a new resource.
func (c *Client) UploadResource(ctx context.Context, filename, mimeType string, data []byte) (*Resource, error) {
	props := map[string]string{"title": filename, "filename": filename}
	if ext := strings.TrimPrefix(filepath.Ext(filename), "."); ext != "" {
		props["file_extension"] = ext
	}
	if mimeType != "" {
		props["mime"] = mimeType
	}
	encoded, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("joplin: encode resource props: %w", err)
	}

	var res Resource
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("data", filename, bytes.NewReader(data)).
		SetFormData(map[string]string{"props": string(encoded)}).
		SetResult(&res).
		Post("/resources")
	if err := check(resp, err, http.MethodPost, "/resources"); err != nil {
		return nil, err
	}
	return &res, nil
}

// ResourceFile downloads the content of a resource.
func (c *Client) ResourceFile(ctx context.Context, id string) ([]byte, error) {
	path := "/resources/" + id + "/file"
	resp, err := c.http.R().SetContext(ctx).Get(path)
	if err := check(resp, err, http.MethodGet, path); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}
