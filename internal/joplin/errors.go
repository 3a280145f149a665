package joplin

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the Joplin data API.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("joplin API error (%d) %s %s: %s", e.StatusCode, e.Method, e.Path, e.Body)
	}
	return fmt.Sprintf("joplin API error (%d) %s %s", e.StatusCode, e.Method, e.Path)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
