package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// StatusError reports a non-2xx response from the backend.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("backend %s %s: http %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("backend %s %s: http %d: %s", e.Method, e.Path, e.StatusCode, body)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}
