package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized is matched by HTTPError for 401 and 403 responses.
var ErrUnauthorized = errors.New("server rejected credentials")

// HTTPError reports a non-2xx response from the server.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrUnauthorized &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}
