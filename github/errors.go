package github

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidRepoURL  = errors.New("github: invalid repository url")
	ErrRepoNotFound    = errors.New("github: repository not found")
	ErrNoDefaultBranch = errors.New("github: repository has no default branch")
)

// APIError is a non-2xx answer from the GitHub API or the archive host.
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: API error %d: %s (URL: %s)", e.StatusCode, e.Message, e.URL)
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusNotFound
	}
	return errors.Is(err, ErrRepoNotFound)
}

func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusUnauthorized
	}
	return false
}
