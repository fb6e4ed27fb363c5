// Package domain provides the core types shared across the assistant.
package domain

import (
	"errors"
	"fmt"
)

// ErrNoActiveChat is returned when an orchestration call is made without an
// active chat identifier. No side effects have occurred when it is returned.
var ErrNoActiveChat = errors.New("no active chat")

// ErrMissingAPIKey is returned at construction time when no completion API
// key is configured. It is raised before any network call.
var ErrMissingAPIKey = errors.New("completion API key is not configured")

// APIError is an HTTP-level error from the completion API, carrying the
// status and body text so callers can classify it.
type APIError struct {
	StatusCode int
	Body       string
	Model      string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Model != "" {
		return fmt.Sprintf("completion API error for model %s (status %d): %s", e.Model, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("completion API error (status %d): %s", e.StatusCode, e.Body)
}

// VisionError indicates a vision-capable model could not use the supplied
// image content. It carries the original error message and signals the
// caller to retry with a text-only prompt instead of surfacing a failure.
type VisionError struct {
	Message string
}

// Error implements the error interface.
func (e *VisionError) Error() string {
	return e.Message
}

// IsVisionError reports whether err is (or wraps) a VisionError.
func IsVisionError(err error) bool {
	var ve *VisionError
	return errors.As(err, &ve)
}
