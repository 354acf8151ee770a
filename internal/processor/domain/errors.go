package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("processor_resource_not_found")
	ErrModeNotConfigured = errors.New("processor_mode_not_configured")
	ErrUpstream          = errors.New("processor_upstream_error")
)

// UpstreamError wraps a failed processor call. Its message is safe to log but
// must not be returned to public clients.
type UpstreamError struct {
	Op         string
	Code       string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%d): %v", e.Op, e.Code, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrUpstream) match any upstream failure.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// Reason labels the error for metrics.
func (e *UpstreamError) Reason() string {
	if errors.Is(e.Err, ErrNotFound) {
		return "upstream_not_found"
	}
	return "upstream"
}
