// Package domain provides shared domain-level error types and sentinels.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrStagingBusy indicates another stage/commit/discard operation is
// already running against the shared staging area.
var ErrStagingBusy = errors.New("staging operation already in progress")

// ErrWorktreeExists indicates an active worktree already exists for a spec.
var ErrWorktreeExists = errors.New("worktree already exists for spec")

// ValidationError indicates missing or invalid caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ConflictError indicates a merge or stage operation hit conflicting files.
// Files carries the paths that could not be merged cleanly.
type ConflictError struct {
	Files   []string
	Message string
}

func (e *ConflictError) Error() string {
	if len(e.Files) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %d conflicting files", e.Message, len(e.Files))
}

// ProcessError indicates the bound agent process crashed or failed to start.
type ProcessError struct {
	TaskID string
	Err    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("agent process for task %s: %v", e.TaskID, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// RateLimitError indicates the upstream provider throttled a request.
// It is recoverable via credential failover.
type RateLimitError struct {
	Source    string
	TaskID    string
	ProfileID string
	LimitType string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (source=%s, profile=%s, type=%s)", e.Source, e.ProfileID, e.LimitType)
}

// PersistenceError indicates a metadata write failed. Callers roll back
// any optimistic in-memory mutation when they see this.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
