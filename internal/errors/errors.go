package errors

import (
	"fmt"
	"time"
)

// Code is a stable, machine-readable error classification.
type Code string

const (
	// Input errors: bad caller input, never retried.
	CodeFileNotFound    Code = "file_not_found"
	CodePathNotAbsolute Code = "path_not_absolute"
	CodeUnsupportedExt  Code = "unsupported_extension"

	// Engine errors.
	CodeParse      Code = "parse"
	CodeResolution Code = "resolution"
	CodePartial    Code = "partial_failure"

	// Worker-host boundary errors.
	CodeWorkerTimeout  Code = "worker_timeout"
	CodeWorkerCrashed  Code = "worker_crashed"
	CodeWorkerNotReady Code = "worker_not_ready"
	CodeBadResponse    Code = "malformed_response"

	// Persistence errors.
	CodeSnapshotVersion Code = "snapshot_version_mismatch"
	CodeSnapshotCorrupt Code = "snapshot_corrupt"

	CodeInternal Code = "internal"
)

// InputError is an immediately-surfaced caller mistake.
type InputError struct {
	Code Code
	Path string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Path)
}

// NewFileNotFound reports a path that does not exist on disk.
func NewFileNotFound(path string) *InputError {
	return &InputError{Code: CodeFileNotFound, Path: path}
}

// NewPathNotAbsolute reports a relative path where an absolute one is required.
func NewPathNotAbsolute(path string) *InputError {
	return &InputError{Code: CodePathNotAbsolute, Path: path}
}

// NewUnsupportedExtension reports a file type no parser is registered for.
func NewUnsupportedExtension(path string) *InputError {
	return &InputError{Code: CodeUnsupportedExt, Path: path}
}

// EngineError wraps a failure inside the graph engine with file context.
type EngineError struct {
	Code       Code
	FilePath   string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewEngineError creates an engine error with context.
func NewEngineError(code Code, op, path string, err error) *EngineError {
	return &EngineError{
		Code:       code,
		FilePath:   path,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

func (e *EngineError) Error() string {
	if e.FilePath != "" {
		return fmt.Sprintf("%s %s failed for %s: %v", e.Code, e.Operation, e.FilePath, e.Underlying)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Code, e.Operation, e.Underlying)
}

func (e *EngineError) Unwrap() error { return e.Underlying }

// WorkerError is a failure at the worker-host boundary.
type WorkerError struct {
	Code      Code
	RequestID string
	Tool      string
	Detail    string
}

func (e *WorkerError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s (request %s, tool %s): %s", e.Code, e.RequestID, e.Tool, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// NewWorkerTimeout reports a request that was never answered within its deadline.
func NewWorkerTimeout(requestID, tool string) *WorkerError {
	return &WorkerError{Code: CodeWorkerTimeout, RequestID: requestID, Tool: tool, Detail: "deadline exceeded"}
}

// NewWorkerNotReady reports an invoke against a host without a live worker.
func NewWorkerNotReady(detail string) *WorkerError {
	return &WorkerError{Code: CodeWorkerNotReady, Detail: detail}
}

// NewWorkerCrashed reports a worker process or channel that died mid-flight.
func NewWorkerCrashed(detail string) *WorkerError {
	return &WorkerError{Code: CodeWorkerCrashed, Detail: detail}
}

// NewBadResponse reports a response the host could not decode or correlate.
func NewBadResponse(requestID, detail string) *WorkerError {
	return &WorkerError{Code: CodeBadResponse, RequestID: requestID, Detail: detail}
}

// SnapshotError is a persistence failure; loaders treat these as "absent".
type SnapshotError struct {
	Code Code
	Key  string
	Why  string
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("%s for snapshot %q: %s", e.Code, e.Key, e.Why)
}

// MultiError collects failures from bulk operations that must not abort early.
type MultiError struct {
	Errors []error
}

// NewMultiError creates a multi-error, dropping nils. Returns nil when empty.
func NewMultiError(errs []error) *MultiError {
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return &MultiError{Errors: filtered}
}

func (e *MultiError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

func (e *MultiError) Unwrap() []error { return e.Errors }
