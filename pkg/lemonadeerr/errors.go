// Package lemonadeerr defines the sentinel and typed errors shared across
// lemonade-server's components. Handlers never write HTTP status codes for
// domain errors directly; pkg/httpapi maps these to status codes once, at
// the router edge, by checking them with errors.Is/errors.As.
package lemonadeerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra data beyond "this kind
// of thing happened" -- paired with their HTTP mapping in pkg/httpapi.
var (
	// ErrModelNotFound indicates an unknown model name was referenced by a
	// catalog lookup, load, pull, or delete request.
	ErrModelNotFound = errors.New("model not found")

	// ErrBackendNotFound indicates an unknown recipe/backend name.
	ErrBackendNotFound = errors.New("backend not found")

	// ErrUnauthorized indicates a missing or mismatched API key.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnsupported indicates the requested engine or platform combination
	// cannot serve the requested feature (e.g. a CPU-only build asked for an
	// NPU-exclusive recipe).
	ErrUnsupported = errors.New("unsupported on this engine or platform")

	// ErrBusy indicates a scheduler acquire was cancelled while a spawn was
	// already in flight for that runner key; the spawn itself is not
	// aborted, only the caller's wait.
	ErrBusy = errors.New("scheduler busy, spawn already in flight")

	// ErrEngineFailed indicates the wrapped server's child process exited
	// unexpectedly while in the Ready state.
	ErrEngineFailed = errors.New("wrapped engine process failed")

	// ErrNotLoaded indicates an unload was requested for a model name that
	// has no resident scheduler entry.
	ErrNotLoaded = errors.New("model not loaded")

	// ErrModelTooBig indicates a descriptor's estimated memory requirement
	// exceeds the system total, so it could never be scheduled regardless of
	// eviction.
	ErrModelTooBig = errors.New("model too big for available memory")
)

// ConflictError reports that a catalog registration or recipe-options update
// conflicts with an existing entry that has different field values.
type ConflictError struct {
	Name  string
	Field string
	Want  string
	Got   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: field %q already registered as %q, got %q", e.Name, e.Field, e.Want, e.Got)
}

// AmbiguousVariantError reports that a GGUF variant pattern matched more
// than one candidate file within a checkpoint repository.
type AmbiguousVariantError struct {
	Checkpoint string
	Pattern    string
	Matches    []string
}

func (e *AmbiguousVariantError) Error() string {
	return fmt.Sprintf("variant %q in checkpoint %q matches %d files: %v", e.Pattern, e.Checkpoint, len(e.Matches), e.Matches)
}

// NetworkError wraps a download-source failure so callers can distinguish
// "the remote is unreachable" (retriable) from other error kinds.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
