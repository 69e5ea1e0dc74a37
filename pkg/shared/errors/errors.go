package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals an absent file or record.
	ErrNotFound = errors.New("not found")
	// ErrCycleInProgress is returned when a scan is requested while another one holds the cycle.
	ErrCycleInProgress = errors.New("scan cycle already in progress")
	// ErrUnknownEcosystem is returned when no manifest parser is registered for an ecosystem.
	ErrUnknownEcosystem = errors.New("unknown ecosystem")
	// ErrBackendUnavailable is returned by synthesis backends that are not configured.
	ErrBackendUnavailable = errors.New("synthesis backend unavailable")
)

// RepositoryScanError records the pipeline stage at which a repository scan failed.
type RepositoryScanError struct {
	Repository string
	Stage      string
	Err        error
}

// Error implements the error interface.
func (e *RepositoryScanError) Error() string {
	return fmt.Sprintf("scan of %q failed at %s: %v", e.Repository, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *RepositoryScanError) Unwrap() error {
	return e.Err
}

// NewRepositoryScanError wraps err with the repository and stage it happened in.
func NewRepositoryScanError(repository, stage string, err error) error {
	return &RepositoryScanError{
		Repository: repository,
		Stage:      stage,
		Err:        err,
	}
}

// IsNotFound reports whether err marks an absent file or record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
