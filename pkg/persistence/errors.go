// Package persistence provides standardized error types for persistence operations.
package persistence

import "errors"

// Standard persistence error types that all implementations should use.
var (
	// ErrAutomationNotFound indicates an automation definition was not found.
	ErrAutomationNotFound = errors.New("automation not found")

	// ErrRevisionNotFound indicates no snapshot exists for the requested
	// (automation id, revision) pair.
	ErrRevisionNotFound = errors.New("automation revision not found")

	// ErrRunNotFound indicates a run was not found by the given identifier.
	ErrRunNotFound = errors.New("run not found")
)

// IsAutomationNotFound checks if an error indicates a missing definition.
func IsAutomationNotFound(err error) bool {
	return errors.Is(err, ErrAutomationNotFound)
}

// IsRevisionNotFound checks if an error indicates a missing revision snapshot.
func IsRevisionNotFound(err error) bool {
	return errors.Is(err, ErrRevisionNotFound)
}

// IsRunNotFound checks if an error indicates a missing run.
func IsRunNotFound(err error) bool {
	return errors.Is(err, ErrRunNotFound)
}
