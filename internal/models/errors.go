package models

import "fmt"

// ErrorType identifies the category of error that occurred.
type ErrorType string

const (
	// Provisioning phase
	ErrSetupFailed ErrorType = "setup_failed"

	// Launch phase
	ErrSpawnFailed ErrorType = "spawn_failed"

	// Supervision phase
	ErrStreamRead  ErrorType = "stream_read_error"
	ErrTermination ErrorType = "termination_error"

	// Pre-execution
	ErrTaskInvalid ErrorType = "task_invalid"

	// Catch-all
	ErrInternalError ErrorType = "internal_error"
)

// SetupFailedError reports a provisioning script that exited non-zero.
type SetupFailedError struct {
	Identity string
	ExitCode int
}

func (e *SetupFailedError) Error() string {
	return fmt.Sprintf("setup of %s failed with exit code %d", e.Identity, e.ExitCode)
}

// SpawnFailedError reports a launch script that could not be started.
type SpawnFailedError struct {
	Identity string
	Err      error
}

func (e *SpawnFailedError) Error() string {
	return fmt.Sprintf("spawning %s: %v", e.Identity, e.Err)
}

func (e *SpawnFailedError) Unwrap() error {
	return e.Err
}

// TaskError is the serialisable record of a task failure.
type TaskError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}
