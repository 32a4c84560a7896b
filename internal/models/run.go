package models

import "time"

// TaskStatus is the terminal state of a task within one run.
type TaskStatus string

const (
	StatusSetupFailed TaskStatus = "setup_failed"
	StatusSpawnFailed TaskStatus = "spawn_failed"
	StatusExited      TaskStatus = "exited"
	StatusSkipped     TaskStatus = "skipped"
)

// TaskResult contains the outcome of one task.
type TaskResult struct {
	Identity  string     `json:"identity"`
	ProcessID string     `json:"process_id,omitempty"`
	Status    TaskStatus `json:"status"`
	ExitCode  *int       `json:"exit_code"`
	Error     *TaskError `json:"error"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at"`
}

// RunResult aggregates the outcome of every task in a run.
type RunResult struct {
	Cancelled   bool         `json:"cancelled"`
	TotalTasks  int          `json:"total_tasks"`
	ExitedTasks int          `json:"exited_tasks"`
	FailedTasks int          `json:"failed_tasks"`
	Skipped     int          `json:"skipped_tasks"`
	StartedAt   time.Time    `json:"started_at"`
	EndedAt     time.Time    `json:"ended_at"`
	Tasks       []TaskResult `json:"tasks"`
}
