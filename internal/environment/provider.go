package environment

import (
	"context"

	"github.com/spachava753/repovisor/internal/models"
	"github.com/spachava753/repovisor/internal/process"
)

// Workspace is a provisioned, ready-to-run checkout on local disk.
type Workspace struct {
	// Dir is the workspace root containing the clone.
	Dir string

	// EnvName is the isolated dependency environment inside Dir.
	EnvName string
}

// Provisioner materializes a workspace for a task.
type Provisioner interface {
	// Name returns the provisioner name (e.g., "venv").
	Name() string

	// Provision destroys any previous workspace for the task, clones the
	// source, creates the dependency environment and installs dependencies.
	// Progress lines are streamed to the sink while it runs.
	Provision(ctx context.Context, spec models.TaskSpec) (Workspace, error)
}

// Spawner launches a task's command inside a provisioned workspace.
type Spawner interface {
	// Spawn starts the launch command and returns a running process with
	// separate stdout and stderr streams.
	Spawn(ctx context.Context, ws Workspace, spec models.TaskSpec) (*process.Process, error)
}
