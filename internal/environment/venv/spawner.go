package venv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/spachava753/repovisor/internal/environment"
	"github.com/spachava753/repovisor/internal/models"
	"github.com/spachava753/repovisor/internal/process"
)

// Spawner starts a task's command inside its activated virtual environment.
type Spawner struct {
	opts Options
}

// NewSpawner creates a new venv spawner.
func NewSpawner(opts Options) *Spawner {
	return &Spawner{opts: opts.withDefaults()}
}

// Spawn writes a launch script that enters the workspace, activates the
// environment and execs the command, then starts it with separate output pipes.
// The process is not bound to ctx; callers stop it explicitly.
func (s *Spawner) Spawn(ctx context.Context, ws environment.Workspace, spec models.TaskSpec) (*process.Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, &models.SpawnFailedError{Identity: spec.Identity, Err: err}
	}

	content, err := launchScript(launchParams{
		Workspace: ws.Dir,
		EnvName:   ws.EnvName,
		Shell:     s.opts.Shell,
		Command:   spec.Command,
	})
	if err != nil {
		return nil, &models.SpawnFailedError{Identity: spec.Identity, Err: err}
	}

	scriptPath, err := writeScript(s.opts.ScriptDir, "launch-*.sh", content)
	if err != nil {
		return nil, &models.SpawnFailedError{Identity: spec.Identity, Err: err}
	}

	cmd := exec.Command(s.opts.Shell, scriptPath)
	cmd.Dir = ws.Dir
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	proc, err := process.New(spec.Identity, cmd, scriptPath)
	if err != nil {
		os.Remove(scriptPath)
		return nil, &models.SpawnFailedError{Identity: spec.Identity, Err: err}
	}

	if err := proc.Start(); err != nil {
		os.Remove(scriptPath)
		return nil, &models.SpawnFailedError{Identity: spec.Identity, Err: err}
	}

	slog.Debug("process spawned", "task", spec.Identity, "pid", proc.PID(), "process_id", proc.ID)
	return proc, nil
}
