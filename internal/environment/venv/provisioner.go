package venv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spachava753/repovisor/internal/environment"
	"github.com/spachava753/repovisor/internal/logging"
	"github.com/spachava753/repovisor/internal/models"
	"github.com/spachava753/repovisor/internal/process"
)

// Options configures the venv provisioner and spawner.
type Options struct {
	BaseDir   string // parent of every workspace
	ScriptDir string // where transient scripts are written; empty means os.TempDir()
	Shell     string // interpreter for generated scripts
	Python    string // interpreter used to create the environment
	Manifest  string // dependency manifest at the workspace root
}

func (o Options) withDefaults() Options {
	if o.Shell == "" {
		o.Shell = "/bin/bash"
	}
	if o.Python == "" {
		o.Python = "python3"
	}
	if o.Manifest == "" {
		o.Manifest = "requirements.txt"
	}
	return o
}

// Provisioner clones a repository and prepares a Python virtual environment
// by running a generated shell script.
type Provisioner struct {
	opts   Options
	sink   logging.Sink
	script ScriptFunc
}

// ProvisionerOption configures a Provisioner.
type ProvisionerOption func(*Provisioner)

// WithScript replaces the provisioning script renderer.
func WithScript(fn ScriptFunc) ProvisionerOption {
	return func(p *Provisioner) {
		p.script = fn
	}
}

// NewProvisioner creates a new venv provisioner.
func NewProvisioner(opts Options, sink logging.Sink, options ...ProvisionerOption) *Provisioner {
	p := &Provisioner{
		opts:   opts.withDefaults(),
		sink:   sink,
		script: SetupScript,
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

// Name returns the provisioner name.
func (p *Provisioner) Name() string {
	return "venv"
}

// Provision prepares a fresh workspace for spec.
func (p *Provisioner) Provision(ctx context.Context, spec models.TaskSpec) (environment.Workspace, error) {
	if err := models.ValidateIdentity(spec.Identity); err != nil {
		return environment.Workspace{}, fmt.Errorf("invalid task: %w", err)
	}

	base, err := filepath.Abs(p.opts.BaseDir)
	if err != nil {
		return environment.Workspace{}, fmt.Errorf("getting absolute path: %w", err)
	}
	ws := environment.Workspace{
		Dir:     filepath.Join(base, spec.Identity),
		EnvName: spec.EnvName(),
	}

	if _, err := os.Stat(ws.Dir); err == nil {
		p.sink.Info(spec.Identity, "", "Removing existing repository...")
		if err := os.RemoveAll(ws.Dir); err != nil {
			return environment.Workspace{}, fmt.Errorf("removing workspace: %w", err)
		}
	}
	if err := os.MkdirAll(ws.Dir, 0755); err != nil {
		return environment.Workspace{}, fmt.Errorf("creating workspace: %w", err)
	}

	content, err := p.script(ScriptParams{
		Source:    spec.Source,
		Revision:  spec.Revision,
		Workspace: ws.Dir,
		EnvName:   ws.EnvName,
		Python:    p.opts.Python,
		Manifest:  p.opts.Manifest,
	})
	if err != nil {
		return environment.Workspace{}, err
	}

	scriptPath, err := writeScript(p.opts.ScriptDir, "setup-*.sh", content)
	if err != nil {
		return environment.Workspace{}, err
	}
	defer os.Remove(scriptPath)

	p.sink.Info(spec.Identity, "", "Starting repository setup...")
	start := time.Now()

	exitCode, err := p.run(ctx, spec.Identity, scriptPath)
	if err != nil {
		return environment.Workspace{}, err
	}
	if exitCode != 0 {
		return environment.Workspace{}, &models.SetupFailedError{Identity: spec.Identity, ExitCode: exitCode}
	}

	slog.Debug("workspace provisioned", "task", spec.Identity, "dir", ws.Dir, "duration", time.Since(start))
	p.sink.Info(spec.Identity, "", "Setup completed successfully")
	return ws, nil
}

// run executes the script with stdout and stderr merged, forwarding each line
// as it arrives. It returns the script's exit code.
func (p *Provisioner) run(ctx context.Context, identity, scriptPath string) (int, error) {
	cmd := exec.CommandContext(ctx, p.opts.Shell, scriptPath)
	process.ConfigureGroup(cmd)
	cmd.Cancel = process.KillGroup(cmd)
	// A grandchild keeping the pipe open must not hang setup forever.
	cmd.WaitDelay = 5 * time.Second

	// One writer for both streams gives a single merged pipe.
	out := logging.NewLineWriter(func(line string) {
		p.sink.Info(identity, logging.StageSetup, line)
	})
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	out.Flush()

	if ctx.Err() != nil {
		return -1, fmt.Errorf("setup interrupted: %w", ctx.Err())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		if errors.Is(err, exec.ErrWaitDelay) {
			return 0, nil
		}
		return -1, fmt.Errorf("running setup script: %w", err)
	}
	return 0, nil
}
