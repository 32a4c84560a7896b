package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spachava753/repovisor/internal/config"
	"github.com/spachava753/repovisor/internal/environment"
	"github.com/spachava753/repovisor/internal/environment/venv"
	"github.com/spachava753/repovisor/internal/logging"
	"github.com/spachava753/repovisor/internal/models"
	"github.com/spachava753/repovisor/internal/process"
	"github.com/spachava753/repovisor/internal/supervisor"
)

// Orchestrator provisions, launches and supervises every task of a run.
type Orchestrator struct {
	cfg         models.Config
	sink        logging.Sink
	provisioner environment.Provisioner
	spawner     environment.Spawner
	supervisor  *supervisor.Supervisor
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithProvisioner replaces the provisioner selected by the environment type.
func WithProvisioner(p environment.Provisioner) Option {
	return func(o *Orchestrator) {
		o.provisioner = p
	}
}

// WithSpawner replaces the spawner selected by the environment type.
func WithSpawner(s environment.Spawner) Option {
	return func(o *Orchestrator) {
		o.spawner = s
	}
}

// WithSupervisor replaces the default supervisor.
func WithSupervisor(s *supervisor.Supervisor) Option {
	return func(o *Orchestrator) {
		o.supervisor = s
	}
}

// NewOrchestrator creates a new orchestrator for the configured environment type.
func NewOrchestrator(cfg models.Config, sink logging.Sink, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:        cfg,
		sink:       sink,
		supervisor: supervisor.New(sink, supervisor.WithDrainTimeout(cfg.DrainTimeout)),
	}

	switch cfg.Environment.Type {
	case "venv", "":
		vopts := venv.Options{
			BaseDir:   cfg.BaseDir,
			ScriptDir: cfg.ScriptDir,
			Shell:     cfg.Environment.Shell,
			Python:    cfg.Environment.Python,
			Manifest:  cfg.Environment.Manifest,
		}
		o.provisioner = venv.NewProvisioner(vopts, sink)
		o.spawner = venv.NewSpawner(vopts)
	default:
		return nil, fmt.Errorf("unsupported environment type: %s", cfg.Environment.Type)
	}

	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run provisions and launches each task in order, supervising every launched
// process concurrently. It returns once all supervised processes have exited.
// Cancelling ctx skips tasks not yet provisioned and terminates every running
// process.
func (o *Orchestrator) Run(ctx context.Context, specs []models.TaskSpec) (*models.RunResult, error) {
	startTime := time.Now()

	seen := make(map[string]int, len(specs))
	for i, spec := range specs {
		if err := models.ValidateIdentity(spec.Identity); err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		if j, ok := seen[spec.Identity]; ok {
			return nil, fmt.Errorf("task %d: identity %q already used by task %d", i, spec.Identity, j)
		}
		seen[spec.Identity] = i
	}

	results := make([]models.TaskResult, len(specs))

	var mu sync.Mutex
	var running []*process.Process

	var g errgroup.Group
	for i, spec := range specs {
		if ctx.Err() != nil {
			results[i] = skippedResult(spec, ctx.Err())
			continue
		}

		proc, result := o.launch(ctx, spec)
		results[i] = result
		if proc == nil {
			continue
		}

		mu.Lock()
		running = append(running, proc)
		mu.Unlock()

		// Each goroutine writes only its own slot.
		g.Go(func() error {
			exit := o.supervisor.Supervise(spec.Identity, proc)
			results[i] = exitResult(results[i], exit)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		mu.Lock()
		procs := append([]*process.Process(nil), running...)
		mu.Unlock()

		o.terminateAll(procs)
		<-done
	}

	return aggregate(results, startTime, ctx.Err() != nil), nil
}

// launch provisions and spawns one task. A nil process means the task did not
// reach the running state and result already holds the reason.
func (o *Orchestrator) launch(ctx context.Context, spec models.TaskSpec) (*process.Process, models.TaskResult) {
	result := models.TaskResult{
		Identity:  spec.Identity,
		StartedAt: time.Now(),
	}

	ws, err := o.provisioner.Provision(ctx, spec)
	if err != nil {
		if ctx.Err() != nil {
			return nil, skippedResult(spec, err)
		}
		o.sink.Error(spec.Identity, "", "SETUP FAILED: "+err.Error())
		result.Status = models.StatusSetupFailed
		result.Error = &models.TaskError{Type: models.ErrSetupFailed, Message: err.Error()}
		var setupErr *models.SetupFailedError
		if errors.As(err, &setupErr) {
			result.ExitCode = &setupErr.ExitCode
		}
		result.EndedAt = time.Now()
		return nil, result
	}

	proc, err := o.spawner.Spawn(ctx, ws, spec)
	if err != nil {
		if ctx.Err() != nil {
			return nil, skippedResult(spec, err)
		}
		o.sink.Error(spec.Identity, "", "SPAWN FAILED: "+err.Error())
		result.Status = models.StatusSpawnFailed
		result.Error = &models.TaskError{Type: models.ErrSpawnFailed, Message: err.Error()}
		result.EndedAt = time.Now()
		return nil, result
	}

	o.sink.Info(spec.Identity, "", "Started successfully")
	slog.Debug("task started", "task", spec.Identity, "process_id", proc.ID, "pid", proc.PID())
	result.ProcessID = proc.ID
	return proc, result
}

// terminateAll stops every process concurrently. Failures are logged and
// otherwise ignored; a process that already exited is not an error.
func (o *Orchestrator) terminateAll(procs []*process.Process) {
	var wg sync.WaitGroup
	for _, proc := range procs {
		wg.Go(func() {
			if err := terminate(proc, o.cfg.TerminationGrace); err != nil && !errors.Is(err, process.ErrNotRunning) {
				slog.Debug("termination failed", "task", proc.Name, "type", models.ErrTermination, "error", err)
			}
			o.sink.Info(proc.Name, "", "Terminated")
		})
	}
	wg.Wait()
}

// terminate kills the process group outright when grace is zero. Otherwise it
// sends SIGTERM and escalates to SIGKILL once grace has elapsed.
func terminate(proc *process.Process, grace time.Duration) error {
	if grace <= 0 {
		return proc.Kill()
	}
	if err := proc.Terminate(); err != nil {
		return err
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-proc.Done():
		return nil
	case <-timer.C:
		return proc.Kill()
	}
}

func skippedResult(spec models.TaskSpec, cause error) models.TaskResult {
	now := time.Now()
	return models.TaskResult{
		Identity:  spec.Identity,
		Status:    models.StatusSkipped,
		Error:     &models.TaskError{Type: models.ErrInternalError, Message: cause.Error()},
		StartedAt: now,
		EndedAt:   now,
	}
}

func exitResult(result models.TaskResult, exit supervisor.Exit) models.TaskResult {
	code := exit.ExitCode
	result.Status = models.StatusExited
	result.ExitCode = &code
	result.EndedAt = time.Now()
	if len(exit.ReadErrors) > 0 {
		result.Error = &models.TaskError{
			Type:    models.ErrStreamRead,
			Message: errors.Join(exit.ReadErrors...).Error(),
		}
	}
	return result
}

func aggregate(results []models.TaskResult, startTime time.Time, cancelled bool) *models.RunResult {
	rr := &models.RunResult{
		Cancelled:  cancelled,
		TotalTasks: len(results),
		StartedAt:  startTime,
		EndedAt:    time.Now(),
		Tasks:      results,
	}
	for _, r := range results {
		switch r.Status {
		case models.StatusExited:
			rr.ExitedTasks++
		case models.StatusSetupFailed, models.StatusSpawnFailed:
			rr.FailedTasks++
		case models.StatusSkipped:
			rr.Skipped++
		}
	}
	return rr
}

// RunFromConfig builds the task list from cfg and runs it to completion.
func RunFromConfig(ctx context.Context, cfg models.Config, sink logging.Sink) (*models.RunResult, error) {
	specs, err := config.TaskSpecs(cfg)
	if err != nil {
		return nil, fmt.Errorf("building tasks: %w", err)
	}

	orchestrator, err := NewOrchestrator(cfg, sink)
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}

	return orchestrator.Run(ctx, specs)
}
