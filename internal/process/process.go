package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// State represents the state of a process.
type State int

const (
	// StateCreated indicates the process has been created but not started.
	StateCreated State = iota
	// StateRunning indicates the process is currently running.
	StateRunning
	// StateExited indicates the process has exited on its own.
	StateExited
	// StateKilled indicates the process was killed by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Sentinel errors for the process package.
var (
	ErrNotStarted     = errors.New("process not started")
	ErrAlreadyStarted = errors.New("process already started")
	ErrNotRunning     = errors.New("process not running")
)

// Process is a managed child process with separate output streams.
//
// The process runs in its own process group so that signals reach the
// launched command and anything it spawns. Process is safe for concurrent use.
type Process struct {
	// ID uniquely identifies this launch.
	ID string

	// Name is the task identity the process belongs to.
	Name string

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	// Stdout and Stderr are the read ends of the output pipes.
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	// ScriptPath is the transient launch script to delete after exit.
	ScriptPath string

	// Started is the time the process was started.
	Started time.Time

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32

	mu      sync.RWMutex
	exitErr error

	// pending holds the parent's copies of the pipe write ends until Start.
	pending []*os.File
}

// New prepares cmd with fresh stdout and stderr pipes.
// The command must not have been started.
func New(name string, cmd *exec.Cmd, scriptPath string) (*Process, error) {
	if cmd.Stdout != nil || cmd.Stderr != nil {
		return nil, fmt.Errorf("command output already configured")
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	cmd.Stdout = outW
	cmd.Stderr = errW
	configureProcessGroup(cmd)

	p := &Process{
		ID:         uuid.NewString(),
		Name:       name,
		Cmd:        cmd,
		Stdout:     outR,
		Stderr:     errR,
		ScriptPath: scriptPath,
		done:       make(chan struct{}),
		pending:    []*os.File{outW, errW},
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1)
	return p, nil
}

// Start starts the process and begins waiting for it in the background.
// On failure every pipe is closed.
func (p *Process) Start() error {
	if p.State() != StateCreated {
		return ErrAlreadyStarted
	}

	err := p.Cmd.Start()

	// The child holds its own copies of the write ends; ours must be closed
	// so readers see end of stream once the child side is gone.
	for _, f := range p.pending {
		f.Close()
	}
	p.pending = nil

	if err != nil {
		p.Close()
		return fmt.Errorf("start process: %w", err)
	}

	p.Started = time.Now()
	p.state.Store(int32(StateRunning))
	go p.wait()
	return nil
}

func (p *Process) wait() {
	err := p.Cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()

	exitCode := 0
	state := StateExited
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				state = StateKilled
				exitCode = -int(status.Signal())
			}
		} else {
			exitCode = -1
		}
	}

	p.exitCode.Store(int32(exitCode))
	p.state.Store(int32(state))
	close(p.done)
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// Done returns a channel that is closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the exit code, -N if the process was killed by signal N,
// or -1 if it has not exited.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error from waiting on the process, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// IsRunning returns true if the process is currently running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// PID returns the process ID, or -1 if not started.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// Signal sends sig to the process group.
func (p *Process) Signal(sig syscall.Signal) error {
	if p.Cmd.Process == nil {
		return ErrNotStarted
	}
	if !p.IsRunning() {
		return ErrNotRunning
	}
	return signalProcessGroup(p.Cmd, sig)
}

// Kill sends SIGKILL to the process group.
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// Terminate sends SIGTERM to the process group.
func (p *Process) Terminate() error {
	return p.Signal(syscall.SIGTERM)
}

// Close closes the read ends of the output pipes. Pending reads return an error.
func (p *Process) Close() error {
	var errs []error
	if err := p.Stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, fmt.Errorf("close stdout: %w", err))
	}
	if err := p.Stderr.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, fmt.Errorf("close stderr: %w", err))
	}
	return errors.Join(errs...)
}

// Runtime returns how long the process has been running.
func (p *Process) Runtime() time.Duration {
	if p.Started.IsZero() {
		return 0
	}
	return time.Since(p.Started)
}
