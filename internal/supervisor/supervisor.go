package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spachava753/repovisor/internal/logging"
	"github.com/spachava753/repovisor/internal/models"
	"github.com/spachava753/repovisor/internal/process"
)

// State is the supervision state of one managed process.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateTerminated
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Exit summarises a supervised process after it terminated.
type Exit struct {
	ExitCode    int
	Killed      bool
	StdoutLines int
	StderrLines int
	ReadErrors  []error
}

// Supervisor streams a managed process's output to a sink until it exits.
type Supervisor struct {
	sink         logging.Sink
	drainTimeout time.Duration
	onTransition func(identity string, from, to State)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithDrainTimeout bounds how long output is drained after the process exits.
// Zero waits for end of stream indefinitely.
func WithDrainTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		s.drainTimeout = d
	}
}

// WithTransitionHook sets a callback invoked on every state change.
func WithTransitionHook(fn func(identity string, from, to State)) Option {
	return func(s *Supervisor) {
		s.onTransition = fn
	}
}

// New creates a new Supervisor.
func New(sink logging.Sink, opts ...Option) *Supervisor {
	s := &Supervisor{
		sink:         sink,
		drainTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type event struct {
	text string
	err  error
}

// Supervise forwards stdout lines at info level and stderr lines at error
// level until the process has exited and both streams have ended. It always
// records the exit code and removes the process's launch script before
// returning.
func (s *Supervisor) Supervise(identity string, proc *process.Process) (exit Exit) {
	state := StateStarting
	transition := func(to State) {
		if to == state {
			return
		}
		from := state
		state = to
		slog.Debug("supervisor transition", "task", identity, "from", from, "to", to)
		if s.onTransition != nil {
			s.onTransition(identity, from, to)
		}
	}

	defer func() {
		// A panic inside the loop must not leave the process or its script behind.
		if r := recover(); r != nil {
			s.sink.Error(identity, "", fmt.Sprintf("supervisor panic: %v", r))
			proc.Kill()
			proc.Close()
			<-proc.Done()
		}
		exit.ExitCode = proc.ExitCode()
		exit.Killed = proc.State() == process.StateKilled
		s.sink.Info(identity, "", fmt.Sprintf("Process exited with code %d", exit.ExitCode))
		removeScript(proc.ScriptPath)
		transition(StateTerminated)
	}()

	transition(StateRunning)

	stdout := readLines(proc.Stdout)
	stderr := readLines(proc.Stderr)
	done := proc.Done()
	var drain <-chan time.Time

	for stdout != nil || stderr != nil {
		select {
		case ev, ok := <-stdout:
			if !ok {
				stdout = nil
				continue
			}
			if ev.err != nil {
				exit.ReadErrors = append(exit.ReadErrors, ev.err)
				s.sink.Error(identity, logging.StageStdout, fmt.Sprintf("%s: %v", models.ErrStreamRead, ev.err))
				// Nothing reads this pipe any more; a writer must get EPIPE, not block.
				closeStream(identity, proc.Stdout)
				transition(StateDraining)
				continue
			}
			exit.StdoutLines++
			s.sink.Info(identity, logging.StageStdout, ev.text)

		case ev, ok := <-stderr:
			if !ok {
				stderr = nil
				continue
			}
			if ev.err != nil {
				exit.ReadErrors = append(exit.ReadErrors, ev.err)
				s.sink.Error(identity, logging.StageStderr, fmt.Sprintf("%s: %v", models.ErrStreamRead, ev.err))
				// Nothing reads this pipe any more; a writer must get EPIPE, not block.
				closeStream(identity, proc.Stderr)
				transition(StateDraining)
				continue
			}
			exit.StderrLines++
			s.sink.Error(identity, logging.StageStderr, ev.text)

		case <-done:
			done = nil
			transition(StateDraining)
			if s.drainTimeout > 0 {
				drain = time.After(s.drainTimeout)
			}

		case <-drain:
			// Something outside the process still holds the pipes open.
			drain = nil
			slog.Warn("output still open after exit, closing pipes", "task", identity, "timeout", s.drainTimeout)
			proc.Close()
		}
	}

	// Both streams ended; the process may still be finishing.
	transition(StateDraining)
	<-proc.Done()
	proc.Close()
	return exit
}

// readLines reads r line by line on its own goroutine. The channel is closed
// at end of stream; a read error is delivered once before closing.
func readLines(r io.Reader) <-chan event {
	ch := make(chan event)
	go func() {
		defer close(ch)
		reader := bufio.NewReader(r)
		for {
			line, err := reader.ReadString('\n')
			if line != "" {
				ch <- event{text: strings.TrimRight(line, "\r\n")}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
					ch <- event{err: err}
				}
				return
			}
		}
	}()
	return ch
}

func closeStream(identity string, r io.Closer) {
	if err := r.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		slog.Debug("closing output stream", "task", identity, "error", err)
	}
}

func removeScript(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("removing launch script", "path", path, "error", err)
	}
}
