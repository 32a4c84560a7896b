package logging

import (
	"fmt"
	"log/slog"
)

// Stage tags identify which part of a task's lifecycle produced a line.
const (
	StageSetup  = "SETUP"
	StageStdout = "STDOUT"
	StageStderr = "STDERR"
)

// Sink accepts tagged lines from concurrently running tasks.
// Implementations must be safe for concurrent use.
type Sink interface {
	Info(identity, stage, text string)
	Error(identity, stage, text string)
}

// SlogSink writes tagged lines to a slog.Logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a Sink backed by logger. A nil logger uses slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) Info(identity, stage, text string) {
	s.logger.Info(Tag(identity, stage, text), "task", identity, "stage", stage)
}

func (s *SlogSink) Error(identity, stage, text string) {
	s.logger.Error(Tag(identity, stage, text), "task", identity, "stage", stage)
}

// Tag formats a line as "[<identity> <STAGE>] <text>", or "[<identity>] <text>"
// when stage is empty.
func Tag(identity, stage, text string) string {
	if stage == "" {
		return fmt.Sprintf("[%s] %s", identity, text)
	}
	return fmt.Sprintf("[%s %s] %s", identity, stage, text)
}
