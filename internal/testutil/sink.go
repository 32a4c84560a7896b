// Package testutil provides helpers shared by package tests.
package testutil

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spachava753/repovisor/internal/logging"
)

// Line is one recorded sink call.
type Line struct {
	Identity string
	Stage    string
	Text     string
	IsError  bool
}

func (l Line) String() string {
	sev := "INFO"
	if l.IsError {
		sev = "ERROR"
	}
	return fmt.Sprintf("%s %s", sev, logging.Tag(l.Identity, l.Stage, l.Text))
}

// RecordingSink is a logging.Sink that keeps every line in memory.
type RecordingSink struct {
	mu    sync.Mutex
	lines []Line
}

var _ logging.Sink = (*RecordingSink)(nil)

func (s *RecordingSink) Info(identity, stage, text string) {
	s.record(Line{Identity: identity, Stage: stage, Text: text})
}

func (s *RecordingSink) Error(identity, stage, text string) {
	s.record(Line{Identity: identity, Stage: stage, Text: text, IsError: true})
}

func (s *RecordingSink) record(l Line) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, l)
}

// Lines returns a snapshot of the recorded lines.
func (s *RecordingSink) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Line, len(s.lines))
	copy(out, s.lines)
	return out
}

// Filter returns the lines recorded for identity and stage.
func (s *RecordingSink) Filter(identity, stage string) []Line {
	var out []Line
	for _, l := range s.Lines() {
		if l.Identity == identity && l.Stage == stage {
			out = append(out, l)
		}
	}
	return out
}

// Contains reports whether any line for identity contains text.
func (s *RecordingSink) Contains(identity, text string) bool {
	for _, l := range s.Lines() {
		if l.Identity == identity && strings.Contains(l.Text, text) {
			return true
		}
	}
	return false
}

// Dump renders every line, for test failure messages.
func (s *RecordingSink) Dump() string {
	var b strings.Builder
	for _, l := range s.Lines() {
		b.WriteString(l.String())
		b.WriteByte('\n')
	}
	return b.String()
}
