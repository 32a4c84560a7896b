package models

import (
	"fmt"
	"regexp"
	"strings"
)

// A leading "-" would be read as an option by git, python and the shell.
var identityPattern = regexp.MustCompile(`^[A-Za-z0-9._@+][A-Za-z0-9._@+-]*$`)

// TaskSpec describes one repository-to-process pipeline.
type TaskSpec struct {
	Source   string            // repository URI to clone
	Revision string            // branch or tag to check out
	Command  string            // shell command line started after provisioning
	Identity string            // display name, workspace directory name and log tag
	Env      map[string]string // extra environment for the launched process
}

// NewTaskSpec builds a TaskSpec, deriving the identity when name is empty.
func NewTaskSpec(source, revision, command, name string, env map[string]string) (TaskSpec, error) {
	if strings.TrimSpace(source) == "" {
		return TaskSpec{}, fmt.Errorf("task source is required")
	}
	if strings.TrimSpace(revision) == "" {
		return TaskSpec{}, fmt.Errorf("task %s: revision is required", source)
	}
	if strings.TrimSpace(command) == "" {
		return TaskSpec{}, fmt.Errorf("task %s: command is required", source)
	}

	identity := name
	if identity == "" {
		identity = DeriveIdentity(source, revision)
	}
	if err := ValidateIdentity(identity); err != nil {
		return TaskSpec{}, err
	}

	var envCopy map[string]string
	if len(env) > 0 {
		envCopy = make(map[string]string, len(env))
		for k, v := range env {
			envCopy[k] = v
		}
	}

	return TaskSpec{
		Source:   source,
		Revision: revision,
		Command:  command,
		Identity: identity,
		Env:      envCopy,
	}, nil
}

// DeriveIdentity returns "<repo>@<revision>" where repo is the last path
// segment of source with any ".git" suffix removed.
func DeriveIdentity(source, revision string) string {
	trimmed := strings.TrimRight(source, "/")
	if i := strings.LastIndexAny(trimmed, "/:"); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	trimmed = strings.TrimSuffix(trimmed, ".git")
	return trimmed + "@" + revision
}

// ValidateIdentity rejects identities that are unsafe as a directory name.
func ValidateIdentity(identity string) error {
	if identity == "" {
		return fmt.Errorf("identity is empty")
	}
	if identity == "." || identity == ".." {
		return fmt.Errorf("identity %q is not a valid directory name", identity)
	}
	if !identityPattern.MatchString(identity) {
		return fmt.Errorf("identity %q must use only [A-Za-z0-9._@+-] and not start with '-'", identity)
	}
	return nil
}

// EnvName returns the name of the isolated dependency environment.
func (t TaskSpec) EnvName() string {
	return t.Identity + "-env"
}
