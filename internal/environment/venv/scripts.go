package venv

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"github.com/spachava753/repovisor/internal/util"
)

// Exit codes of the provisioning script.
const (
	ExitCloneFailed   = 10
	ExitEnvFailed     = 11
	ExitInstallFailed = 12
)

// ScriptParams are the values interpolated into the provisioning script.
type ScriptParams struct {
	Source    string
	Revision  string
	Workspace string
	EnvName   string
	Python    string
	Manifest  string
}

// ScriptFunc renders a provisioning script.
type ScriptFunc func(ScriptParams) (string, error)

var funcs = template.FuncMap{"q": util.ShellQuote}

var setupTemplate = template.Must(template.New("setup").Funcs(funcs).Parse(`#!/bin/bash
set -e

printf 'Cloning %s (%s)...\n' {{q .DisplaySource}} {{q .Revision}}
git clone --branch {{q .Revision}} -- {{q .Source}} {{q .Workspace}} || { echo 'Git clone failed'; exit {{.ExitClone}}; }

cd {{q .Workspace}}
echo "Creating virtual environment..."
{{q .Python}} -m venv {{q .EnvName}} || { echo 'Environment creation failed'; exit {{.ExitEnv}}; }

. {{q .EnvName}}/bin/activate
if [ -f {{q .Manifest}} ]; then
    echo "Installing dependencies..."
    pip install --quiet -U -r {{q .Manifest}} || { echo 'Dependency installation failed'; exit {{.ExitInstall}}; }
fi
echo "Setup completed successfully"
`))

var launchTemplate = template.Must(template.New("launch").Funcs(funcs).Parse(`#!/bin/bash
cd {{q .Workspace}} || exit 1
. {{q .EnvName}}/bin/activate || exit 1
echo "Starting process..."
exec {{q .Shell}} -c {{q .Command}}
`))

// SetupScript renders the default provisioning script.
func SetupScript(p ScriptParams) (string, error) {
	data := struct {
		ScriptParams
		DisplaySource                   string
		ExitClone, ExitEnv, ExitInstall int
	}{p, util.RedactURL(p.Source), ExitCloneFailed, ExitEnvFailed, ExitInstallFailed}

	var buf bytes.Buffer
	if err := setupTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering setup script: %w", err)
	}
	return buf.String(), nil
}

type launchParams struct {
	Workspace string
	EnvName   string
	Shell     string
	Command   string
}

func launchScript(p launchParams) (string, error) {
	var buf bytes.Buffer
	if err := launchTemplate.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("rendering launch script: %w", err)
	}
	return buf.String(), nil
}

// writeScript writes content to a new executable temp file in dir.
func writeScript(dir, pattern, content string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", fmt.Errorf("creating script file: %w", err)
	}
	path := f.Name()

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("writing script file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("closing script file: %w", err)
	}
	if err := os.Chmod(path, 0700); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("chmod script file: %w", err)
	}
	return path, nil
}
