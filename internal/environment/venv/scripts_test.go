package venv

import (
	"strings"
	"testing"
)

func TestSetupScriptQuotesValues(t *testing.T) {
	script, err := SetupScript(ScriptParams{
		Source:    "https://github.com/a/b.git; touch /tmp/pwned",
		Revision:  "main",
		Workspace: "/srv/projects/b@main",
		EnvName:   "b@main-env",
		Python:    "python3",
		Manifest:  "requirements.txt",
	})
	if err != nil {
		t.Fatalf("SetupScript failed: %v", err)
	}

	for _, want := range []string{
		"set -e",
		"git clone --branch main -- 'https://github.com/a/b.git; touch /tmp/pwned' /srv/projects/b@main",
		"python3 -m venv b@main-env",
		"if [ -f requirements.txt ]; then",
		"exit 10",
		"exit 11",
		"exit 12",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("setup script missing %q:\n%s", want, script)
		}
	}
}

func TestSetupScriptRedactsCredentials(t *testing.T) {
	script, err := SetupScript(ScriptParams{
		Source:   "https://ghp_secret@github.com/a/b.git",
		Revision: "main",
	})
	if err != nil {
		t.Fatalf("SetupScript failed: %v", err)
	}

	// The clone still uses the real URL; only the progress line is redacted.
	if strings.Count(script, "ghp_secret") != 1 {
		t.Errorf("expected the token only in the clone command:\n%s", script)
	}
	if !strings.Contains(script, "https://redacted@github.com/a/b.git") {
		t.Errorf("expected redacted progress line:\n%s", script)
	}
}

func TestLaunchScriptExecsCommand(t *testing.T) {
	script, err := launchScript(launchParams{
		Workspace: "/srv/projects/b@main",
		EnvName:   "b@main-env",
		Shell:     "/bin/bash",
		Command:   "echo hello && exit 3",
	})
	if err != nil {
		t.Fatalf("launchScript failed: %v", err)
	}

	for _, want := range []string{
		"cd /srv/projects/b@main || exit 1",
		". b@main-env/bin/activate || exit 1",
		"exec /bin/bash -c 'echo hello && exit 3'",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("launch script missing %q:\n%s", want, script)
		}
	}
}
