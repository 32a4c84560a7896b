package executor_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/spachava753/repovisor/internal/config"
	"github.com/spachava753/repovisor/internal/environment"
	"github.com/spachava753/repovisor/internal/executor"
	"github.com/spachava753/repovisor/internal/logging"
	"github.com/spachava753/repovisor/internal/models"
	"github.com/spachava753/repovisor/internal/process"
	"github.com/spachava753/repovisor/internal/testutil"
)

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
}

// fakeProvisioner creates an empty workspace with a no-op environment
// instead of cloning, and fails the identities listed in fail.
type fakeProvisioner struct {
	baseDir string
	fail    map[string]int

	mu    sync.Mutex
	calls []string
}

func (p *fakeProvisioner) Name() string { return "fake" }

func (p *fakeProvisioner) Provision(ctx context.Context, spec models.TaskSpec) (environment.Workspace, error) {
	p.mu.Lock()
	p.calls = append(p.calls, spec.Identity)
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return environment.Workspace{}, err
	}
	if code, ok := p.fail[spec.Identity]; ok {
		return environment.Workspace{}, &models.SetupFailedError{Identity: spec.Identity, ExitCode: code}
	}

	dir := filepath.Join(p.baseDir, spec.Identity)
	bin := filepath.Join(dir, spec.EnvName(), "bin")
	if err := os.MkdirAll(bin, 0755); err != nil {
		return environment.Workspace{}, err
	}
	if err := os.WriteFile(filepath.Join(bin, "activate"), nil, 0644); err != nil {
		return environment.Workspace{}, err
	}
	return environment.Workspace{Dir: dir, EnvName: spec.EnvName()}, nil
}

func (p *fakeProvisioner) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

type failingSpawner struct{}

func (failingSpawner) Spawn(ctx context.Context, ws environment.Workspace, spec models.TaskSpec) (*process.Process, error) {
	return nil, &models.SpawnFailedError{Identity: spec.Identity, Err: errors.New("no shell")}
}

func testConfig(t *testing.T) models.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.BaseDir = t.TempDir()
	cfg.ScriptDir = t.TempDir()
	return cfg
}

func newSpec(t *testing.T, name, command string) models.TaskSpec {
	t.Helper()
	spec, err := models.NewTaskSpec("https://example.com/org/"+name+".git", "main", command, name, nil)
	if err != nil {
		t.Fatal(err)
	}
	return spec
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		t.Errorf("unexpected leftover file %s", e.Name())
	}
}

func waitFor(t *testing.T, sink *testutil.RecordingSink, identity, text string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !sink.Contains(identity, text) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %q from %s:\n%s", text, identity, sink.Dump())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunIsolatesTaskFailures(t *testing.T) {
	requireBash(t)

	cfg := testConfig(t)
	sink := &testutil.RecordingSink{}
	prov := &fakeProvisioner{baseDir: cfg.BaseDir, fail: map[string]int{"a": 7}}

	o, err := executor.NewOrchestrator(cfg, sink, executor.WithProvisioner(prov))
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}

	specs := []models.TaskSpec{
		newSpec(t, "a", "echo never"),
		newSpec(t, "b", "echo hello && exit 3"),
	}
	result, err := o.Run(context.Background(), specs)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.TotalTasks != 2 || result.FailedTasks != 1 || result.ExitedTasks != 1 {
		t.Errorf("unexpected totals: %+v", result)
	}
	if result.Cancelled {
		t.Error("expected run not to be cancelled")
	}

	a, b := result.Tasks[0], result.Tasks[1]
	if a.Status != models.StatusSetupFailed || a.ExitCode == nil || *a.ExitCode != 7 {
		t.Errorf("unexpected result for a: %+v", a)
	}
	if a.Error == nil || a.Error.Type != models.ErrSetupFailed {
		t.Errorf("expected setup_failed error for a, got %+v", a.Error)
	}
	if b.Status != models.StatusExited || b.ExitCode == nil || *b.ExitCode != 3 {
		t.Errorf("unexpected result for b: %+v", b)
	}
	if b.ProcessID == "" {
		t.Error("expected b to carry a process id")
	}

	if !sink.Contains("a", "SETUP FAILED") {
		t.Errorf("expected setup failure to be logged:\n%s", sink.Dump())
	}
	stdout := sink.Filter("b", logging.StageStdout)
	if len(stdout) == 0 || stdout[len(stdout)-1].Text != "hello" || stdout[len(stdout)-1].IsError {
		t.Errorf("expected b to log hello on stdout:\n%s", sink.Dump())
	}
	if !sink.Contains("b", "Process exited with code 3") {
		t.Errorf("expected exit code line for b:\n%s", sink.Dump())
	}
	assertDirEmpty(t, cfg.ScriptDir)
}

func TestRunSpawnFailure(t *testing.T) {
	cfg := testConfig(t)
	sink := &testutil.RecordingSink{}
	prov := &fakeProvisioner{baseDir: cfg.BaseDir}

	o, err := executor.NewOrchestrator(cfg, sink, executor.WithProvisioner(prov), executor.WithSpawner(failingSpawner{}))
	if err != nil {
		t.Fatal(err)
	}

	result, err := o.Run(context.Background(), []models.TaskSpec{newSpec(t, "bot", "true")})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	task := result.Tasks[0]
	if task.Status != models.StatusSpawnFailed || task.Error == nil || task.Error.Type != models.ErrSpawnFailed {
		t.Errorf("unexpected result: %+v", task)
	}
	if !sink.Contains("bot", "SPAWN FAILED") {
		t.Errorf("expected spawn failure to be logged:\n%s", sink.Dump())
	}
}

func TestRunCancellationKillsAllProcesses(t *testing.T) {
	requireBash(t)

	cfg := testConfig(t)
	sink := &testutil.RecordingSink{}
	prov := &fakeProvisioner{baseDir: cfg.BaseDir}

	o, err := executor.NewOrchestrator(cfg, sink, executor.WithProvisioner(prov))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	specs := []models.TaskSpec{
		newSpec(t, "one", "echo ready; sleep 30"),
		newSpec(t, "two", "echo ready; sleep 30"),
	}

	type outcome struct {
		result *models.RunResult
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		r, err := o.Run(ctx, specs)
		ch <- outcome{r, err}
	}()

	waitFor(t, sink, "one", "ready")
	waitFor(t, sink, "two", "ready")
	cancel()

	var out outcome
	select {
	case out = <-ch:
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if out.err != nil {
		t.Fatalf("Run failed: %v", out.err)
	}

	if !out.result.Cancelled {
		t.Error("expected run to be marked cancelled")
	}
	for _, task := range out.result.Tasks {
		if !sink.Contains(task.Identity, "Started successfully") || !sink.Contains(task.Identity, "Terminated") {
			t.Errorf("expected tagged lifecycle lines for %s:\n%s", task.Identity, sink.Dump())
		}
		if task.Status != models.StatusExited || task.ExitCode == nil || *task.ExitCode != -int(syscall.SIGKILL) {
			t.Errorf("expected %s to be killed, got %+v", task.Identity, task)
		}
	}
	assertDirEmpty(t, cfg.ScriptDir)
}

func TestRunCancellationWithGrace(t *testing.T) {
	requireBash(t)

	cfg := testConfig(t)
	cfg.TerminationGrace = 5 * time.Second
	sink := &testutil.RecordingSink{}
	prov := &fakeProvisioner{baseDir: cfg.BaseDir}

	o, err := executor.NewOrchestrator(cfg, sink, executor.WithProvisioner(prov))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	spec := newSpec(t, "polite", `trap 'echo bye; exit 0' TERM; echo ready; while true; do sleep 0.1; done`)
	ch := make(chan *models.RunResult, 1)
	go func() {
		r, _ := o.Run(ctx, []models.TaskSpec{spec})
		ch <- r
	}()

	waitFor(t, sink, "polite", "ready")
	cancel()

	var result *models.RunResult
	select {
	case result = <-ch:
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	task := result.Tasks[0]
	if task.ExitCode == nil || *task.ExitCode != 0 {
		t.Errorf("expected graceful exit code 0, got %+v", task)
	}
	if !sink.Contains("polite", "bye") {
		t.Errorf("expected TERM handler output:\n%s", sink.Dump())
	}
}

func TestRunSkipsTasksAfterCancellation(t *testing.T) {
	cfg := testConfig(t)
	sink := &testutil.RecordingSink{}
	prov := &fakeProvisioner{baseDir: cfg.BaseDir}

	o, err := executor.NewOrchestrator(cfg, sink, executor.WithProvisioner(prov))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := o.Run(ctx, []models.TaskSpec{newSpec(t, "a", "true"), newSpec(t, "b", "true")})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Skipped != 2 || !result.Cancelled {
		t.Errorf("expected both tasks skipped, got %+v", result)
	}
	if calls := prov.Calls(); len(calls) != 0 {
		t.Errorf("expected no provisioning after cancellation, got %v", calls)
	}
}

func TestRunRejectsDuplicateIdentity(t *testing.T) {
	cfg := testConfig(t)
	prov := &fakeProvisioner{baseDir: cfg.BaseDir}

	o, err := executor.NewOrchestrator(cfg, &testutil.RecordingSink{}, executor.WithProvisioner(prov))
	if err != nil {
		t.Fatal(err)
	}

	_, err = o.Run(context.Background(), []models.TaskSpec{newSpec(t, "dup", "true"), newSpec(t, "dup", "false")})
	if err == nil {
		t.Fatal("expected duplicate identity to be rejected")
	}
	if calls := prov.Calls(); len(calls) != 0 {
		t.Errorf("expected nothing to start, got %v", calls)
	}
}

func TestNewOrchestratorUnsupportedType(t *testing.T) {
	cfg := testConfig(t)
	cfg.Environment.Type = "docker"
	if _, err := executor.NewOrchestrator(cfg, &testutil.RecordingSink{}); err == nil {
		t.Fatal("expected error for unsupported environment type")
	}
}
