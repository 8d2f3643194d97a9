package steps

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opnlabs/relay/pkg/artifacts"
	"github.com/opnlabs/relay/pkg/pipeline"
	"github.com/opnlabs/relay/pkg/runner"
)

type fakeExecutor struct {
	code   int
	err    error
	stdout string
	report string
	got    runner.Command
}

func (f *fakeExecutor) Exec(ctx context.Context, c runner.Command) (int, error) {
	f.got = c
	if f.stdout != "" {
		io.WriteString(c.Stdout, f.stdout)
	}
	if f.report != "" {
		os.WriteFile(filepath.Join(c.Dir, "test-results.xml"), []byte(f.report), 0o644)
	}
	return f.code, f.err
}

func newContext(t *testing.T) *pipeline.RunContext {
	rc := pipeline.NewRunContext("demo", map[string]string{
		pipeline.ParamBranch:      "main",
		pipeline.ParamEnvironment: "dev",
	}, map[string]string{"VENV_DIR": "venv"})
	rc.Workspace = t.TempDir()
	rc.ArtifactsDir = filepath.Join(rc.Workspace, "artifacts")
	return rc
}

func quiet() *log.Logger { return log.New(io.Discard) }

const failingReport = `<testsuite tests="5" failures="1" errors="0"><testcase name="test_add"><failure/></testcase></testsuite>`
const passingReport = `<testsuite tests="5" failures="0" errors="0"/>`

func TestShell(t *testing.T) {
	tests := []struct {
		Name   string
		Step   Shell
		Exec   fakeExecutor
		Check  func(*testing.T, error)
		Stdout string
	}{
		{
			Name:  "passes",
			Step:  Shell{Script: "true"},
			Check: func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			Name: "fatal exit",
			Step: Shell{Label: "setup", Script: "python setup.py sdist"},
			Exec: fakeExecutor{code: 2},
			Check: func(t *testing.T, err error) {
				var exitErr *pipeline.ExitError
				require.ErrorAs(t, err, &exitErr)
				assert.Equal(t, 2, exitErr.Code)
				assert.Equal(t, "setup", exitErr.Step)
			},
		},
		{
			Name:  "best effort exit suppressed",
			Step:  Shell{Script: "pylint src", BestEffort: true},
			Exec:  fakeExecutor{code: 30},
			Check: func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			Name:  "best effort start failure suppressed",
			Step:  Shell{Script: "bandit -r src", BestEffort: true},
			Exec:  fakeExecutor{code: -1, err: errors.New("exec: not found")},
			Check: func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			Name:  "start failure",
			Step:  Shell{Script: "black --check src"},
			Exec:  fakeExecutor{code: -1, err: errors.New("exec: not found")},
			Check: func(t *testing.T, err error) { assert.EqualError(t, err, "exec: not found") },
		},
		{
			Name: "unstable exit code",
			Step: Shell{Script: "pytest", UnstableExitCodes: []int{1}},
			Exec: fakeExecutor{code: 1},
			Check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, pipeline.ErrUnstable)
			},
		},
		{
			Name: "crashed test runner",
			Step: Shell{Script: "pytest", UnstableExitCodes: []int{1}},
			Exec: fakeExecutor{code: 4},
			Check: func(t *testing.T, err error) {
				var exitErr *pipeline.ExitError
				assert.ErrorAs(t, err, &exitErr)
				assert.NotErrorIs(t, err, pipeline.ErrUnstable)
			},
		},
		{
			Name: "exit zero with failing report",
			Step: Shell{Script: "pytest || true", JUnit: "test-results.xml"},
			Exec: fakeExecutor{report: failingReport},
			Check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, pipeline.ErrUnstable)
				assert.Contains(t, err.Error(), "1 failures")
			},
		},
		{
			Name:  "passing report",
			Step:  Shell{Script: "pytest", JUnit: "test-results.xml"},
			Exec:  fakeExecutor{report: passingReport},
			Check: func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			Name:  "missing report",
			Step:  Shell{Script: "pytest", JUnit: "test-results.xml"},
			Check: func(t *testing.T, err error) { assert.NoError(t, err) },
		},
		{
			Name:   "output goes to writer",
			Step:   Shell{Script: "echo hi"},
			Exec:   fakeExecutor{stdout: "hi\n"},
			Check:  func(t *testing.T, err error) { assert.NoError(t, err) },
			Stdout: "hi\n",
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			exec := test.Exec
			step := test.Step
			step.Executor = &exec
			step.Logger = quiet()

			var b bytes.Buffer
			test.Check(t, step.Run(context.Background(), newContext(t), &b))
			if test.Stdout != "" {
				assert.Equal(t, test.Stdout, b.String())
			}
		})
	}
}

func TestShellBestEffortDoesNotSuppressTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	step := Shell{Script: "sleep 10", BestEffort: true, Logger: quiet(), Executor: &fakeExecutor{code: -1, err: context.Canceled}}
	err := step.Run(ctx, newContext(t), io.Discard)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShellEnvironment(t *testing.T) {
	rc := newContext(t)
	require.NoError(t, rc.SetVar(VarCommitShort, "a1b2c3d"))

	exec := &fakeExecutor{}
	step := Shell{Script: "./scripts/deploy-dev.sh", Dir: "scripts", Executor: exec, Logger: quiet()}
	require.NoError(t, step.Run(context.Background(), rc, io.Discard))

	assert.Contains(t, exec.got.Env, "ENVIRONMENT=dev")
	assert.Contains(t, exec.got.Env, "VENV_DIR=venv")
	assert.Contains(t, exec.got.Env, "GIT_COMMIT_SHORT=a1b2c3d")
	assert.Equal(t, filepath.Join(rc.Workspace, "scripts"), exec.got.Dir)
	assert.Equal(t, "./scripts/deploy-dev.sh", exec.got.Name)

	t.Setenv("RELAY_STEPS_TEST", "1")
	isolated := Shell{Script: "env", Dir: "scripts", Isolated: true, Executor: exec, Logger: quiet()}
	require.NoError(t, isolated.Run(context.Background(), rc, io.Discard))
	assert.NotContains(t, exec.got.Env, "RELAY_STEPS_TEST=1")
	assert.Contains(t, exec.got.Env, "WORKSPACE=/workspace")
	assert.Contains(t, exec.got.Env, "ARTIFACTS_DIR=/workspace/artifacts")
	assert.Equal(t, "scripts", exec.got.Dir)
}

func TestShellCapture(t *testing.T) {
	rc := newContext(t)
	step := Shell{Script: "python --version", Capture: "PYTHON_VERSION", Executor: &fakeExecutor{stdout: "Python 3.11.4\n"}, Logger: quiet()}

	require.NoError(t, step.Run(context.Background(), rc, io.Discard))
	assert.Equal(t, "Python 3.11.4", rc.Var("PYTHON_VERSION"))
}

func TestShellWithHostShell(t *testing.T) {
	rc := newContext(t)
	rc.InheritEnv = false

	var b bytes.Buffer
	step := Shell{Script: `echo "Deploying to ${ENVIRONMENT}"; exit 3`, BestEffort: true, Executor: runner.Shell{}, Logger: quiet()}
	require.NoError(t, step.Run(context.Background(), rc, &b))
	assert.Equal(t, "Deploying to dev\n", b.String())
}

func initRepo(t *testing.T, dir string) {
	t.Helper()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# demo\n"), 0o644))

	w, err := repo.Worktree()
	require.NoError(t, err)
	_, err = w.Add("README.md")
	require.NoError(t, err)
	_, err = w.Commit("Initial commit\n\nwith body", &git.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
}

func TestCheckout(t *testing.T) {
	rc := newContext(t)
	initRepo(t, rc.Workspace)

	var b bytes.Buffer
	require.NoError(t, Checkout{}.Run(context.Background(), rc, &b))

	assert.Len(t, rc.Var(VarCommit), 40)
	assert.Equal(t, rc.Var(VarCommit)[:7], rc.Var(VarCommitShort))
	assert.Equal(t, "Test User", rc.Var(VarAuthor))
	assert.Equal(t, "test@example.com", rc.Var(VarAuthorEmail))
	assert.Equal(t, "Initial commit", rc.Var(VarCommitMsg))
	assert.Equal(t, "master", rc.Var(VarGitBranch))
	assert.Contains(t, b.String(), "Author: Test User")

	// Derived variables are additive, a second checkout cannot overwrite them.
	assert.Error(t, Checkout{}.Run(context.Background(), rc, io.Discard))
}

func TestCheckoutOutsideRepository(t *testing.T) {
	rc := newContext(t)
	err := Checkout{}.Run(context.Background(), rc, io.Discard)
	assert.Error(t, err)
	assert.Empty(t, rc.Vars())
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestArchive(t *testing.T) {
	rc := newContext(t)
	writeFile(t, filepath.Join(rc.Workspace, "dist", "demo-1.0.0.tar.gz"), "sdist")
	writeFile(t, filepath.Join(rc.Workspace, "dist", "demo-1.0.0-py3-none-any.whl"), "wheel")
	writeFile(t, filepath.Join(rc.Workspace, "src", "app.py"), "print()")

	m, err := artifacts.NewArchiveManager(rc.ArtifactsDir)
	require.NoError(t, err)

	var b bytes.Buffer
	step := &Archive{Label: "dist", Paths: []string{"dist/*"}, Manager: m, Exclude: m.Dir(), Logger: quiet()}
	require.NoError(t, step.Run(context.Background(), rc, &b))

	list := m.Artifacts()
	require.Len(t, list, 1)
	assert.Equal(t, []string{"dist/demo-1.0.0-py3-none-any.whl", "dist/demo-1.0.0.tar.gz"}, list[0].Files)
	assert.Equal(t, "Archived 2 file(s) as dist.tar.gz\n", b.String())

	// Archives never include earlier archives.
	all := &Archive{Label: "everything", Paths: []string{"artifacts/**"}, Manager: m, Exclude: m.Dir(), Logger: quiet()}
	err = all.Run(context.Background(), rc, io.Discard)
	assert.ErrorIs(t, err, errNoMatches)
}

func TestArchiveEmpty(t *testing.T) {
	rc := newContext(t)
	m, err := artifacts.NewArchiveManager(rc.ArtifactsDir)
	require.NoError(t, err)

	step := &Archive{Paths: []string{"${ARTIFACTS_MISSING}/*"}, Manager: m, Logger: quiet()}
	assert.Error(t, step.Run(context.Background(), rc, io.Discard))

	step = &Archive{Paths: []string{"reports/*.xml"}, AllowEmpty: true, Manager: m, Logger: quiet()}
	assert.NoError(t, step.Run(context.Background(), rc, io.Discard))
	assert.Empty(t, m.Artifacts())
}

func TestBuildInfo(t *testing.T) {
	rc := newContext(t)
	require.NoError(t, rc.SetVar(VarCommitShort, "a1b2c3d"))
	require.NoError(t, rc.SetVar(VarAuthor, "Jane Doe"))
	require.NoError(t, rc.SetVar(VarCommitMsg, "Fix greeting"))

	fixed := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
	step := BuildInfo{Now: func() time.Time { return fixed }}
	require.NoError(t, step.Run(context.Background(), rc, io.Discard))

	b, err := os.ReadFile(filepath.Join(rc.ArtifactsDir, DefaultBuildInfoFile))
	require.NoError(t, err)

	want := strings.Join([]string{
		"Pipeline: demo",
		"Run: " + rc.ID,
		"BRANCH: main",
		"ENVIRONMENT: dev",
		"Commit: a1b2c3d",
		"Author: Jane Doe",
		"Message: Fix greeting",
		"Outcome: success",
		"Date: 2026-10-14T09:30:00Z",
	}, "\n") + "\n"
	assert.Equal(t, want, string(b))
}
