package runner

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellExitCodes(t *testing.T) {
	tests := []struct {
		Name   string
		Script string
		Code   int
	}{
		{Name: "success", Script: "true", Code: 0},
		{Name: "failure", Script: "exit 3", Code: 3},
		{Name: "suppressed", Script: "false || true", Code: 0},
		{Name: "last command wins", Script: "true; false", Code: 1},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			code, err := Shell{}.Exec(context.Background(), Command{Name: test.Name, Script: test.Script})
			require.NoError(t, err)
			assert.Equal(t, test.Code, code)
		})
	}
}

func TestShellOutputAndEnv(t *testing.T) {
	var stdout, stderr bytes.Buffer

	dir := t.TempDir()
	code, err := Shell{}.Exec(context.Background(), Command{
		Name:   "deploy",
		Script: `echo "Deploying to $ENVIRONMENT"; echo oops >&2; pwd`,
		Env:    []string{"ENVIRONMENT=staging"},
		Dir:    dir,
		Stdout: &stdout,
		Stderr: &stderr,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, "Deploying to staging\n"+resolved+"\n", stdout.String())
	assert.Equal(t, "oops\n", stderr.String())
}

func TestShellContextTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	code, err := Shell{}.Exec(ctx, Command{Name: "sleep", Script: "sleep 10"})

	assert.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, code)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestShellKillsChildren(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	Shell{GracePeriod: 10 * time.Millisecond}.Exec(ctx, Command{
		Name:   "children",
		Script: "(sleep 1; touch " + marker + ") & wait",
	})

	time.Sleep(1500 * time.Millisecond)
	_, err := os.Stat(marker)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestShellMissingInterpreter(t *testing.T) {
	code, err := Shell{Path: "/nonexistent/sh"}.Exec(context.Background(), Command{Name: "x", Script: "true"})
	assert.Error(t, err)
	assert.Equal(t, -1, code)
}

func TestShellBackgroundChildKeepsOutputOpen(t *testing.T) {
	var stdout bytes.Buffer

	start := time.Now()
	code, err := Shell{}.Exec(context.Background(), Command{
		Name:   "background",
		Script: "sleep 5 & echo started",
		Stdout: &stdout,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "started\n", stdout.String())
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestShellBackgroundChildKeepsExitCode(t *testing.T) {
	code, err := Shell{}.Exec(context.Background(), Command{
		Name:   "background",
		Script: "sleep 5 & exit 7",
		Stdout: &bytes.Buffer{},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, code)
}
