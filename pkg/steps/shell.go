// Package steps implements the steps a pipeline file can declare.
package steps

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/opnlabs/relay/pkg/pipeline"
	"github.com/opnlabs/relay/pkg/report"
	"github.com/opnlabs/relay/pkg/runner"
)

func logger(l *log.Logger) *log.Logger {
	if l == nil {
		return log.Default()
	}
	return l
}

// Shell runs a script through an Executor.
//
// A zero exit passes. An exit code listed in UnstableExitCodes means the
// command completed but its tests failed. When JUnit is set the report is
// read after the command completes and any failing case marks the run
// unstable. Every other non-zero exit fails the stage unless BestEffort is
// set, in which case it is logged and ignored.
type Shell struct {
	Label             string
	Script            string
	Dir               string
	BestEffort        bool
	UnstableExitCodes []int
	JUnit             string
	Capture           string

	// Isolated commands run away from the host, they get the pipeline
	// environment without the process environment and a Dir relative to the
	// workspace.
	Isolated bool

	Executor runner.Executor
	Logger   *log.Logger
}

var _ pipeline.Step = (*Shell)(nil)

func (s *Shell) Name() string {
	if s.Label != "" {
		return s.Label
	}
	line, _, _ := strings.Cut(strings.TrimSpace(s.Script), "\n")
	return line
}

func (s *Shell) Run(ctx context.Context, rc *pipeline.RunContext, w io.Writer) error {
	l := logger(s.Logger)

	cmd := runner.Command{
		Name:   s.Name(),
		Script: s.Script,
		Stdout: w,
		Stderr: w,
	}

	if s.Isolated {
		cmd.Env = isolatedEnv(rc)
		cmd.Dir = s.Dir
	} else {
		cmd.Env = rc.Env()
		cmd.Dir = filepath.Join(rc.Workspace, s.Dir)
	}

	var captured bytes.Buffer
	if s.Capture != "" {
		cmd.Stdout = io.MultiWriter(w, &captured)
	}

	code, err := s.Executor.Exec(ctx, cmd)
	if err != nil {
		// Running out of time is never suppressed.
		if ctx.Err() == nil && s.BestEffort {
			l.Warn("best-effort command could not run", "step", s.Name(), "err", err)
			return nil
		}
		return err
	}

	unstable := slices.Contains(s.UnstableExitCodes, code)

	if code != 0 && !unstable {
		if s.BestEffort {
			l.Warn("best-effort command failed", "step", s.Name(), "code", code)
			return nil
		}
		return &pipeline.ExitError{Step: s.Name(), Code: code}
	}

	if s.Capture != "" && code == 0 {
		if err := rc.SetVar(s.Capture, strings.TrimSpace(captured.String())); err != nil {
			return err
		}
	}

	if s.JUnit != "" {
		if err := s.checkReport(rc, l); err != nil {
			return err
		}
	}

	if unstable {
		return pipeline.Unstablef("%s exited with code %d", s.Name(), code)
	}
	return nil
}

// isolatedEnv rewrites the workspace paths to where the workspace is mounted
// inside a container.
func isolatedEnv(rc *pipeline.RunContext) []string {
	env := rc.PipelineEnv()
	for i, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		switch k {
		case "WORKSPACE":
			env[i] = k + "=" + runner.WORKING_DIR
		case "ARTIFACTS_DIR":
			rel, err := filepath.Rel(rc.Workspace, v)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			env[i] = k + "=" + path.Join(runner.WORKING_DIR, filepath.ToSlash(rel))
		}
	}
	return env
}

func (s *Shell) checkReport(rc *pipeline.RunContext, l *log.Logger) error {
	path, err := rc.Expand(s.JUnit)
	if err != nil {
		return err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(rc.Workspace, path)
	}

	summary, err := report.ReadJUnit(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			l.Warn("test report not found", "step", s.Name(), "path", path)
			return nil
		}
		l.Warn("unable to read test report", "step", s.Name(), "path", path, "err", err)
		return nil
	}

	l.Info("test results", "step", s.Name(), "tests", summary.Tests, "failures", summary.Failures, "errors", summary.Errors, "skipped", summary.Skipped)

	if summary.Failed() {
		return pipeline.Unstablef("%s: %s", s.Name(), summary)
	}
	return nil
}
