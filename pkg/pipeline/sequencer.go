// Package pipeline runs an ordered list of stages and dispatches post hooks
// based on the outcome of the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/opnlabs/relay/pkg/utils"
)

const DefaultPostTimeout = 5 * time.Minute

// Observer is notified about stage and run completion.
type Observer interface {
	StageFinished(name string, status StageStatus, d time.Duration)
	RunFinished(outcome Outcome, d time.Duration)
}

// Report is the result of a run.
type Report struct {
	Outcome  Outcome
	Stages   []StageResult
	Hooks    []Hook
	Duration time.Duration
}

// Sequencer executes stages strictly one after another.
type Sequencer struct {
	Stages []Stage
	Post   PostHookSet

	// Timeout is the wall clock deadline for all stages. Zero means no
	// deadline. Post hooks are not bound by it, they get PostTimeout.
	Timeout     time.Duration
	PostTimeout time.Duration

	Logger   *log.Logger
	Observer Observer

	// Output returns the writer command output for the named stage goes to.
	// By default output is prefixed with the stage name and written to
	// os.Stdout.
	Output func(name string) io.Writer
}

func (s *Sequencer) logger() *log.Logger {
	if s.Logger == nil {
		return log.Default()
	}
	return s.Logger
}

func (s *Sequencer) output(name string) io.Writer {
	if s.Output != nil {
		return s.Output(name)
	}
	return utils.NewColorLogger(name, os.Stdout, true)
}

func flush(w io.Writer) {
	if f, ok := w.(interface{ Flush() error }); ok {
		f.Flush()
	}
}

// Run executes the stages against rc and then dispatches the post hooks. The
// returned report carries the final outcome, which is also recorded on rc.
func (s *Sequencer) Run(ctx context.Context, rc *RunContext) Report {
	start := time.Now()
	logger := s.logger().With("run", rc.ID)

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if s.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	rc.outcome = Success
	rc.finalized = false

	results := make([]StageResult, 0, len(s.Stages))

	for i, stage := range s.Stages {
		if err := runCtx.Err(); err != nil {
			logger.Error("run aborted", "stage", stage.Name, "err", err)
			rc.raise(Aborted)
			results = append(results, s.notRun(s.Stages[i:])...)
			break
		}

		if stage.Skip != nil && stage.Skip(rc) {
			logger.Info("skipping stage", "stage", stage.Name)
			results = append(results, StageResult{Name: stage.Name, Status: Skipped})
			s.observeStage(stage.Name, Skipped, 0)
			continue
		}

		result := s.runStage(runCtx, rc, stage, logger)
		results = append(results, result)
		s.observeStage(stage.Name, result.Status, result.Duration)

		if result.Status == Failed {
			if runCtx.Err() != nil {
				logger.Error("run aborted", "stage", stage.Name, "err", runCtx.Err())
				rc.raise(Aborted)
			} else {
				logger.Error("stage failed", "stage", stage.Name, "err", result.Err)
				rc.raise(Failure)
			}
			results = append(results, s.notRun(s.Stages[i+1:])...)
			break
		}
	}

	rc.finalized = true
	outcome := rc.outcome
	logger.Info("stages finished", "outcome", outcome)

	postTimeout := s.PostTimeout
	if postTimeout <= 0 {
		postTimeout = DefaultPostTimeout
	}
	postCtx, postCancel := context.WithTimeout(context.WithoutCancel(ctx), postTimeout)
	defer postCancel()

	hooks := s.Post.Dispatch(postCtx, rc, outcome, logger, s.output)

	report := Report{
		Outcome:  outcome,
		Stages:   results,
		Hooks:    hooks,
		Duration: time.Since(start),
	}
	if s.Observer != nil {
		s.Observer.RunFinished(outcome, report.Duration)
	}
	return report
}

func (s *Sequencer) runStage(ctx context.Context, rc *RunContext, stage Stage, logger *log.Logger) StageResult {
	start := time.Now()
	result := StageResult{Name: stage.Name, Status: Passed}

	logger.Info("running stage", "stage", stage.Name)

	w := s.output(stage.Name)
	defer flush(w)

	for _, step := range stage.Steps {
		err := step.Run(ctx, rc, w)
		if err == nil {
			continue
		}

		if errors.Is(err, ErrUnstable) {
			logger.Warn("stage unstable", "stage", stage.Name, "step", step.Name(), "err", err)
			rc.raise(Unstable)
			result.Status = PassedUnstable
			continue
		}

		result.Status = Failed
		result.Err = fmt.Errorf("%s: %w", step.Name(), err)
		break
	}

	result.Duration = time.Since(start)
	return result
}

func (s *Sequencer) observeStage(name string, status StageStatus, d time.Duration) {
	if s.Observer != nil {
		s.Observer.StageFinished(name, status, d)
	}
}

func (s *Sequencer) notRun(stages []Stage) []StageResult {
	results := make([]StageResult, 0, len(stages))
	for _, stage := range stages {
		results = append(results, StageResult{Name: stage.Name, Status: NotRun})
		s.observeStage(stage.Name, NotRun, 0)
	}
	return results
}
