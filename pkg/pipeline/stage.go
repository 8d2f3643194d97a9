package pipeline

import (
	"context"
	"io"
	"time"
)

// Predicate decides whether a stage is skipped. It is evaluated once,
// immediately before the stage would run, and must not modify the
// RunContext.
type Predicate func(rc *RunContext) bool

// Step is a single unit of work inside a stage or post hook.
type Step interface {
	Name() string

	// Run executes the step, writing command output to w. Returning an
	// error wrapping ErrUnstable marks the run unstable and lets it
	// continue, any other error fails the stage.
	Run(ctx context.Context, rc *RunContext, w io.Writer) error
}

// StepFunc adapts a function to the Step interface.
type StepFunc struct {
	Label string
	Fn    func(ctx context.Context, rc *RunContext, w io.Writer) error
}

func (s StepFunc) Name() string { return s.Label }

func (s StepFunc) Run(ctx context.Context, rc *RunContext, w io.Writer) error {
	return s.Fn(ctx, rc, w)
}

type Stage struct {
	Name  string
	Skip  Predicate
	Steps []Step
}

// StageResult records what happened to a stage during a run.
type StageResult struct {
	Name     string
	Status   StageStatus
	Duration time.Duration
	Err      error
}
