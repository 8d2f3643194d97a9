package pipeline

import (
	"context"
	"io"

	"github.com/charmbracelet/log"
)

// Hook names a post hook category.
type Hook string

const (
	HookAlways   Hook = "always"
	HookSuccess  Hook = "success"
	HookFailure  Hook = "failure"
	HookUnstable Hook = "unstable"
)

// PostHookSet holds the steps run after all stages, keyed by outcome.
type PostHookSet struct {
	Always   []Step
	Success  []Step
	Failure  []Step
	Unstable []Step
}

// Hooks returns the hook categories that fire for outcome, in order. Always
// comes first; aborted runs get nothing else.
func (p PostHookSet) Hooks(outcome Outcome) []Hook {
	hooks := []Hook{HookAlways}
	switch outcome {
	case Success:
		hooks = append(hooks, HookSuccess)
	case Failure:
		hooks = append(hooks, HookFailure)
	case Unstable:
		hooks = append(hooks, HookUnstable)
	}
	return hooks
}

func (p PostHookSet) steps(h Hook) []Step {
	switch h {
	case HookAlways:
		return p.Always
	case HookSuccess:
		return p.Success
	case HookFailure:
		return p.Failure
	case HookUnstable:
		return p.Unstable
	}
	return nil
}

// Dispatch runs the hooks matching outcome. A failing hook step is logged and
// the remaining steps still run. The outcome is never changed. The dispatched
// hooks are returned.
func (p PostHookSet) Dispatch(ctx context.Context, rc *RunContext, outcome Outcome, logger *log.Logger, output func(name string) io.Writer) []Hook {
	hooks := p.Hooks(outcome)

	for _, h := range hooks {
		steps := p.steps(h)
		if len(steps) == 0 {
			continue
		}

		w := output("post " + string(h))
		logger.Info("running post hook", "hook", h, "steps", len(steps))

		for _, step := range steps {
			if err := step.Run(ctx, rc, w); err != nil {
				logger.Error("post hook step failed", "hook", h, "step", step.Name(), "err", err)
			}
		}
		flush(w)
	}
	return hooks
}
