// Package definition turns a pipeline file into a runnable sequencer.
package definition

import (
	"fmt"
	"io"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/opnlabs/relay/pkg/artifacts"
	"github.com/opnlabs/relay/pkg/models"
	"github.com/opnlabs/relay/pkg/pipeline"
	"github.com/opnlabs/relay/pkg/runner"
	"github.com/opnlabs/relay/pkg/steps"
)

const DefaultArtifactsDir = "artifacts"

// DefaultEnvironments are the choices of the ENVIRONMENT parameter when the
// pipeline does not declare it.
var DefaultEnvironments = []string{"dev", "staging", "prod"}

type Options struct {
	// Params override the declared parameter defaults.
	Params map[string]string
	// Env is layered over the pipeline's static environment.
	Env map[string]string

	Workspace    string
	ArtifactsDir string

	// Timeout replaces the pipeline timeout when positive.
	Timeout time.Duration

	Logger   *log.Logger
	Observer pipeline.Observer
	Output   func(name string) io.Writer

	// Shell runs stages without an image, runner.Shell by default.
	Shell runner.Executor
	// Docker returns the executor for stages with an image.
	Docker func(image, workspace string) runner.Executor
	// Manager publishes archived artifacts. An ArchiveManager in the
	// artifacts directory is used when nil.
	Manager artifacts.ArtifactManager
}

func defaultDocker(image, workspace string) runner.Executor {
	return runner.NewDockerRunner(image, workspace, runner.DockerRunnerOptions{})
}

// implicitParams adds BRANCH and ENVIRONMENT when the pipeline does not
// declare them.
func implicitParams(decls []models.Parameter) []models.Parameter {
	out := slices.Clone(decls)

	has := func(name string) bool {
		return slices.ContainsFunc(out, func(p models.Parameter) bool { return p.Name == name })
	}
	if !has(pipeline.ParamBranch) {
		out = append(out, models.Parameter{Name: pipeline.ParamBranch, Default: "main"})
	}
	if !has(pipeline.ParamEnvironment) {
		out = append(out, models.Parameter{Name: pipeline.ParamEnvironment, Choices: DefaultEnvironments})
	}
	return out
}

// ResolveParams returns the value of every declared parameter. Overrides win
// over defaults; a choice parameter without a default takes its first
// choice. Overriding an undeclared parameter is an error.
func ResolveParams(decls []models.Parameter, overrides map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(decls))
	declared := make(map[string]struct{}, len(decls))

	for _, d := range decls {
		declared[d.Name] = struct{}{}

		value := d.Default
		if value == "" && len(d.Choices) > 0 {
			value = d.Choices[0]
		}
		if v, ok := overrides[d.Name]; ok {
			value = v
		}

		if len(d.Choices) > 0 && !slices.Contains(d.Choices, value) {
			return nil, fmt.Errorf("parameter %s: %q is not one of %s", d.Name, value, strings.Join(d.Choices, ", "))
		}
		resolved[d.Name] = value
	}

	var unknown []string
	for name := range overrides {
		if _, ok := declared[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown parameters: %s", strings.Join(unknown, ", "))
	}
	return resolved, nil
}

// Predicate returns the skip predicate for a when block. A nil block never
// skips.
func Predicate(w *models.When) (pipeline.Predicate, error) {
	if w == nil {
		return nil, nil
	}
	if w.Branch != "" {
		if _, err := path.Match(w.Branch, ""); err != nil {
			return nil, fmt.Errorf("invalid branch pattern %q: %w", w.Branch, err)
		}
	}

	return func(rc *pipeline.RunContext) bool {
		match := true
		if w.Branch != "" {
			ok, _ := path.Match(w.Branch, rc.Branch())
			match = match && ok
		}
		if len(w.Environment) > 0 {
			match = match && slices.Contains(w.Environment, rc.Environment())
		}
		for k, v := range w.Params {
			match = match && rc.Param(k) == v
		}
		if w.Not {
			match = !match
		}
		return !match
	}, nil
}

// Compile builds the sequencer and the run context for a single run of file.
func Compile(file *models.PipelineFile, opts Options) (*pipeline.Sequencer, *pipeline.RunContext, error) {
	params, err := ResolveParams(implicitParams(file.Parameters), opts.Params)
	if err != nil {
		return nil, nil, err
	}

	workspace := opts.Workspace
	if workspace == "" {
		workspace = "."
	}
	workspace, err = filepath.Abs(workspace)
	if err != nil {
		return nil, nil, err
	}

	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = DefaultArtifactsDir
	}
	if !filepath.IsAbs(artifactsDir) {
		artifactsDir = filepath.Join(workspace, artifactsDir)
	}

	scratch := pipeline.NewRunContext(file.Name, params, nil)
	scratch.Workspace = workspace
	scratch.ArtifactsDir = artifactsDir

	env, err := expandEnv(scratch, file.Environment, opts.Env)
	if err != nil {
		return nil, nil, err
	}

	rc := pipeline.NewRunContext(file.Name, params, env)
	rc.ID = scratch.ID
	rc.Workspace = workspace
	rc.ArtifactsDir = artifactsDir

	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	manager := opts.Manager
	var exclude string
	if manager == nil {
		m, err := artifacts.NewArchiveManager(artifactsDir)
		if err != nil {
			return nil, nil, err
		}
		manager = m
		exclude = m.Dir()
	}

	c := compiler{
		rc:        rc,
		opts:      opts,
		logger:    logger,
		manager:   manager,
		exclude:   exclude,
		workspace: workspace,
	}
	if c.opts.Shell == nil {
		c.opts.Shell = runner.Shell{}
	}
	if c.opts.Docker == nil {
		c.opts.Docker = defaultDocker
	}

	seq := &pipeline.Sequencer{
		Timeout:  time.Duration(file.Timeout),
		Logger:   logger,
		Observer: opts.Observer,
		Output:   opts.Output,
	}
	if opts.Timeout > 0 {
		seq.Timeout = opts.Timeout
	}

	for _, s := range file.Stages {
		stage, err := c.stage(s)
		if err != nil {
			return nil, nil, fmt.Errorf("stage %s: %w", s.Name, err)
		}
		seq.Stages = append(seq.Stages, stage)
	}

	hooks := []struct {
		name string
		in   []models.Step
		out  *[]pipeline.Step
	}{
		{"always", file.Post.Always, &seq.Post.Always},
		{"success", file.Post.Success, &seq.Post.Success},
		{"failure", file.Post.Failure, &seq.Post.Failure},
		{"unstable", file.Post.Unstable, &seq.Post.Unstable},
	}
	for _, h := range hooks {
		for _, s := range h.in {
			step, err := c.step(s, c.opts.Shell, false)
			if err != nil {
				return nil, nil, fmt.Errorf("post %s: %w", h.name, err)
			}
			*h.out = append(*h.out, step)
		}
	}

	return seq, rc, nil
}

// expandEnv resolves ${NAME} references in the static environment against
// the parameters and built in variables of scratch. Extra values are taken
// verbatim and win.
func expandEnv(scratch *pipeline.RunContext, static, extra map[string]string) (map[string]string, error) {
	env := make(map[string]string, len(static)+len(extra))
	for k, v := range static {
		expanded, err := scratch.Expand(v)
		if err != nil {
			return nil, fmt.Errorf("environment %s: %w", k, err)
		}
		env[k] = expanded
	}
	for k, v := range extra {
		env[k] = v
	}
	return env, nil
}

type compiler struct {
	rc        *pipeline.RunContext
	opts      Options
	logger    *log.Logger
	manager   artifacts.ArtifactManager
	exclude   string
	workspace string
}

func (c *compiler) stage(s models.Stage) (pipeline.Stage, error) {
	skip, err := Predicate(s.When)
	if err != nil {
		return pipeline.Stage{}, err
	}

	executor := c.opts.Shell
	isolated := false
	if s.Image != "" {
		image, err := c.rc.Expand(s.Image)
		if err != nil {
			return pipeline.Stage{}, err
		}
		executor = c.opts.Docker(image, c.workspace)
		isolated = true
	}

	stage := pipeline.Stage{Name: s.Name, Skip: skip}
	for _, ms := range s.Steps {
		step, err := c.step(ms, executor, isolated)
		if err != nil {
			return pipeline.Stage{}, err
		}
		stage.Steps = append(stage.Steps, step)
	}
	return stage, nil
}

func (c *compiler) step(s models.Step, executor runner.Executor, isolated bool) (pipeline.Step, error) {
	switch s.Kind() {
	case "run":
		return &steps.Shell{
			Label:             s.Name,
			Script:            s.Run,
			Dir:               s.Dir,
			BestEffort:        s.BestEffort,
			UnstableExitCodes: s.UnstableExitCodes,
			JUnit:             s.JUnit,
			Capture:           s.Capture,
			Isolated:          isolated,
			Executor:          executor,
			Logger:            c.logger,
		}, nil
	case "checkout":
		return steps.Checkout{Path: s.Checkout.Path}, nil
	case "archive":
		return &steps.Archive{
			Label:      s.Name,
			Paths:      s.Archive.Paths,
			AllowEmpty: s.Archive.AllowEmpty,
			Manager:    c.manager,
			Exclude:    c.exclude,
			Logger:     c.logger,
		}, nil
	case "build_info":
		return steps.BuildInfo{File: s.BuildInfo.File}, nil
	default:
		return nil, fmt.Errorf("step %q has no action", s.Name)
	}
}
