package models

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var ErrNoStages = errors.New("pipeline defines no stages")

var envName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// implicitParams are always available to a run, declared or not.
var implicitParams = []string{"BRANCH", "ENVIRONMENT"}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("envname", func(fl validator.FieldLevel) bool {
		return envName.MatchString(fl.Field().String())
	})
	return v
}

// Load reads and validates the pipeline file at path.
func Load(path string) (*PipelineFile, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	p, err := Parse(contents)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes and validates a pipeline file.
func Parse(contents []byte) (*PipelineFile, error) {
	var p PipelineFile
	dec := yaml.NewDecoder(bytes.NewReader(contents))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("unable to parse pipeline: %w", err)
	}

	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the struct tags and the rules the tags cannot express.
func Validate(p *PipelineFile) error {
	if len(p.Stages) == 0 {
		return ErrNoStages
	}

	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid pipeline: %w", err)
	}

	var errs []error

	params := make(map[string]struct{})
	for _, param := range p.Parameters {
		if _, ok := params[param.Name]; ok {
			errs = append(errs, fmt.Errorf("parameter %s declared twice", param.Name))
		}
		params[param.Name] = struct{}{}

		if !envName.MatchString(param.Name) {
			errs = append(errs, fmt.Errorf("parameter %s is not a valid variable name", param.Name))
		}
		if param.Default != "" && len(param.Choices) > 0 && !slices.Contains(param.Choices, param.Default) {
			errs = append(errs, fmt.Errorf("parameter %s default %q is not one of %s", param.Name, param.Default, strings.Join(param.Choices, ", ")))
		}
	}

	for k := range p.Environment {
		if !envName.MatchString(k) {
			errs = append(errs, fmt.Errorf("environment variable %q is not a valid variable name", k))
		}
	}

	stages := make(map[string]struct{})
	for _, s := range p.Stages {
		if _, ok := stages[s.Name]; ok {
			errs = append(errs, fmt.Errorf("stage %s declared twice", s.Name))
		}
		stages[s.Name] = struct{}{}

		errs = append(errs, validateSteps("stage "+s.Name, s.Steps)...)

		if s.When != nil {
			for name := range s.When.Params {
				_, ok := params[name]
				if !ok && !slices.Contains(implicitParams, name) {
					errs = append(errs, fmt.Errorf("stage %s: when refers to undeclared parameter %s", s.Name, name))
				}
			}
		}
	}

	errs = append(errs, validateSteps("post always", p.Post.Always)...)
	errs = append(errs, validateSteps("post success", p.Post.Success)...)
	errs = append(errs, validateSteps("post failure", p.Post.Failure)...)
	errs = append(errs, validateSteps("post unstable", p.Post.Unstable)...)

	return errors.Join(errs...)
}

func validateSteps(where string, steps []Step) []error {
	var errs []error
	for i, step := range steps {
		if n := step.actions(); n != 1 {
			errs = append(errs, fmt.Errorf("%s: step %d must have exactly one of run, checkout, archive, build_info, found %d", where, i+1, n))
			continue
		}
		if step.Run == "" && (step.BestEffort || step.JUnit != "" || step.Capture != "" || len(step.UnstableExitCodes) > 0) {
			errs = append(errs, fmt.Errorf("%s: step %d: best_effort, junit, capture and unstable_exit_codes only apply to run steps", where, i+1))
		}
		if step.Dir != "" && (filepath.IsAbs(step.Dir) || strings.HasPrefix(step.Dir, "/")) {
			errs = append(errs, fmt.Errorf("%s: step %d: dir %s must be relative to the workspace", where, i+1, step.Dir))
		}
		for _, code := range step.UnstableExitCodes {
			if code == 0 {
				errs = append(errs, fmt.Errorf("%s: step %d: exit code 0 cannot mark a run unstable", where, i+1))
			}
		}
	}
	return errs
}
