// Package models describes the pipeline file.
package models

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

type Variable map[string]string

// Duration is a time.Duration read from strings such as "30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q: %w", value.Line, s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

type PipelineFile struct {
	Name        string      `yaml:"name" validate:"required"`
	Timeout     Duration    `yaml:"timeout" validate:"gte=0"`
	Parameters  []Parameter `yaml:"parameters" validate:"dive"`
	Environment Variable    `yaml:"environment"`
	Stages      []Stage     `yaml:"stages" validate:"required,min=1,dive"`
	Post        Post        `yaml:"post"`
}

type Parameter struct {
	Name        string   `yaml:"name" validate:"required"`
	Default     string   `yaml:"default"`
	Choices     []string `yaml:"choices" validate:"dive,required"`
	Description string   `yaml:"description"`
}

type Stage struct {
	Name  string `yaml:"name" validate:"required"`
	Image string `yaml:"image"`
	When  *When  `yaml:"when"`
	Steps []Step `yaml:"steps" validate:"required,min=1,dive"`
}

// When lists the conditions a stage runs under. Every set field must match,
// Not inverts the result.
type When struct {
	Branch      string            `yaml:"branch"`
	Environment []string          `yaml:"environment"`
	Params      map[string]string `yaml:"params"`
	Not         bool              `yaml:"not"`
}

type Step struct {
	Name string `yaml:"name"`

	Run               string `yaml:"run"`
	BestEffort        bool   `yaml:"best_effort"`
	UnstableExitCodes []int  `yaml:"unstable_exit_codes"`
	JUnit             string `yaml:"junit"`
	Capture           string `yaml:"capture" validate:"omitempty,envname"`
	Dir               string `yaml:"dir"`

	Checkout  *Checkout  `yaml:"checkout"`
	Archive   *Archive   `yaml:"archive"`
	BuildInfo *BuildInfo `yaml:"build_info"`
}

type Checkout struct {
	Path string `yaml:"path"`
}

type Archive struct {
	Paths      []string `yaml:"paths" validate:"required,min=1,dive,required"`
	AllowEmpty bool     `yaml:"allow_empty"`
}

type BuildInfo struct {
	File string `yaml:"file"`
}

type Post struct {
	Always   []Step `yaml:"always" validate:"dive"`
	Success  []Step `yaml:"success" validate:"dive"`
	Failure  []Step `yaml:"failure" validate:"dive"`
	Unstable []Step `yaml:"unstable" validate:"dive"`
}

// Kind returns which action the step performs.
func (s Step) Kind() string {
	switch {
	case s.Run != "":
		return "run"
	case s.Checkout != nil:
		return "checkout"
	case s.Archive != nil:
		return "archive"
	case s.BuildInfo != nil:
		return "build_info"
	default:
		return ""
	}
}

func (s Step) actions() int {
	n := 0
	if s.Run != "" {
		n++
	}
	if s.Checkout != nil {
		n++
	}
	if s.Archive != nil {
		n++
	}
	if s.BuildInfo != nil {
		n++
	}
	return n
}
