package pipeline

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/opnlabs/relay/pkg/store"
)

// Well known parameter names.
const (
	ParamBranch      = "BRANCH"
	ParamEnvironment = "ENVIRONMENT"
)

// variablePattern matches ${NAME} references. The bare $NAME form is left
// alone so scripts can still use shell variables.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// RunContext carries the state of a single run: its parameters, the static
// environment declared by the pipeline, the variables derived while stages
// execute and the outcome. Derived variables are additive, once set they
// cannot be changed.
type RunContext struct {
	ID           string
	Pipeline     string
	Workspace    string
	ArtifactsDir string

	// InheritEnv passes the process environment through to commands, below
	// every other source.
	InheritEnv bool

	params  map[string]string
	environ map[string]string
	vars    store.Store

	outcome   Outcome
	finalized bool
}

// NewRunContext returns a RunContext for the named pipeline. The given maps
// are copied.
func NewRunContext(pipeline string, params, environ map[string]string) *RunContext {
	rc := &RunContext{
		ID:         uuid.NewString(),
		Pipeline:   pipeline,
		Workspace:  ".",
		InheritEnv: true,
		params:     make(map[string]string, len(params)),
		environ:    make(map[string]string, len(environ)),
		vars:       store.NewMemStore(),
	}
	for k, v := range params {
		rc.params[k] = v
	}
	for k, v := range environ {
		rc.environ[k] = v
	}
	return rc
}

// Param returns the value of the named run parameter.
func (rc *RunContext) Param(name string) string { return rc.params[name] }

func (rc *RunContext) Branch() string      { return rc.params[ParamBranch] }
func (rc *RunContext) Environment() string { return rc.params[ParamEnvironment] }

// SetVar records a derived variable. A variable can only be set once.
func (rc *RunContext) SetVar(name, value string) error {
	if err := rc.vars.Set(name, value); err != nil {
		return fmt.Errorf("unable to set variable %s: %w", name, err)
	}
	return nil
}

// Var returns a derived variable, or the empty string when it was never set.
func (rc *RunContext) Var(name string) string {
	v, _ := rc.vars.Get(name)
	return v
}

// Vars returns a copy of the derived variables.
func (rc *RunContext) Vars() map[string]string {
	m := make(map[string]string, rc.vars.Len())
	for _, k := range rc.vars.Keys() {
		m[k], _ = rc.vars.Get(k)
	}
	return m
}

// Outcome returns the current outcome. It is final once post hooks start.
func (rc *RunContext) Outcome() Outcome { return rc.outcome }

func (rc *RunContext) raise(o Outcome) {
	if rc.finalized {
		return
	}
	rc.outcome = rc.outcome.worse(o)
}

func (rc *RunContext) builtins() map[string]string {
	return map[string]string{
		"RUN_ID":        rc.ID,
		"PIPELINE_NAME": rc.Pipeline,
		"WORKSPACE":     rc.Workspace,
		"ARTIFACTS_DIR": rc.ArtifactsDir,
	}
}

// layers returns the variable sources from lowest to highest priority.
func (rc *RunContext) layers() []map[string]string {
	return []map[string]string{rc.builtins(), rc.environ, rc.params, rc.Vars()}
}

// Lookup resolves name against derived variables, parameters, the static
// environment, the built in variables and finally the process environment.
func (rc *RunContext) Lookup(name string) (string, bool) {
	layers := rc.layers()
	for i := len(layers) - 1; i >= 0; i-- {
		if v, ok := layers[i][name]; ok {
			return v, true
		}
	}
	if rc.InheritEnv {
		return os.LookupEnv(name)
	}
	return "", false
}

// Params returns a copy of the run parameters.
func (rc *RunContext) Params() map[string]string {
	m := make(map[string]string, len(rc.params))
	for k, v := range rc.params {
		m[k] = v
	}
	return m
}

// Env returns the environment for a command as sorted KEY=VALUE pairs, each
// key appearing once.
func (rc *RunContext) Env() []string { return rc.env(rc.InheritEnv) }

// PipelineEnv is Env without the process environment, for commands that run
// somewhere other than the host.
func (rc *RunContext) PipelineEnv() []string { return rc.env(false) }

func (rc *RunContext) env(inherit bool) []string {
	merged := make(map[string]string)

	if inherit {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				merged[k] = v
			}
		}
	}
	for _, layer := range rc.layers() {
		for k, v := range layer {
			merged[k] = v
		}
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// Expand replaces ${NAME} references in s. Every reference must resolve.
func (rc *RunContext) Expand(s string) (string, error) {
	var unresolved []string

	out := variablePattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		if v, ok := rc.Lookup(name); ok {
			return v
		}
		unresolved = append(unresolved, name)
		return match
	})

	if len(unresolved) > 0 {
		return "", fmt.Errorf("unresolved variables: %s", strings.Join(unresolved, ", "))
	}
	return out, nil
}
