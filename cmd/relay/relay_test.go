package relay

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opnlabs/relay/pkg/models"
	"github.com/opnlabs/relay/pkg/pipeline"
)

func TestParseKeyValues(t *testing.T) {
	m, err := parseKeyValues("variables", []string{"A=1", "B=x=y", "C="})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "x=y", "C": ""}, m)

	_, err = parseKeyValues("variables", []string{"NOVALUE"})
	assert.Error(t, err)

	_, err = parseKeyValues("variables", []string{"=1"})
	assert.Error(t, err)
}

func TestCollectEnvLayersFlagsOverFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("REGION=eu\nTOKEN=abc\n"), 0o644))

	envFiles = []string{path}
	envVars = []string{"REGION=us"}
	t.Cleanup(func() {
		envFiles = nil
		envVars = nil
	})

	env, err := collectEnv()
	require.NoError(t, err)
	assert.Equal(t, "us", env["REGION"])
	assert.Equal(t, "abc", env["TOKEN"])
}

func TestCollectEnvMissingFile(t *testing.T) {
	envFiles = []string{filepath.Join(t.TempDir(), "missing.env")}
	t.Cleanup(func() { envFiles = nil })

	_, err := collectEnv()
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	t.Cleanup(func() { logLevel = "info" })

	logLevel = "DEBUG"
	logger, err := newLogger()
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, logger.GetLevel())

	logLevel = "verbose"
	_, err = newLogger()
	assert.Error(t, err)
}

func TestDescribeWhen(t *testing.T) {
	assert.Equal(t, "always", describeWhen(nil))
	assert.Equal(t, "when branch main", describeWhen(&models.When{Branch: "main"}))
	assert.Equal(t, "when environment in prod|staging and A=1 and B=2",
		describeWhen(&models.When{Environment: []string{"prod", "staging"}, Params: map[string]string{"B": "2", "A": "1"}}))
	assert.Equal(t, "unless branch release/*", describeWhen(&models.When{Branch: "release/*", Not: true}))
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, pipeline.Report{
		Outcome: pipeline.Unstable,
		Stages: []pipeline.StageResult{
			{Name: "Test", Status: pipeline.PassedUnstable, Duration: 1500 * time.Millisecond},
			{Name: "Cleanup", Status: pipeline.Skipped},
		},
		Duration: 2 * time.Second,
	})

	out := buf.String()
	assert.Contains(t, out, "Test     unstable  1.5s")
	assert.Contains(t, out, "Cleanup  skipped   -")
	assert.Contains(t, out, "Done. Run unstable in 2s")
}
