package steps

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/opnlabs/relay/pkg/pipeline"
)

const DefaultBuildInfoFile = "build-info.txt"

// BuildInfo writes a plain text record describing the run into the artifacts
// directory.
type BuildInfo struct {
	File string

	// Now is used for the timestamp, time.Now when nil.
	Now func() time.Time
}

var _ pipeline.Step = BuildInfo{}

func (b BuildInfo) Name() string { return "build info" }

func (b BuildInfo) path(rc *pipeline.RunContext) (string, error) {
	file := b.File
	if file == "" {
		file = DefaultBuildInfoFile
	}
	file, err := rc.Expand(file)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(file) {
		return file, nil
	}

	dir := rc.ArtifactsDir
	if dir == "" {
		dir = rc.Workspace
	}
	return filepath.Join(dir, file), nil
}

func (b BuildInfo) Run(ctx context.Context, rc *pipeline.RunContext, w io.Writer) error {
	path, err := b.path(rc)
	if err != nil {
		return err
	}

	now := time.Now
	if b.Now != nil {
		now = b.Now
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Pipeline: %s\n", rc.Pipeline)
	fmt.Fprintf(&sb, "Run: %s\n", rc.ID)

	params := rc.Params()
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "%s: %s\n", name, params[name])
	}

	if commit := rc.Var(VarCommitShort); commit != "" {
		fmt.Fprintf(&sb, "Commit: %s\n", commit)
		fmt.Fprintf(&sb, "Author: %s\n", rc.Var(VarAuthor))
		fmt.Fprintf(&sb, "Message: %s\n", rc.Var(VarCommitMsg))
	}
	fmt.Fprintf(&sb, "Outcome: %s\n", rc.Outcome())
	fmt.Fprintf(&sb, "Date: %s\n", now().UTC().Format(time.RFC3339))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("unable to write build info: %w", err)
	}

	fmt.Fprintf(w, "Wrote %s\n", path)
	return nil
}
