package steps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/opnlabs/relay/pkg/artifacts"
	"github.com/opnlabs/relay/pkg/pipeline"
	"github.com/opnlabs/relay/pkg/utils"
)

var errNoMatches = errors.New("no files matched")

// Archive publishes the workspace files matching Paths as one artifact.
type Archive struct {
	Label      string
	Paths      []string
	AllowEmpty bool

	Manager artifacts.ArtifactManager
	// Exclude is a directory whose files are never archived, typically where
	// the archives themselves are written.
	Exclude string
	Logger  *log.Logger
}

var _ pipeline.Step = (*Archive)(nil)

func (a *Archive) Name() string {
	if a.Label != "" {
		return a.Label
	}
	return "archive " + strings.Join(a.Paths, " ")
}

func (a *Archive) Run(ctx context.Context, rc *pipeline.RunContext, w io.Writer) error {
	patterns := make([]string, 0, len(a.Paths))
	for _, p := range a.Paths {
		expanded, err := rc.Expand(p)
		if err != nil {
			return err
		}
		patterns = append(patterns, expanded)
	}

	files, err := utils.CreateFileMap(rc.Workspace, patterns)
	if err != nil {
		return fmt.Errorf("unable to collect artifacts: %w", err)
	}

	if a.Exclude != "" {
		exclude, err := filepath.Abs(a.Exclude)
		if err != nil {
			return err
		}
		for src := range files {
			abs, err := filepath.Abs(src)
			if err == nil && strings.HasPrefix(abs, exclude+string(filepath.Separator)) {
				delete(files, src)
			}
		}
	}

	if len(files) == 0 {
		if a.AllowEmpty {
			logger(a.Logger).Warn("no artifacts to archive", "paths", strings.Join(patterns, ", "))
			return nil
		}
		return fmt.Errorf("%s: %w", strings.Join(patterns, ", "), errNoMatches)
	}

	key, err := a.Manager.PublishArtifact(a.Name(), files)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Archived %d file(s) as %s\n", len(files), key)
	return nil
}
