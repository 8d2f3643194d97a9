package steps

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/opnlabs/relay/pkg/pipeline"
	"github.com/opnlabs/relay/pkg/vcs"
)

// Variables recorded by Checkout.
const (
	VarCommit      = "GIT_COMMIT"
	VarCommitShort = "GIT_COMMIT_SHORT"
	VarAuthor      = "GIT_AUTHOR"
	VarAuthorEmail = "GIT_AUTHOR_EMAIL"
	VarCommitMsg   = "GIT_COMMIT_MSG"
	VarGitBranch   = "GIT_BRANCH"
)

// Checkout reads the HEAD commit of the workspace repository and records it
// as derived variables for later stages.
type Checkout struct {
	Path string
}

var _ pipeline.Step = Checkout{}

func (c Checkout) Name() string { return "checkout" }

func (c Checkout) Run(ctx context.Context, rc *pipeline.RunContext, w io.Writer) error {
	path := rc.Workspace
	if c.Path != "" {
		p, err := rc.Expand(c.Path)
		if err != nil {
			return err
		}
		if filepath.IsAbs(p) {
			path = p
		} else {
			path = filepath.Join(rc.Workspace, p)
		}
	}

	commit, err := vcs.Head(path)
	if err != nil {
		return err
	}

	vars := [][2]string{
		{VarCommit, commit.Hash},
		{VarCommitShort, commit.Short()},
		{VarAuthor, commit.Author},
		{VarAuthorEmail, commit.AuthorEmail},
		{VarCommitMsg, commit.Subject()},
	}
	if commit.Branch != "" {
		vars = append(vars, [2]string{VarGitBranch, commit.Branch})
	}

	for _, kv := range vars {
		if err := rc.SetVar(kv[0], kv[1]); err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "Commit: %s\n", commit.Short())
	fmt.Fprintf(w, "Author: %s\n", commit.Author)
	fmt.Fprintf(w, "Message: %s\n", commit.Subject())
	return nil
}
