// Package vcs queries the version control repository a pipeline runs in.
package vcs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

const ShortHashLength = 7

var ErrNotRepository = errors.New("vcs: not a git repository")

// Commit describes the commit HEAD points at.
type Commit struct {
	Hash        string
	Author      string
	AuthorEmail string
	Message     string
	Branch      string
}

// Short returns the abbreviated commit hash.
func (c Commit) Short() string {
	if len(c.Hash) <= ShortHashLength {
		return c.Hash
	}
	return c.Hash[:ShortHashLength]
}

// Subject returns the first line of the commit message.
func (c Commit) Subject() string {
	subject, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	return strings.TrimSpace(subject)
}

// Head opens the repository containing path, searching parent directories,
// and describes its HEAD commit. Branch is empty for a detached HEAD.
func Head(path string) (Commit, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return Commit{}, fmt.Errorf("%s: %w", path, ErrNotRepository)
		}
		return Commit{}, fmt.Errorf("unable to open repository at %s: %w", path, err)
	}

	ref, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return Commit{}, fmt.Errorf("repository at %s has no commits: %w", path, err)
		}
		return Commit{}, fmt.Errorf("unable to resolve HEAD at %s: %w", path, err)
	}

	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return Commit{}, fmt.Errorf("unable to read commit %s: %w", ref.Hash(), err)
	}

	c := Commit{
		Hash:        commit.Hash.String(),
		Author:      commit.Author.Name,
		AuthorEmail: commit.Author.Email,
		Message:     commit.Message,
	}
	if ref.Name().IsBranch() {
		c.Branch = ref.Name().Short()
	}
	return c, nil
}
