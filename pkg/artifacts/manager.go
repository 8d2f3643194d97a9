// Package artifacts publishes files produced by a run into the artifacts
// directory.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gosimple/slug"

	"github.com/opnlabs/relay/pkg/store"
	"github.com/opnlabs/relay/pkg/utils"
)

const ArchiveDir = "archive"

type ArtifactManager interface {
	// PublishArtifact takes a name and the files to publish, mapping paths on
	// disk to their names inside the artifact, and stores them as a single
	// artifact. The returned key references the artifact.
	PublishArtifact(name string, files map[string]string) (key string, err error)

	// Artifacts lists everything published so far, in publish order.
	Artifacts() []Artifact
}

type Artifact struct {
	Key   string
	Path  string
	Files []string
}

// ArchiveManager stores every artifact as a .tar.gz file under
// <dir>/archive.
type ArchiveManager struct {
	mu        sync.Mutex
	dir       string
	index     store.Store
	artifacts []Artifact
}

// NewArchiveManager creates the artifacts directory if needed. Existing
// contents are kept since stages write their reports there.
func NewArchiveManager(dir string) (*ArchiveManager, error) {
	if err := os.MkdirAll(filepath.Join(dir, ArchiveDir), 0o755); err != nil {
		return nil, fmt.Errorf("could not create %s directory: %w", dir, err)
	}

	return &ArchiveManager{
		dir:   dir,
		index: store.NewMemStore(),
	}, nil
}

// Dir returns the directory archives are written to.
func (m *ArchiveManager) Dir() string { return filepath.Join(m.dir, ArchiveDir) }

func (m *ArchiveManager) PublishArtifact(name string, files map[string]string) (string, error) {
	if len(files) == 0 {
		return "", errors.New("no files to publish")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key, err := m.reserve(slug.Make(name))
	if err != nil {
		return "", err
	}

	path := filepath.Join(m.Dir(), key)
	if err := utils.Compress(files, path); err != nil {
		return "", fmt.Errorf("could not create artifact %s: %w", key, err)
	}

	contents := make([]string, 0, len(files))
	for _, src := range utils.SortedKeys(files) {
		contents = append(contents, files[src])
	}
	m.artifacts = append(m.artifacts, Artifact{Key: key, Path: path, Files: contents})
	return key, nil
}

// reserve claims the first free key for base in the index.
func (m *ArchiveManager) reserve(base string) (string, error) {
	if base == "" {
		base = "artifact"
	}
	for i := 0; ; i++ {
		key := base
		if i > 0 {
			key += "-" + strconv.Itoa(i)
		}
		key += ".tar.gz"

		err := m.index.Set(key, base)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, store.ErrKeyExists) {
			return "", err
		}
	}
}

func (m *ArchiveManager) Artifacts() []Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Artifact, len(m.artifacts))
	copy(out, m.artifacts)
	return out
}
