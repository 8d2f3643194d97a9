package utils

import (
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// CreateFileMap walks root and returns every regular file whose slash
// separated path relative to root matches one of patterns. The result maps
// the absolute path to the relative path.
//
// Patterns use path.Match syntax per segment, with "**" matching any number
// of segments.
func CreateFileMap(root string, patterns []string) (map[string]string, error) {
	fileMap := make(map[string]string)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		for _, pattern := range patterns {
			if MatchPath(pattern, rel) {
				fileMap[p] = rel
				break
			}
		}
		return nil
	})
	return fileMap, err
}

// SortedKeys returns the keys of a file map in lexical order.
func SortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MatchPath reports whether the slash separated name matches pattern.
func MatchPath(pattern, name string) bool {
	pattern = strings.TrimPrefix(path.Clean("/"+pattern), "/")
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			if len(rest) == 0 {
				return true
			}
			for i := range name {
				if matchSegments(rest, name[i:]) {
					return true
				}
			}
			return false
		}

		if len(name) == 0 {
			return false
		}
		ok, err := path.Match(pattern[0], name[0])
		if err != nil || !ok {
			return false
		}
		pattern = pattern[1:]
		name = name[1:]
	}
	return len(name) == 0
}
