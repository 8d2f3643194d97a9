// Package runner executes shell scripts, either on the host or inside a
// docker container.
package runner

import (
	"context"
	"io"
)

// Command is a shell script together with the environment it runs in.
type Command struct {
	Name   string
	Script string
	Env    []string
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
}

// Executor runs commands. The exit code of the script is returned. The error
// is only non-nil when the script could not be run to completion at all,
// because it could not be started or because ctx ended.
type Executor interface {
	Exec(ctx context.Context, cmd Command) (int, error)
}
