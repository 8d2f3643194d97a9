package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"
)

// Shell runs commands through /bin/sh on the host.
type Shell struct {
	// Path to the shell, /bin/sh by default.
	Path string

	// GracePeriod is how long the process group gets between SIGTERM and
	// SIGKILL when the context ends. Zero kills immediately.
	GracePeriod time.Duration
}

func (s Shell) Exec(ctx context.Context, c Command) (int, error) {
	shell := s.Path
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", c.Script)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdout = orDiscard(c.Stdout)
	cmd.Stderr = orDiscard(c.Stderr)

	// A process group lets the signal reach every child the script spawns.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		pgid := -cmd.Process.Pid
		if s.GracePeriod <= 0 {
			return syscall.Kill(pgid, syscall.SIGKILL)
		}
		if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
			return syscall.Kill(pgid, syscall.SIGKILL)
		}
		go func() {
			time.Sleep(s.GracePeriod)
			syscall.Kill(pgid, syscall.SIGKILL)
		}()
		return nil
	}
	cmd.WaitDelay = s.GracePeriod + time.Second

	err := cmd.Run()
	if ctx.Err() != nil {
		return -1, fmt.Errorf("command %s interrupted: %w", c.Name, ctx.Err())
	}
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	// The script exited but a background child still holds its output.
	if errors.Is(err, exec.ErrWaitDelay) && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode(), nil
	}
	return -1, fmt.Errorf("unable to run command %s: %w", c.Name, err)
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
