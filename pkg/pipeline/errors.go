package pipeline

import (
	"errors"
	"fmt"
)

// ErrUnstable is returned, usually wrapped, by a step whose command ran to
// completion but reported failing tests. The run continues and its outcome
// becomes Unstable.
var ErrUnstable = errors.New("tests reported failures")

// ExitError is returned by a step whose command exited with a non-zero code
// that was not suppressed. It aborts the remaining stages.
type ExitError struct {
	Step string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("step %q exited with code %d", e.Step, e.Code)
}

// Unstablef wraps ErrUnstable with a message.
func Unstablef(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrUnstable)
}
