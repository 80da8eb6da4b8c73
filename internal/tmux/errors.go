package tmux

import (
	"errors"
	"fmt"
)

// ErrCaptureTimeout is returned when Capture exceeds its subprocess timeout.
// Callers should treat it as a transient driver failure, not session death.
var ErrCaptureTimeout = errors.New("capture-pane timed out")

// CommandError reports a failed tmux invocation. It is the concrete driver
// error kind: anything the lifecycle manager or detector cannot interpret
// beyond "the terminal layer failed".
type CommandError struct {
	Op     string // tmux subcommand, e.g. "new-session"
	Target string // session name, if any
	Output string // trimmed stderr/combined output
	Err    error
}

func (e *CommandError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("tmux %s %s: %v (output: %s)", e.Op, e.Target, e.Err, e.Output)
	}
	return fmt.Sprintf("tmux %s: %v (output: %s)", e.Op, e.Err, e.Output)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ParseError reports malformed data returned by tmux, e.g. an unexpected
// display-message format.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unexpected tmux output %q: %s", e.Input, e.Reason)
}
