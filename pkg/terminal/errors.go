package terminal

import "errors"

var (
	// ErrAborted signals the user aborted input (e.g. Ctrl+C).
	ErrAborted = errors.New("terminal: aborted")
	// ErrNilMachine is returned by Run without a flow.
	ErrNilMachine = errors.New("terminal: machine is nil")
)
