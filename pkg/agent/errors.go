package agent

import (
	"errors"
	"fmt"
)

// LoopBreakError is the distinguished loop-break signal: a host-level
// abort (fatal misconfiguration, explicit termination request) that must
// never be absorbed by per-tool error recovery. It is not a recoverable
// tool failure.
type LoopBreakError struct {
	Message string
}

// Error implements the error interface.
func (e *LoopBreakError) Error() string {
	return e.Message
}

// Break constructs a loop-break signal with a human-readable message.
func Break(format string, args ...interface{}) error {
	return &LoopBreakError{Message: fmt.Sprintf(format, args...)}
}

// IsLoopBreak reports whether err carries a loop-break signal, through
// any amount of wrapping or joined error aggregation. Every generic
// recovery point must call this before absorbing an error.
func IsLoopBreak(err error) bool {
	var loopBreak *LoopBreakError
	return errors.As(err, &loopBreak)
}
