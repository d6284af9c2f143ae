package agent

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoPatch indicates the agent subprocess finished without leaving any net
// change in the workspace. A distinguished failure reason, not a crash.
var ErrNoPatch = errors.New("agent produced no patch")

// TimeoutError indicates the agent subprocess exceeded its wall-clock budget
// and was hard-killed.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent timed out after %s", e.Timeout)
}

// ConfigError indicates run-level misconfiguration, such as a missing
// credential. It aborts the entire run; retrying cannot help.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("agent configuration error: %s", e.Reason)
}
