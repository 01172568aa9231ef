package supervisor

import (
	"errors"
	"fmt"
)

var ErrAgentNotRunning = errors.New("agent process not running")

// ProcessSpawnFailureError wraps whatever kept the CLI from starting.
// The agent is recorded with Error status, never left half-registered.
type ProcessSpawnFailureError struct {
	AgentID string
	Command string
	Err     error
}

func (e *ProcessSpawnFailureError) Error() string {
	return fmt.Sprintf("agent %s: failed to spawn %q: %v", e.AgentID, e.Command, e.Err)
}

func (e *ProcessSpawnFailureError) Unwrap() error {
	return e.Err
}
