package hive

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrAgentNotFound   = errors.New("agent not found")
	ErrPlanNotApproved = errors.New("plan not approved")
	ErrNotConfirmed    = errors.New("operation requires explicit confirmation")
)

// ParentNotFoundError reports an add-worker request against a parent
// that does not exist in the hierarchy.
type ParentNotFoundError struct {
	SessionID string
	ParentID  string
}

func (e *ParentNotFoundError) Error() string {
	return fmt.Sprintf("session %s: parent agent %q not found", e.SessionID, e.ParentID)
}

// DuplicateAgentError reports an id collision in the hierarchy.
type DuplicateAgentError struct {
	AgentID string
}

func (e *DuplicateAgentError) Error() string {
	return fmt.Sprintf("agent %q already exists", e.AgentID)
}

// InvalidTransitionError reports a session state change rejected by
// the transition table.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.From, e.To)
}
