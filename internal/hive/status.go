package hive

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StatusKind discriminates the agent status union.
type StatusKind string

const (
	StatusStarting        StatusKind = "starting"
	StatusRunning         StatusKind = "running"
	StatusWaitingForInput StatusKind = "waiting_for_input"
	StatusCompleted       StatusKind = "completed"
	StatusError           StatusKind = "error"
)

// AgentStatus is a tagged union. Line carries the prompt line that
// triggered WaitingForInput; Message carries the error cause.
type AgentStatus struct {
	Kind    StatusKind `json:"kind"`
	Line    string     `json:"line,omitempty"`
	Message string     `json:"message,omitempty"`
}

func Starting() AgentStatus  { return AgentStatus{Kind: StatusStarting} }
func Running() AgentStatus   { return AgentStatus{Kind: StatusRunning} }
func Completed() AgentStatus { return AgentStatus{Kind: StatusCompleted} }

func WaitingForInput(line string) AgentStatus {
	return AgentStatus{Kind: StatusWaitingForInput, Line: line}
}

func StatusErrorOf(message string) AgentStatus {
	return AgentStatus{Kind: StatusError, Message: message}
}

// Terminal reports whether the status accepts no further inference
// transitions.
func (s AgentStatus) Terminal() bool {
	return s.Kind == StatusCompleted || s.Kind == StatusError
}

func (s AgentStatus) String() string {
	switch s.Kind {
	case StatusWaitingForInput:
		return fmt.Sprintf("WaitingForInput(%s)", s.Line)
	case StatusError:
		return fmt.Sprintf("Error(%s)", s.Message)
	case StatusStarting:
		return "Starting"
	case StatusRunning:
		return "Running"
	case StatusCompleted:
		return "Completed"
	default:
		return string(s.Kind)
	}
}

// UnmarshalJSON accepts the tagged object form and the legacy string
// form ("Starting", "WaitingForInput(...)", "Error(...)").
func (s *AgentStatus) UnmarshalJSON(data []byte) error {
	var legacy string
	if err := json.Unmarshal(data, &legacy); err == nil {
		parsed, err := parseStatusString(legacy)
		if err != nil {
			return err
		}
		*s = parsed
		return nil
	}

	type plain AgentStatus
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*s = AgentStatus(decoded)
	return nil
}

func parseStatusString(value string) (AgentStatus, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "Starting":
		return Starting(), nil
	case value == "Running":
		return Running(), nil
	case value == "Completed":
		return Completed(), nil
	case strings.HasPrefix(value, "WaitingForInput(") && strings.HasSuffix(value, ")"):
		return WaitingForInput(inner(value, "WaitingForInput(")), nil
	case strings.HasPrefix(value, "Error(") && strings.HasSuffix(value, ")"):
		return StatusErrorOf(inner(value, "Error(")), nil
	default:
		return AgentStatus{}, fmt.Errorf("unrecognized agent status %q", value)
	}
}
