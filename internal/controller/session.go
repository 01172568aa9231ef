package controller

import (
	"time"

	"github.com/rdfitted/hive-manager/internal/coord"
	"github.com/rdfitted/hive-manager/internal/fusion"
	"github.com/rdfitted/hive-manager/internal/hive"
	"github.com/rdfitted/hive-manager/internal/storage"
	"github.com/rdfitted/hive-manager/internal/watcher"
)

// Kind names the session topology.
type Kind string

const (
	KindHive   Kind = "hive"
	KindSwarm  Kind = "swarm"
	KindFusion Kind = "fusion"
	KindSolo   Kind = "solo"
)

// Session is one live orchestration session. The hierarchy and state
// machine carry their own locks; the controller only guards the
// session map.
type Session struct {
	id          string
	kind        Kind
	projectPath string
	task        string
	root        storage.Root
	machine     *hive.Machine
	hierarchy   *hive.Hierarchy
	router      *coord.Router
	watch       *watcher.SessionWatcher
	fusion      *fusion.Coordinator
	judgeSpec   hive.AgentSpec
	createdAt   time.Time
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() hive.State { return s.machine.State() }

// Agents returns the session's agents in insertion order.
func (s *Session) Agents() []hive.Agent { return s.hierarchy.Agents() }

// Summary is the list_sessions view of a session.
type Summary struct {
	SessionID  string     `json:"session_id"`
	Kind       Kind       `json:"kind"`
	State      hive.State `json:"state"`
	Failure    string     `json:"failure,omitempty"`
	AgentCount int        `json:"agent_count"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (s *Session) summary() Summary {
	return Summary{
		SessionID:  s.id,
		Kind:       s.kind,
		State:      s.machine.State(),
		Failure:    s.machine.FailureReason(),
		AgentCount: s.hierarchy.Len(),
		CreatedAt:  s.createdAt,
	}
}

func (s *Session) snapshot() storage.Snapshot {
	return storage.Snapshot{
		SessionID:   s.id,
		State:       s.machine.State(),
		SessionType: string(s.kind),
		ProjectPath: s.projectPath,
		Failure:     s.machine.FailureReason(),
		CreatedAt:   s.createdAt,
		Agents:      s.hierarchy.Agents(),
	}
}
