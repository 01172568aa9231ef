package hive

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RoleKind discriminates the agent role union.
type RoleKind string

const (
	RoleQueen         RoleKind = "queen"
	RolePlanner       RoleKind = "planner"
	RoleWorker        RoleKind = "worker"
	RoleFusion        RoleKind = "fusion"
	RoleJudge         RoleKind = "judge"
	RoleMasterPlanner RoleKind = "master_planner"
)

// Role is a tagged union. Only the fields of the active kind are
// meaningful: Index for planners and workers, Parent for workers,
// Variant for fusion agents, SessionID for judges.
type Role struct {
	Kind      RoleKind `json:"kind"`
	Index     int      `json:"index,omitempty"`
	Parent    string   `json:"parent,omitempty"`
	Variant   string   `json:"variant,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
}

func QueenRole() Role                      { return Role{Kind: RoleQueen} }
func PlannerRole(index int) Role           { return Role{Kind: RolePlanner, Index: index} }
func WorkerRole(index int, parent string) Role {
	return Role{Kind: RoleWorker, Index: index, Parent: parent}
}
func FusionRole(variant string) Role    { return Role{Kind: RoleFusion, Variant: variant} }
func JudgeRole(sessionID string) Role   { return Role{Kind: RoleJudge, SessionID: sessionID} }
func MasterPlannerRole() Role           { return Role{Kind: RoleMasterPlanner} }

// AgentID returns the deterministic agent id for this role within a
// session.
func (r Role) AgentID(sessionID string) string {
	switch r.Kind {
	case RoleQueen:
		return sessionID + "-queen"
	case RolePlanner:
		return fmt.Sprintf("%s-planner-%d", sessionID, r.Index)
	case RoleWorker:
		return fmt.Sprintf("%s-worker-%d", sessionID, r.Index)
	case RoleFusion:
		return fmt.Sprintf("%s-fusion-%d", sessionID, r.Index)
	case RoleJudge:
		return sessionID + "-judge"
	case RoleMasterPlanner:
		return sessionID + "-master-planner"
	default:
		return sessionID + "-agent"
	}
}

// String renders the legacy display form kept for snapshot
// compatibility: "Queen", "Planner(0)", "Worker(1,sess-queen)",
// "Fusion(alpha)", "Judge(sess)", "MasterPlanner".
func (r Role) String() string {
	switch r.Kind {
	case RoleQueen:
		return "Queen"
	case RolePlanner:
		return fmt.Sprintf("Planner(%d)", r.Index)
	case RoleWorker:
		parent := r.Parent
		if parent == "" {
			parent = "None"
		}
		return fmt.Sprintf("Worker(%d,%s)", r.Index, parent)
	case RoleFusion:
		return fmt.Sprintf("Fusion(%s)", r.Variant)
	case RoleJudge:
		return fmt.Sprintf("Judge(%s)", r.SessionID)
	case RoleMasterPlanner:
		return "MasterPlanner"
	default:
		return string(r.Kind)
	}
}

// ParseRoleString parses the legacy display form back into a Role.
func ParseRoleString(value string) (Role, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "Queen":
		return QueenRole(), nil
	case value == "MasterPlanner":
		return MasterPlannerRole(), nil
	case strings.HasPrefix(value, "Planner(") && strings.HasSuffix(value, ")"):
		index, err := strconv.Atoi(inner(value, "Planner("))
		if err != nil {
			return Role{}, fmt.Errorf("parse planner role %q: %w", value, err)
		}
		return PlannerRole(index), nil
	case strings.HasPrefix(value, "Worker(") && strings.HasSuffix(value, ")"):
		parts := strings.SplitN(inner(value, "Worker("), ",", 2)
		index, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return Role{}, fmt.Errorf("parse worker role %q: %w", value, err)
		}
		parent := ""
		if len(parts) == 2 {
			parent = strings.TrimSpace(parts[1])
			if parent == "None" {
				parent = ""
			}
		}
		return WorkerRole(index, parent), nil
	case strings.HasPrefix(value, "Fusion(") && strings.HasSuffix(value, ")"):
		return FusionRole(inner(value, "Fusion(")), nil
	case strings.HasPrefix(value, "Judge(") && strings.HasSuffix(value, ")"):
		return JudgeRole(inner(value, "Judge(")), nil
	default:
		return Role{}, fmt.Errorf("unrecognized role %q", value)
	}
}

func inner(value, prefix string) string {
	return strings.TrimSuffix(strings.TrimPrefix(value, prefix), ")")
}

// UnmarshalJSON accepts both the tagged object form and the legacy
// display-string form found in old snapshots.
func (r *Role) UnmarshalJSON(data []byte) error {
	var legacy string
	if err := json.Unmarshal(data, &legacy); err == nil {
		parsed, err := ParseRoleString(legacy)
		if err != nil {
			return err
		}
		*r = parsed
		return nil
	}

	type plain Role
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*r = Role(decoded)
	return nil
}
