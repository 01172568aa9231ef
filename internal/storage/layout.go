package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// DefaultRootName is the state directory created inside a project.
const DefaultRootName = ".hive-manager"

const maxSessionIDLength = 128

var sessionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// InvalidSessionIDError rejects ids that could escape the state root.
type InvalidSessionIDError struct {
	ID     string
	Reason string
}

func (e *InvalidSessionIDError) Error() string {
	return fmt.Sprintf("invalid session id %q: %s", e.ID, e.Reason)
}

// ValidateSessionID enforces the id alphabet used in session directory
// names. Anything else is treated as a path traversal attempt.
func ValidateSessionID(id string) error {
	if id == "" {
		return &InvalidSessionIDError{ID: id, Reason: "empty"}
	}
	if len(id) > maxSessionIDLength {
		return &InvalidSessionIDError{ID: id, Reason: "longer than 128 characters"}
	}
	if strings.Contains(id, "..") {
		return &InvalidSessionIDError{ID: id, Reason: "contains path traversal sequence"}
	}
	if !sessionIDRegex.MatchString(id) {
		return &InvalidSessionIDError{ID: id, Reason: "contains characters outside [a-zA-Z0-9_-]"}
	}
	return nil
}

// Root addresses the on-disk layout of every session under one state
// directory.
type Root struct {
	dir string
}

func NewRoot(dir string) Root {
	return Root{dir: dir}
}

func (r Root) Dir() string {
	return r.dir
}

func (r Root) SessionDir(sessionID string) string {
	return filepath.Join(r.dir, sessionID)
}

func (r Root) PlanPath(sessionID string) string {
	return filepath.Join(r.SessionDir(sessionID), "plan.md")
}

func (r Root) PendingConfigPath(sessionID string) string {
	return filepath.Join(r.SessionDir(sessionID), "pending-config.json")
}

func (r Root) TasksDir(sessionID string) string {
	return filepath.Join(r.SessionDir(sessionID), "tasks")
}

func (r Root) PromptsDir(sessionID string) string {
	return filepath.Join(r.SessionDir(sessionID), "prompts")
}

func (r Root) DecisionPath(sessionID string) string {
	return filepath.Join(r.SessionDir(sessionID), "evaluation", "decision.md")
}

func (r Root) CoordinationLogPath(sessionID string) string {
	return filepath.Join(r.SessionDir(sessionID), "coordination", "coordination.log")
}

func (r Root) SnapshotPath(sessionID string) string {
	return filepath.Join(r.SessionDir(sessionID), "state", "hierarchy.json")
}

// EnsureSessionDirs validates the id and creates the session skeleton.
func (r Root) EnsureSessionDirs(sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	for _, dir := range []string{
		r.SessionDir(sessionID),
		r.TasksDir(sessionID),
		r.PromptsDir(sessionID),
		filepath.Join(r.SessionDir(sessionID), "evaluation"),
		filepath.Join(r.SessionDir(sessionID), "coordination"),
		filepath.Join(r.SessionDir(sessionID), "state"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create session dir %s: %w", dir, err)
		}
	}
	return nil
}
