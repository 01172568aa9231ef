// Package taskfile reads and writes the markdown task files agents
// use to report progress. Agents flip the `## Status:` line; the
// watcher picks the change up from disk.
package taskfile

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Status is the value of a task file's `## Status:` line.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusBlocked   Status = "BLOCKED"
)

var statusLineRegex = regexp.MustCompile(`(?m)^##\s*Status:\s*([A-Za-z]+)\s*$`)

// ParseStatus extracts the status from task-file content. Missing or
// unrecognized status lines report ACTIVE, matching a task that has
// not been touched yet.
func ParseStatus(content string) Status {
	caps := statusLineRegex.FindStringSubmatch(content)
	if caps == nil {
		return StatusActive
	}
	switch Status(strings.ToUpper(caps[1])) {
	case StatusCompleted:
		return StatusCompleted
	case StatusBlocked:
		return StatusBlocked
	default:
		return StatusActive
	}
}

// ReadStatus parses the status of the task file at path.
func ReadStatus(path string) (Status, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return ParseStatus(string(content)), nil
}

// Render produces a fresh task file body with an ACTIVE status line.
func Render(title, instructions string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "## Status: %s\n\n", StatusActive)
	b.WriteString(strings.TrimSpace(instructions))
	b.WriteString("\n\nUpdate the `## Status:` line to COMPLETED when the task is done, or BLOCKED with a note below it when you cannot continue.\n")
	return b.String()
}

// Write renders and writes a task file with 0644 permissions.
func Write(path, title, instructions string) error {
	return os.WriteFile(path, []byte(Render(title, instructions)), 0o644)
}
