// Package prompt renders the role prompts injected into agents at
// spawn. Prompts reference the session's on-disk layout so agents can
// coordinate through the task files and the coordination log.
package prompt

import (
	"fmt"
	"strings"

	"github.com/rdfitted/hive-manager/internal/cliprofile"
	"github.com/rdfitted/hive-manager/internal/supervisor"
)

// Input carries everything a role prompt can reference.
type Input struct {
	SessionID  string
	Task       string
	SessionDir string
	Behavior   cliprofile.Behavior
	// WorkerTaskFiles maps worker agent ids to their task file paths,
	// used in the queen prompt.
	WorkerTaskFiles map[string]string
	// TaskFile is the agent's own task file, when it has one.
	TaskFile string
	// Variants lists fusion variant names for the judge prompt.
	Variants     []string
	DecisionPath string
	PlanPath     string
}

// statusProtocol is appended for CLIs that reliably follow output
// instructions; the supervisor watches for the marker lines.
func statusProtocol() string {
	return fmt.Sprintf(`When your work state changes, print a line in exactly this form:
  %s WORKING <what you are doing>
  %s COMPLETED
  %s BLOCKED: <what you need>
  %s ERROR: <what went wrong>
Print %s COMPLETED as the last line once everything is done.`,
		supervisor.StatusMarker, supervisor.StatusMarker, supervisor.StatusMarker, supervisor.StatusMarker, supervisor.StatusMarker)
}

func withProtocol(body string, behavior cliprofile.Behavior) string {
	if behavior == cliprofile.BehaviorInstructionFollowing {
		return body + "\n\n" + statusProtocol()
	}
	return body
}

// Queen renders the prompt for the coordinating Queen agent.
func Queen(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the Queen of session %s, coordinating a team of worker agents.\n\n", in.SessionID)
	fmt.Fprintf(&b, "Overall task:\n%s\n\n", strings.TrimSpace(in.Task))
	b.WriteString("Worker task files (edit these to assign and refine work):\n")
	for workerID, path := range in.WorkerTaskFiles {
		fmt.Fprintf(&b, "  - %s: %s\n", workerID, path)
	}
	fmt.Fprintf(&b, "\nWorkers report progress by editing the `## Status:` line of their task files. Watch for COMPLETED and BLOCKED flips. Session files live under %s.\n", in.SessionDir)
	return withProtocol(b.String(), in.Behavior)
}

// Worker renders the prompt for a worker agent.
func Worker(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a worker agent in session %s.\n\n", in.SessionID)
	fmt.Fprintf(&b, "Your task file is %s. Read it now and do what it says.\n\n", in.TaskFile)
	b.WriteString("Protocol:\n")
	b.WriteString("  - Re-read your task file when you finish a step; the Queen may refine it.\n")
	b.WriteString("  - Set `## Status: COMPLETED` in your task file when the task is done.\n")
	b.WriteString("  - Set `## Status: BLOCKED` with a note if you cannot continue.\n")
	return withProtocol(b.String(), in.Behavior)
}

// Variant renders the prompt for one fusion variant agent.
func Variant(in Input, variant string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are implementation variant %q in session %s. You work in an isolated git worktree; commit nothing, just leave your changes in the tree.\n\n", variant, in.SessionID)
	fmt.Fprintf(&b, "Your task file is %s. It states the shared task every variant attempts independently.\n\n", in.TaskFile)
	b.WriteString("Set `## Status: COMPLETED` in your task file when your implementation is done.\n")
	return withProtocol(b.String(), in.Behavior)
}

// Judge renders the evaluation prompt for the fusion judge.
func Judge(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the judge for fusion session %s. Every variant has completed.\n\n", in.SessionID)
	b.WriteString("Variants to evaluate:\n")
	for _, variant := range in.Variants {
		fmt.Fprintf(&b, "  - %s (branch fusion/%s/%s)\n", variant, in.SessionID, variant)
	}
	fmt.Fprintf(&b, "\nCompare each variant branch against fusion/%s/base with git diff. Pick the best implementation and write your decision, with reasoning, to %s. Name the winning variant on the first line as `Winner: <name>`.\n", in.SessionID, in.DecisionPath)
	return withProtocol(b.String(), in.Behavior)
}

// MasterPlanner renders the planning-phase prompt.
func MasterPlanner(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the planner for session %s. Do not implement anything yet.\n\n", in.SessionID)
	fmt.Fprintf(&b, "Task to plan:\n%s\n\n", strings.TrimSpace(in.Task))
	fmt.Fprintf(&b, "Write a concrete implementation plan to %s: goals, step breakdown, and a suggested split across worker agents. The user reviews the plan before any workers start.\n", in.PlanPath)
	return withProtocol(b.String(), in.Behavior)
}
