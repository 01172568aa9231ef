package supervisor

import (
	"regexp"
	"strings"
	"time"

	"github.com/rdfitted/hive-manager/internal/cliprofile"
	"github.com/rdfitted/hive-manager/internal/hive"
)

// StatusMatcher infers agent status from terminal output. Observe
// consumes each completed output line; Idle is consulted periodically
// with the time since the last output and the recent tail. Matchers
// may produce false positives; the supervisor keeps terminal statuses
// monotonic regardless.
type StatusMatcher interface {
	Observe(line string) (hive.AgentStatus, bool)
	Idle(quiet time.Duration, tail []string) (hive.AgentStatus, bool)
}

// MatcherFor selects the matcher implementation for a CLI behavior
// profile.
func MatcherFor(behavior cliprofile.Behavior) StatusMatcher {
	switch behavior {
	case cliprofile.BehaviorInstructionFollowing:
		return &markerMatcher{}
	case cliprofile.BehaviorExplicitPolling:
		return &pollingMatcher{}
	case cliprofile.BehaviorInteractive:
		return &interactiveMatcher{}
	default:
		return &idleMatcher{}
	}
}

// StatusMarker is the line prefix instruction-following CLIs are told
// to print when their work state changes.
const StatusMarker = "HIVE_STATUS:"

var (
	ansiRegex   = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b\][^\x07]*\x07|\r`)
	markerRegex = regexp.MustCompile(`(?i)HIVE_STATUS:\s*(WORKING|COMPLETED|BLOCKED|ERROR)\b:?\s*(.*)$`)
	promptRegex = regexp.MustCompile(`[$#%>❯]\s*$`)
	menuRegex   = regexp.MustCompile(`^\s*\d+[.)]\s+\S`)
	yesNoRegex  = regexp.MustCompile(`(?i)[\[(]y(es)?/n(o)?[\])]`)
)

var completionPhrases = []string{
	"task complete",
	"all tasks complete",
	"work is complete",
	"nothing left to do",
}

// StripControl removes ANSI escape sequences and carriage returns so
// matchers see plain text.
func StripControl(data string) string {
	return ansiRegex.ReplaceAllString(data, "")
}

// markerMatcher trusts explicit HIVE_STATUS lines.
type markerMatcher struct{}

func (m *markerMatcher) Observe(line string) (hive.AgentStatus, bool) {
	caps := markerRegex.FindStringSubmatch(line)
	if caps == nil {
		return hive.AgentStatus{}, false
	}
	detail := strings.TrimSpace(caps[2])
	switch strings.ToUpper(caps[1]) {
	case "COMPLETED":
		return hive.Completed(), true
	case "BLOCKED":
		return hive.WaitingForInput(detail), true
	case "ERROR":
		return hive.StatusErrorOf(detail), true
	default:
		return hive.Running(), true
	}
}

func (m *markerMatcher) Idle(time.Duration, []string) (hive.AgentStatus, bool) {
	return hive.AgentStatus{}, false
}

// idleMatcher covers action-prone CLIs: the only reliable signal is a
// quiet period ending in a shell-prompt shaped tail line.
type idleMatcher struct{}

const actionProneQuiet = 10 * time.Second

func (m *idleMatcher) Observe(string) (hive.AgentStatus, bool) {
	return hive.AgentStatus{}, false
}

func (m *idleMatcher) Idle(quiet time.Duration, tail []string) (hive.AgentStatus, bool) {
	if quiet < actionProneQuiet {
		return hive.AgentStatus{}, false
	}
	line := lastNonEmpty(tail)
	if line == "" {
		return hive.AgentStatus{}, false
	}
	if promptRegex.MatchString(line) || strings.HasSuffix(strings.TrimSpace(line), "?") {
		return hive.WaitingForInput(line), true
	}
	return hive.AgentStatus{}, false
}

// pollingMatcher covers CLIs that emit no markers at all: quiet tails
// are scanned for completion phrases, long silence degrades to
// WaitingForInput.
type pollingMatcher struct{}

const (
	pollingQuiet     = 15 * time.Second
	pollingLongQuiet = 60 * time.Second
)

func (m *pollingMatcher) Observe(string) (hive.AgentStatus, bool) {
	return hive.AgentStatus{}, false
}

func (m *pollingMatcher) Idle(quiet time.Duration, tail []string) (hive.AgentStatus, bool) {
	if quiet < pollingQuiet {
		return hive.AgentStatus{}, false
	}
	for i := len(tail) - 1; i >= 0; i-- {
		lowered := strings.ToLower(tail[i])
		for _, phrase := range completionPhrases {
			if strings.Contains(lowered, phrase) {
				return hive.Completed(), true
			}
		}
	}
	if quiet >= pollingLongQuiet {
		return hive.WaitingForInput(lastNonEmpty(tail)), true
	}
	return hive.AgentStatus{}, false
}

// interactiveMatcher covers TUIs that block on menus and
// confirmations.
type interactiveMatcher struct{}

func (m *interactiveMatcher) Observe(line string) (hive.AgentStatus, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return hive.AgentStatus{}, false
	}
	if yesNoRegex.MatchString(trimmed) || menuRegex.MatchString(trimmed) || strings.HasSuffix(trimmed, "?") {
		return hive.WaitingForInput(trimmed), true
	}
	return hive.AgentStatus{}, false
}

func (m *interactiveMatcher) Idle(time.Duration, []string) (hive.AgentStatus, bool) {
	return hive.AgentStatus{}, false
}

func lastNonEmpty(lines []string) string {
	for i := len(lines) - 1; i >= 0; i-- {
		if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
