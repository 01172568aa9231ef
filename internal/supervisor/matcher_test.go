package supervisor

import (
	"testing"
	"time"

	"github.com/rdfitted/hive-manager/internal/cliprofile"
	"github.com/rdfitted/hive-manager/internal/hive"
)

func TestStripControl(t *testing.T) {
	in := "\x1b[32mdone\x1b[0m\r"
	if got := StripControl(in); got != "done" {
		t.Fatalf("StripControl(%q) = %q", in, got)
	}
}

func TestMarkerMatcher(t *testing.T) {
	m := MatcherFor(cliprofile.BehaviorInstructionFollowing)

	tests := []struct {
		line string
		want hive.StatusKind
		ok   bool
	}{
		{"HIVE_STATUS: COMPLETED", hive.StatusCompleted, true},
		{"hive_status: completed", hive.StatusCompleted, true},
		{"HIVE_STATUS: WORKING on step 2", hive.StatusRunning, true},
		{"HIVE_STATUS: BLOCKED: need API key", hive.StatusWaitingForInput, true},
		{"HIVE_STATUS: ERROR: build failed", hive.StatusError, true},
		{"just some log line", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		status, ok := m.Observe(tt.line)
		if ok != tt.ok {
			t.Errorf("Observe(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			continue
		}
		if ok && status.Kind != tt.want {
			t.Errorf("Observe(%q) kind = %s, want %s", tt.line, status.Kind, tt.want)
		}
	}

	if status, ok := m.Observe("HIVE_STATUS: BLOCKED: need API key"); !ok || status.Line != "need API key" {
		t.Errorf("blocked detail = %q, ok = %v", status.Line, ok)
	}
	if _, ok := m.Idle(time.Hour, []string{"$ "}); ok {
		t.Error("marker matcher should never infer from idleness")
	}
}

func TestIdleMatcher(t *testing.T) {
	m := MatcherFor(cliprofile.BehaviorActionProne)

	if _, ok := m.Observe("HIVE_STATUS: COMPLETED"); ok {
		t.Error("action-prone matcher should ignore output lines")
	}
	if _, ok := m.Idle(2*time.Second, []string{"$ "}); ok {
		t.Error("short quiet period should not trigger")
	}
	status, ok := m.Idle(15*time.Second, []string{"ran tests", "$ "})
	if !ok || status.Kind != hive.StatusWaitingForInput {
		t.Fatalf("prompt tail after quiet = %+v, ok %v", status, ok)
	}
	status, ok = m.Idle(15*time.Second, []string{"Continue with the merge?"})
	if !ok || status.Kind != hive.StatusWaitingForInput {
		t.Fatalf("question tail after quiet = %+v, ok %v", status, ok)
	}
	if _, ok := m.Idle(15*time.Second, []string{"still compiling..."}); ok {
		t.Error("non-prompt tail should not trigger")
	}
	if _, ok := m.Idle(15*time.Second, nil); ok {
		t.Error("empty tail should not trigger")
	}
}

func TestPollingMatcher(t *testing.T) {
	m := MatcherFor(cliprofile.BehaviorExplicitPolling)

	if _, ok := m.Idle(5*time.Second, []string{"Task complete."}); ok {
		t.Error("below quiet threshold should not trigger")
	}
	status, ok := m.Idle(20*time.Second, []string{"wrote files", "Task complete."})
	if !ok || status.Kind != hive.StatusCompleted {
		t.Fatalf("completion phrase = %+v, ok %v", status, ok)
	}
	if _, ok := m.Idle(20*time.Second, []string{"still thinking"}); ok {
		t.Error("quiet without completion phrase should not trigger yet")
	}
	status, ok = m.Idle(2*time.Minute, []string{"still thinking"})
	if !ok || status.Kind != hive.StatusWaitingForInput {
		t.Fatalf("long quiet = %+v, ok %v", status, ok)
	}
}

func TestInteractiveMatcher(t *testing.T) {
	m := MatcherFor(cliprofile.BehaviorInteractive)

	tests := []struct {
		line string
		ok   bool
	}{
		{"Apply these changes? [y/n]", true},
		{"Proceed (yes/no)", true},
		{"1) keep local version", true},
		{"Which branch should I use?", true},
		{"compiling package three of nine", false},
		{"", false},
	}
	for _, tt := range tests {
		status, ok := m.Observe(tt.line)
		if ok != tt.ok {
			t.Errorf("Observe(%q) ok = %v, want %v", tt.line, ok, tt.ok)
		}
		if ok && status.Kind != hive.StatusWaitingForInput {
			t.Errorf("Observe(%q) kind = %s", tt.line, status.Kind)
		}
	}
	if _, ok := m.Idle(time.Hour, []string{"menu"}); ok {
		t.Error("interactive matcher should not infer from idleness")
	}
}
