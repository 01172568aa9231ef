package hive

import (
	"encoding/json"
	"testing"
)

func TestRoleStringRoundTrip(t *testing.T) {
	roles := []Role{
		QueenRole(),
		PlannerRole(2),
		WorkerRole(1, "sess-queen"),
		WorkerRole(0, ""),
		FusionRole("alpha"),
		JudgeRole("sess"),
		MasterPlannerRole(),
	}
	for _, role := range roles {
		parsed, err := ParseRoleString(role.String())
		if err != nil {
			t.Fatalf("ParseRoleString(%q): %v", role.String(), err)
		}
		if parsed != role {
			t.Fatalf("round trip %q: got %+v, want %+v", role.String(), parsed, role)
		}
	}
}

func TestParseLegacyRoleStrings(t *testing.T) {
	cases := map[string]Role{
		"Queen":                  QueenRole(),
		"MasterPlanner":          MasterPlannerRole(),
		"Planner(0)":             PlannerRole(0),
		"Worker(1,sess-queen)":   WorkerRole(1, "sess-queen"),
		"Worker(2, sess-queen)":  WorkerRole(2, "sess-queen"),
		"Worker(3,None)":         WorkerRole(3, ""),
		"Fusion(minimal-deps)":   FusionRole("minimal-deps"),
		"Judge(sess)":            JudgeRole("sess"),
	}
	for input, want := range cases {
		got, err := ParseRoleString(input)
		if err != nil {
			t.Fatalf("ParseRoleString(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseRoleString(%q) = %+v, want %+v", input, got, want)
		}
	}

	if _, err := ParseRoleString("Overseer"); err == nil {
		t.Fatal("expected error for unknown role string")
	}
}

func TestRoleUnmarshalAcceptsBothForms(t *testing.T) {
	var fromString Role
	if err := json.Unmarshal([]byte(`"Worker(1,sess-queen)"`), &fromString); err != nil {
		t.Fatalf("unmarshal legacy string: %v", err)
	}
	if fromString != WorkerRole(1, "sess-queen") {
		t.Fatalf("legacy form = %+v", fromString)
	}

	var fromObject Role
	payload := []byte(`{"kind":"worker","index":1,"parent":"sess-queen"}`)
	if err := json.Unmarshal(payload, &fromObject); err != nil {
		t.Fatalf("unmarshal object: %v", err)
	}
	if fromObject != fromString {
		t.Fatalf("object form = %+v, want %+v", fromObject, fromString)
	}
}

func TestRoleAgentIDs(t *testing.T) {
	cases := map[string]Role{
		"sess-queen":          QueenRole(),
		"sess-planner-1":      PlannerRole(1),
		"sess-worker-3":       WorkerRole(3, "sess-queen"),
		"sess-fusion-0":       FusionRole("alpha"),
		"sess-judge":          JudgeRole("sess"),
		"sess-master-planner": MasterPlannerRole(),
	}
	for want, role := range cases {
		if got := role.AgentID("sess"); got != want {
			t.Fatalf("AgentID(%s) = %q, want %q", role.Kind, got, want)
		}
	}
}

func TestStatusUnmarshalAcceptsBothForms(t *testing.T) {
	var fromString AgentStatus
	if err := json.Unmarshal([]byte(`"WaitingForInput(continue? [y/n])"`), &fromString); err != nil {
		t.Fatalf("unmarshal legacy string: %v", err)
	}
	if fromString.Kind != StatusWaitingForInput || fromString.Line != "continue? [y/n]" {
		t.Fatalf("legacy form = %+v", fromString)
	}

	var fromObject AgentStatus
	if err := json.Unmarshal([]byte(`{"kind":"error","message":"spawn failed"}`), &fromObject); err != nil {
		t.Fatalf("unmarshal object: %v", err)
	}
	if fromObject.Kind != StatusError || fromObject.Message != "spawn failed" {
		t.Fatalf("object form = %+v", fromObject)
	}
}

func TestStatusTerminal(t *testing.T) {
	if Running().Terminal() || WaitingForInput("?").Terminal() {
		t.Fatal("live statuses reported terminal")
	}
	if !Completed().Terminal() || !StatusErrorOf("x").Terminal() {
		t.Fatal("terminal statuses reported live")
	}
}
