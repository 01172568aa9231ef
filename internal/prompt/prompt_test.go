package prompt

import (
	"strings"
	"testing"

	"github.com/rdfitted/hive-manager/internal/cliprofile"
	"github.com/rdfitted/hive-manager/internal/supervisor"
)

func TestQueenPromptListsWorkerTaskFiles(t *testing.T) {
	out := Queen(Input{
		SessionID: "sess",
		Task:      "Build the parser",
		Behavior:  cliprofile.BehaviorInstructionFollowing,
		WorkerTaskFiles: map[string]string{
			"sess-worker-0": "/tmp/sess/tasks/worker-0-task.md",
		},
	})
	if !strings.Contains(out, "sess-worker-0") || !strings.Contains(out, "worker-0-task.md") {
		t.Fatalf("queen prompt missing task file listing:\n%s", out)
	}
	if !strings.Contains(out, supervisor.StatusMarker) {
		t.Fatal("instruction-following prompt missing status protocol")
	}
}

func TestStatusProtocolOnlyForInstructionFollowing(t *testing.T) {
	in := Input{SessionID: "sess", TaskFile: "/tmp/t.md", Behavior: cliprofile.BehaviorActionProne}
	if strings.Contains(Worker(in), supervisor.StatusMarker) {
		t.Fatal("action-prone prompt should not carry the marker protocol")
	}
	in.Behavior = cliprofile.BehaviorInstructionFollowing
	if !strings.Contains(Worker(in), supervisor.StatusMarker) {
		t.Fatal("instruction-following prompt should carry the marker protocol")
	}
}

func TestJudgePromptNamesVariantsAndDecisionPath(t *testing.T) {
	out := Judge(Input{
		SessionID:    "fus",
		Variants:     []string{"alpha", "beta"},
		DecisionPath: "/tmp/fus/evaluation/decision.md",
	})
	for _, want := range []string{"fusion/fus/alpha", "fusion/fus/beta", "fusion/fus/base", "decision.md", "Winner:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("judge prompt missing %q:\n%s", want, out)
		}
	}
}

func TestMasterPlannerPromptPointsAtPlanFile(t *testing.T) {
	out := MasterPlanner(Input{SessionID: "sess", Task: "Ship it", PlanPath: "/tmp/sess/plan.md"})
	if !strings.Contains(out, "plan.md") || !strings.Contains(out, "Do not implement") {
		t.Fatalf("planner prompt:\n%s", out)
	}
}
