package hive

import (
	"errors"
	"testing"
)

func TestPlanningFlowTransitions(t *testing.T) {
	m := NewMachine(StatePlanning)

	for _, to := range []State{StatePlanReady, StateStarting, StateRunning} {
		if err := m.Transition(to); err != nil {
			t.Fatalf("Transition(%s): %v", to, err)
		}
	}
	if m.State() != StateRunning {
		t.Fatalf("state = %s, want running", m.State())
	}
}

func TestApproveAndContinueSkipsPlanReady(t *testing.T) {
	m := NewMachine(StatePlanning)
	if err := m.Transition(StateStarting); err != nil {
		t.Fatalf("Transition(starting): %v", err)
	}
	if m.State() != StateStarting {
		t.Fatalf("state = %s, want starting", m.State())
	}
}

func TestPlanningCannotRunDirectly(t *testing.T) {
	m := NewMachine(StatePlanning)
	err := m.Transition(StateRunning)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if invalid.From != StatePlanning || invalid.To != StateRunning {
		t.Fatalf("invalid transition = %+v", invalid)
	}
	if m.State() != StatePlanning {
		t.Fatalf("state mutated to %s", m.State())
	}
}

func TestPauseResume(t *testing.T) {
	m := NewMachine(StateRunning)
	if err := m.Transition(StatePaused); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := m.Transition(StateRunning); err != nil {
		t.Fatalf("resume: %v", err)
	}
}

func TestTerminalStatesAcceptNothing(t *testing.T) {
	for _, terminal := range []State{StateCompleted, StateFailed, StateClosed} {
		m := NewMachine(terminal)
		for _, to := range []State{StateRunning, StateClosed, StateFailed, StatePlanning} {
			if err := m.Transition(to); err == nil {
				t.Fatalf("transition %s -> %s accepted", terminal, to)
			}
		}
		if m.Fail("late failure") {
			t.Fatalf("Fail applied in terminal state %s", terminal)
		}
	}
}

func TestStopWinsRaceAgainstFailure(t *testing.T) {
	m := NewMachine(StateRunning)

	if !m.BeginStop() {
		t.Fatal("BeginStop returned false")
	}
	// Queen dies while the stop is tearing the session down.
	if m.Fail("queen exited") {
		t.Fatal("failure applied despite stop in flight")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if m.State() != StateClosed {
		t.Fatalf("state = %s, want closed", m.State())
	}
}

func TestFailWithoutStopApplies(t *testing.T) {
	m := NewMachine(StateRunning)
	if !m.Fail("queen exited") {
		t.Fatal("Fail returned false")
	}
	if m.State() != StateFailed || m.FailureReason() != "queen exited" {
		t.Fatalf("state = %s, reason = %q", m.State(), m.FailureReason())
	}
}

func TestBeginStopOnTerminalSession(t *testing.T) {
	m := NewMachine(StateCompleted)
	if m.BeginStop() {
		t.Fatal("BeginStop accepted terminal session")
	}
}
