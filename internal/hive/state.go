package hive

import "sync"

// State is the session lifecycle state.
type State string

const (
	StatePlanning  State = "planning"
	StatePlanReady State = "plan_ready"
	StateStarting  State = "starting"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateClosed    State = "closed"
)

// Terminal reports whether the state accepts no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateClosed:
		return true
	default:
		return false
	}
}

var allowedTransitions = map[State][]State{
	StatePlanning:  {StatePlanReady, StateStarting, StateFailed, StateClosed},
	StatePlanReady: {StateStarting, StateFailed, StateClosed},
	StateStarting:  {StateRunning, StateFailed, StateClosed},
	StateRunning:   {StatePaused, StateCompleted, StateFailed, StateClosed},
	StatePaused:    {StateRunning, StateCompleted, StateFailed, StateClosed},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Machine serializes state transitions for one session. An explicit
// stop in flight outranks a concurrent failure: once BeginStop is
// called, Fail becomes a no-op and the terminal state is Closed.
type Machine struct {
	mu       sync.Mutex
	state    State
	failure  string
	stopping bool
}

func NewMachine(initial State) *Machine {
	return &Machine{state: initial}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// FailureReason returns the recorded failure cause, if any.
func (m *Machine) FailureReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failure
}

// Transition moves to the requested state if the transition table
// allows it.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

func (m *Machine) transitionLocked(to State) error {
	if !CanTransition(m.state, to) {
		return &InvalidTransitionError{From: m.state, To: to}
	}
	m.state = to
	return nil
}

// BeginStop marks an explicit stop as in flight. Returns false when
// the session is already terminal.
func (m *Machine) BeginStop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Terminal() {
		return false
	}
	m.stopping = true
	return true
}

// Close finishes an explicit stop from any non-terminal state.
func (m *Machine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Terminal() {
		return &InvalidTransitionError{From: m.state, To: StateClosed}
	}
	m.state = StateClosed
	m.stopping = false
	return nil
}

// Fail records a fatal failure. When an explicit stop is already in
// flight the failure loses the race and the call reports false with
// no state change.
func (m *Machine) Fail(reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopping || m.state.Terminal() {
		return false
	}
	m.state = StateFailed
	m.failure = reason
	return true
}

// Restore forcibly sets the state. Only resume paths use it.
func (m *Machine) Restore(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	m.stopping = false
}
