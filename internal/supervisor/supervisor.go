package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rdfitted/hive-manager/internal/cliprofile"
	"github.com/rdfitted/hive-manager/internal/event"
	"github.com/rdfitted/hive-manager/internal/hive"
	"github.com/rdfitted/hive-manager/internal/logging"
	"github.com/rdfitted/hive-manager/internal/process"
)

// promptChunkSize keeps PTY writes small enough that TUI paste
// detection does not swallow the prompt.
const (
	promptChunkSize  = 64
	promptChunkDelay = 10 * time.Millisecond
)

// StatusFunc receives every agent status change the supervisor
// observes.
type StatusFunc func(sessionID, agentID string, status hive.AgentStatus)

// ExitFunc receives process exit notifications after the final status
// has been applied.
type ExitFunc func(sessionID, agentID string, exitErr error)

// Supervisor spawns coding-CLI agents on PTYs, tracks their output
// and inferred status, and reaps them on stop.
type Supervisor struct {
	factory  PtyFactory
	registry *process.Registry
	bus      *event.Bus[event.Event]
	logger   *logging.Logger
	onStatus StatusFunc
	onExit   ExitFunc

	mu     sync.Mutex
	agents map[string]*managedAgent
}

type managedAgent struct {
	runtime *agentRuntime
	profile cliprofile.Profile
}

// Options configures a Supervisor. Factory defaults to the real PTY
// implementation.
type Options struct {
	Factory  PtyFactory
	Registry *process.Registry
	Bus      *event.Bus[event.Event]
	Logger   *logging.Logger
	OnStatus StatusFunc
	OnExit   ExitFunc
}

func New(opts Options) *Supervisor {
	factory := opts.Factory
	if factory == nil {
		factory = DefaultPtyFactory()
	}
	return &Supervisor{
		factory:  factory,
		registry: opts.Registry,
		bus:      opts.Bus,
		logger:   opts.Logger,
		onStatus: opts.OnStatus,
		onExit:   opts.OnExit,
		agents:   make(map[string]*managedAgent),
	}
}

// SpawnSpec describes one agent launch. Dir is the working directory,
// which for fusion variants is the variant worktree.
type SpawnSpec struct {
	SessionID     string
	AgentID       string
	Profile       cliprofile.Profile
	Model         string
	ExtraFlags    []string
	Dir           string
	InitialPrompt string
}

// Spawn launches the agent's CLI on a fresh PTY and starts tracking
// it. The returned PID is zero for factories that do not produce a
// real child process. A failed launch leaves no trace in the
// supervisor.
func (s *Supervisor) Spawn(ctx context.Context, spec SpawnSpec) (int, error) {
	s.mu.Lock()
	if _, exists := s.agents[spec.AgentID]; exists {
		s.mu.Unlock()
		return 0, fmt.Errorf("agent %s already spawned", spec.AgentID)
	}
	s.mu.Unlock()

	built := spec.Profile.BuildCommand(spec.Model, spec.ExtraFlags...)
	pty, cmd, err := s.factory.Start(StartSpec{
		Command: built.Command,
		Args:    built.Args,
		Env:     built.Env,
		Dir:     spec.Dir,
	})
	if err != nil {
		return 0, &ProcessSpawnFailureError{
			AgentID: spec.AgentID,
			Command: built.Command,
			Err:     err,
		}
	}

	runtime := newAgentRuntime(spec.SessionID, spec.AgentID, pty, cmd, spec.Profile.Behavior, s.bus, s.logger)
	runtime.onStatus = func(agentID string, status hive.AgentStatus) {
		if s.onStatus != nil {
			s.onStatus(spec.SessionID, agentID, status)
		}
	}
	runtime.onExit = func(agentID string, exitErr error) {
		s.registry.Unregister(runtime.pid)
		if s.onExit != nil {
			s.onExit(spec.SessionID, agentID, exitErr)
		}
	}

	s.mu.Lock()
	s.agents[spec.AgentID] = &managedAgent{runtime: runtime, profile: spec.Profile}
	s.mu.Unlock()

	if runtime.pid > 0 {
		s.registry.Register(runtime.pid, process.GroupID(runtime.pid), spec.AgentID, runtime.waitExit)
	}
	runtime.start()
	s.logger.Info("agent spawned", map[string]string{
		"agent":   spec.AgentID,
		"command": built.Command,
		"pid":     fmt.Sprintf("%d", runtime.pid),
	})

	if spec.InitialPrompt != "" {
		if err := s.SendPrompt(ctx, spec.AgentID, spec.InitialPrompt); err != nil {
			s.logger.Warn("initial prompt delivery failed", map[string]string{
				"agent": spec.AgentID,
				"error": err.Error(),
			})
		}
	}
	return runtime.pid, nil
}

// Write sends raw bytes to the agent's PTY.
func (s *Supervisor) Write(agentID string, data []byte) error {
	agent, err := s.lookupRunning(agentID)
	if err != nil {
		return err
	}
	_, err = agent.runtime.pty.Write(data)
	return err
}

// SendPrompt types a prompt into the agent's terminal in small chunks
// and then submits it with the profile's submit sequence.
func (s *Supervisor) SendPrompt(ctx context.Context, agentID, prompt string) error {
	agent, err := s.lookupRunning(agentID)
	if err != nil {
		return err
	}
	data := []byte(prompt)
	for len(data) > 0 {
		n := promptChunkSize
		if n > len(data) {
			n = len(data)
		}
		if _, err := agent.runtime.pty.Write(data[:n]); err != nil {
			return fmt.Errorf("write prompt to %s: %w", agentID, err)
		}
		data = data[n:]
		if len(data) > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(promptChunkDelay):
			}
		}
	}
	if delay := agent.profile.SubmitDelay; delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if _, err := agent.runtime.pty.Write([]byte(agent.profile.Submit())); err != nil {
		return fmt.Errorf("submit prompt to %s: %w", agentID, err)
	}
	return nil
}

// Resize adjusts the agent's terminal dimensions.
func (s *Supervisor) Resize(agentID string, cols, rows uint16) error {
	agent, err := s.lookupRunning(agentID)
	if err != nil {
		return err
	}
	return agent.runtime.pty.Resize(cols, rows)
}

// Stop terminates one agent and stops tracking it.
func (s *Supervisor) Stop(ctx context.Context, agentID string) error {
	s.mu.Lock()
	agent, ok := s.agents[agentID]
	if ok {
		delete(s.agents, agentID)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotRunning, agentID)
	}
	return s.stopAgent(ctx, agent)
}

// StopAll terminates every tracked agent.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.Lock()
	agents := make([]*managedAgent, 0, len(s.agents))
	for _, agent := range s.agents {
		agents = append(agents, agent)
	}
	s.agents = make(map[string]*managedAgent)
	s.mu.Unlock()

	var firstErr error
	for _, agent := range agents {
		if err := s.stopAgent(ctx, agent); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Supervisor) stopAgent(ctx context.Context, agent *managedAgent) error {
	runtime := agent.runtime
	var stopErr error
	if runtime.pid > 0 && runtime.running() {
		stopErr = s.registry.Stop(ctx, runtime.pid)
	}
	runtime.pty.Close()
	runtime.markDone()
	return stopErr
}

// Status reports the last inferred status for a tracked agent.
func (s *Supervisor) Status(agentID string) (hive.AgentStatus, error) {
	s.mu.Lock()
	agent, ok := s.agents[agentID]
	s.mu.Unlock()
	if !ok {
		return hive.AgentStatus{}, fmt.Errorf("%w: %s", ErrAgentNotRunning, agentID)
	}
	return agent.runtime.currentStatus(), nil
}

// OutputTail returns up to n of the most recent plain-text output
// lines for a tracked agent.
func (s *Supervisor) OutputTail(agentID string, n int) ([]string, error) {
	s.mu.Lock()
	agent, ok := s.agents[agentID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotRunning, agentID)
	}
	return agent.runtime.outputTail(n), nil
}

// Running reports whether the agent is tracked and its process has
// not exited.
func (s *Supervisor) Running(agentID string) bool {
	s.mu.Lock()
	agent, ok := s.agents[agentID]
	s.mu.Unlock()
	return ok && agent.runtime.running()
}

// PID returns the tracked agent's process id, zero when unknown.
func (s *Supervisor) PID(agentID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if agent, ok := s.agents[agentID]; ok {
		return agent.runtime.pid
	}
	return 0
}

func (s *Supervisor) lookupRunning(agentID string) (*managedAgent, error) {
	s.mu.Lock()
	agent, ok := s.agents[agentID]
	s.mu.Unlock()
	if !ok || !agent.runtime.running() {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotRunning, agentID)
	}
	return agent, nil
}
