package controller

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rdfitted/hive-manager/internal/coord"
	"github.com/rdfitted/hive-manager/internal/event"
	"github.com/rdfitted/hive-manager/internal/hive"
	"github.com/rdfitted/hive-manager/internal/process"
	"github.com/rdfitted/hive-manager/internal/prompt"
	"github.com/rdfitted/hive-manager/internal/storage"
	"github.com/rdfitted/hive-manager/internal/taskfile"
)

// StopSession terminates every agent and closes the session. A stop
// that races a failure wins: the session ends Closed, not Failed.
func (c *Controller) StopSession(ctx context.Context, sessionID string) error {
	s, err := c.session(sessionID)
	if err != nil {
		return err
	}
	if !s.machine.BeginStop() {
		return fmt.Errorf("session %s already %s", sessionID, s.machine.State())
	}
	// Children go first so no agent outlives its coordinator.
	for _, agent := range s.hierarchy.AgentsLeavesFirst() {
		c.sup.Stop(ctx, agent.ID)
	}
	if s.watch != nil {
		s.watch.Close()
	}
	if err := s.machine.Close(); err != nil {
		return err
	}
	c.persist(s)
	c.publishSession(s)
	s.router.Close()
	c.stats.IncSessionStopped()
	c.logger.Info("session stopped", map[string]string{"session": sessionID})
	return nil
}

// ResumeSession restores a stored session. Agents whose recorded PID
// is no longer alive are marked Completed; live ones stay tracked for
// stop but their terminals cannot be reattached.
func (c *Controller) ResumeSession(ctx context.Context, sessionID, projectPath string) (*Session, error) {
	if err := storage.ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	c.mu.Lock()
	if _, exists := c.sessions[sessionID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	c.mu.Unlock()

	root := c.stateRoot(projectPath)
	snapshot, err := root.LoadSnapshot(sessionID)
	if err != nil {
		return nil, err
	}

	hierarchy := hive.NewHierarchy(sessionID)
	for _, agent := range snapshot.Agents {
		if agent.PID > 0 && process.Alive(agent.PID) {
			c.procs.Register(agent.PID, process.GroupID(agent.PID), agent.ID, nil)
		} else if !agent.Status.Terminal() {
			agent.Status = hive.Completed()
			agent.PID = 0
		}
		if err := hierarchy.Add(agent); err != nil {
			return nil, err
		}
	}

	router, err := coord.OpenRouter(c.ctx, coord.RouterOptions{
		SessionID: sessionID,
		LogPath:   root.CoordinationLogPath(sessionID),
		Logger:    c.logger,
	})
	if err != nil {
		return nil, err
	}

	machine := hive.NewMachine(hive.StatePlanning)
	machine.Restore(snapshot.State)
	s := &Session{
		id:          sessionID,
		kind:        Kind(snapshot.SessionType),
		projectPath: snapshot.ProjectPath,
		root:        root,
		machine:     machine,
		hierarchy:   hierarchy,
		router:      router,
		createdAt:   snapshot.CreatedAt,
	}
	if s.projectPath == "" {
		s.projectPath = projectPath
	}
	if err := c.startWatcher(s); err != nil {
		router.Close()
		return nil, err
	}

	c.mu.Lock()
	c.sessions[sessionID] = s
	c.mu.Unlock()

	c.persist(s)
	c.publishSession(s)
	c.logger.Info("session resumed", map[string]string{
		"session": sessionID,
		"state":   string(machine.State()),
	})
	return s, nil
}

// PauseSession suspends a running session. Agent processes keep
// running; the pause is an engine-level state, not a SIGSTOP.
func (c *Controller) PauseSession(sessionID string) error {
	s, err := c.session(sessionID)
	if err != nil {
		return err
	}
	if err := s.machine.Transition(hive.StatePaused); err != nil {
		return err
	}
	c.persist(s)
	c.publishSession(s)
	return nil
}

// ResumeFromPause returns a paused session to Running.
func (c *Controller) ResumeFromPause(sessionID string) error {
	s, err := c.session(sessionID)
	if err != nil {
		return err
	}
	if s.machine.State() != hive.StatePaused {
		return &hive.InvalidTransitionError{From: s.machine.State(), To: hive.StateRunning}
	}
	if err := s.machine.Transition(hive.StateRunning); err != nil {
		return err
	}
	c.persist(s)
	c.publishSession(s)
	return nil
}

// MarkPlanReady approves the plan, gating the Planning -> PlanReady
// transition.
func (c *Controller) MarkPlanReady(sessionID string) error {
	s, err := c.session(sessionID)
	if err != nil {
		return err
	}
	if err := s.machine.Transition(hive.StatePlanReady); err != nil {
		return err
	}
	c.persist(s)
	c.publishSession(s)
	return nil
}

// ContinueAfterPlanning stops the MasterPlanner and spawns the fleet
// recorded at launch. Calling it while the session is still Planning
// approves the plan and continues in one step.
func (c *Controller) ContinueAfterPlanning(ctx context.Context, sessionID string) error {
	s, err := c.session(sessionID)
	if err != nil {
		return err
	}
	if state := s.machine.State(); state != hive.StatePlanReady && state != hive.StatePlanning {
		return fmt.Errorf("%w: session %s is %s", hive.ErrPlanNotApproved, sessionID, state)
	}
	pending, err := s.root.LoadPendingConfig(sessionID)
	if err != nil {
		return fmt.Errorf("load pending config: %w", err)
	}
	if err := s.machine.Transition(hive.StateStarting); err != nil {
		return err
	}

	for _, agent := range s.hierarchy.Agents() {
		if agent.Role.Kind == hive.RoleMasterPlanner {
			c.sup.Stop(ctx, agent.ID)
			s.hierarchy.Remove(agent.ID)
		}
	}

	fleet, err := hive.BuildHive(sessionID, pending.Queen, pending.Workers)
	if err != nil {
		return err
	}
	for _, agent := range fleet.Agents() {
		if err := s.hierarchy.Add(agent); err != nil {
			return err
		}
	}
	if pending.Prompt != "" {
		s.task = pending.Prompt
	}
	if err := c.spawnFleet(ctx, s); err != nil {
		c.failSession(s, fmt.Sprintf("fleet spawn failed: %v", err))
		return err
	}
	if err := s.machine.Transition(hive.StateRunning); err != nil {
		return err
	}
	c.persist(s)
	c.publishSession(s)
	return nil
}

// AddWorker grows a running session by one worker under parentID,
// defaulting to the Queen.
func (c *Controller) AddWorker(ctx context.Context, sessionID string, spec hive.AgentSpec, parentID string) (hive.Agent, error) {
	s, err := c.session(sessionID)
	if err != nil {
		return hive.Agent{}, err
	}
	agent, err := s.hierarchy.AddWorker(spec, parentID)
	if err != nil {
		return hive.Agent{}, err
	}
	path := filepath.Join(s.root.TasksDir(s.id), fmt.Sprintf("worker-%d-task.md", agent.Role.Index))
	if err := taskfile.Write(path, fmt.Sprintf("Worker %d task", agent.Role.Index), s.task); err != nil {
		s.hierarchy.Remove(agent.ID)
		return hive.Agent{}, err
	}
	profile, err := c.registry.Get(agent.CLI)
	if err != nil {
		s.hierarchy.Remove(agent.ID)
		return hive.Agent{}, err
	}
	text := prompt.Worker(prompt.Input{
		SessionID: s.id,
		Task:      s.task,
		Behavior:  profile.Behavior,
		TaskFile:  path,
	})
	if err := c.spawnAgent(ctx, s, agent, text, s.projectPath); err != nil {
		s.hierarchy.Remove(agent.ID)
		return hive.Agent{}, err
	}
	c.persist(s)
	c.publishSession(s)
	return agent, nil
}

// QueenInject appends a user message to the coordination log and
// types it into the Queen's terminal. The target must be a Queen.
func (c *Controller) QueenInject(ctx context.Context, sessionID, targetID, message string) error {
	s, err := c.session(sessionID)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(targetID, "-queen") {
		return fmt.Errorf("%w: inject target %s is not a queen", hive.ErrAgentNotFound, targetID)
	}
	if _, ok := s.hierarchy.Get(targetID); !ok {
		return fmt.Errorf("%w: %s", hive.ErrAgentNotFound, targetID)
	}
	if err := c.appendCoordination(s, coord.NewMessage(coord.KindSystem, "user", targetID, message)); err != nil {
		return err
	}
	return c.sup.SendPrompt(ctx, targetID, message)
}

// SendCoordination appends an agent-to-agent message to the session's
// coordination log.
func (c *Controller) SendCoordination(sessionID string, msg coord.Message) error {
	s, err := c.session(sessionID)
	if err != nil {
		return err
	}
	return c.appendCoordination(s, msg)
}

func (c *Controller) appendCoordination(s *Session, msg coord.Message) error {
	appended, err := s.router.Append(msg)
	if err != nil {
		return err
	}
	if appended {
		c.bus.Publish(event.NewCoordinationEvent(s.id, msg.ID, string(msg.Kind), msg.From, msg.To, msg.Content))
		c.handleCompletionMessage(s, msg)
	}
	return nil
}

// WriteToPty forwards raw bytes to an agent's terminal.
func (c *Controller) WriteToPty(sessionID, agentID string, data []byte) error {
	if _, err := c.session(sessionID); err != nil {
		return err
	}
	return c.sup.Write(agentID, data)
}

// ResizePty resizes an agent's terminal.
func (c *Controller) ResizePty(sessionID, agentID string, cols, rows uint16) error {
	if _, err := c.session(sessionID); err != nil {
		return err
	}
	return c.sup.Resize(agentID, cols, rows)
}

// CoordinationLog returns up to limit most recent messages.
func (c *Controller) CoordinationLog(sessionID string, limit int) ([]coord.Message, error) {
	s, err := c.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.router.Messages(limit)
}

// WorkersState returns every agent of a session with role, status and
// pid.
func (c *Controller) WorkersState(sessionID string) ([]hive.Agent, error) {
	s, err := c.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.hierarchy.Agents(), nil
}

// ListSessions summarizes the live sessions.
func (c *Controller) ListSessions() []Summary {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	summaries := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, s.summary())
	}
	return summaries
}

// ListStoredSessions lists sessions persisted under a project path,
// including ones whose snapshots no longer decode.
func (c *Controller) ListStoredSessions(projectPath string) ([]storage.StoredSession, error) {
	return c.stateRoot(projectPath).ListStoredSessions()
}

// Shutdown stops every session and reaps all remaining processes.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		if err := c.StopSession(ctx, id); err != nil {
			c.logger.Warn("stop on shutdown failed", map[string]string{
				"session": id,
				"error":   err.Error(),
			})
		}
	}
	c.procs.StopAll(ctx)
}
