package controller

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/rdfitted/hive-manager/internal/event"
	"github.com/rdfitted/hive-manager/internal/hive"
	"github.com/rdfitted/hive-manager/internal/taskfile"
)

// handleAgentStatus runs on every supervisor status change. A Queen
// error fails the whole session unless a stop is already in flight.
func (c *Controller) handleAgentStatus(sessionID, agentID string, status hive.AgentStatus) {
	s, err := c.session(sessionID)
	if err != nil {
		return
	}
	s.hierarchy.SetStatus(agentID, status)
	c.persist(s)

	agent, ok := s.hierarchy.Get(agentID)
	if ok && agent.Role.Kind == hive.RoleQueen && status.Kind == hive.StatusError {
		c.failSession(s, fmt.Sprintf("queen error: %s", status.Message))
		return
	}
	if ok && agent.Role.Kind == hive.RoleFusion && status.Kind == hive.StatusCompleted {
		c.markVariantCompleted(s, agent)
	}
	if ok && agent.Role.Kind == hive.RoleJudge && status.Kind == hive.StatusCompleted {
		c.captureJudgeDecision(s, agent.ID)
	}
	c.maybeComplete(s)
}

// handleAgentExit runs after a child process has been reaped and its
// final status applied.
func (c *Controller) handleAgentExit(sessionID, agentID string, exitErr error) {
	s, err := c.session(sessionID)
	if err != nil {
		return
	}
	agent, ok := s.hierarchy.Get(agentID)
	if !ok {
		return
	}
	if agent.Role.Kind == hive.RoleQueen && exitErr != nil {
		c.failSession(s, fmt.Sprintf("queen exited: %v", exitErr))
		return
	}
	c.persist(s)
	c.maybeComplete(s)
}

// failSession moves the session to Failed and reaps its agents. Fail
// is a no-op when an explicit stop already started, so the stop's
// Closed state wins the race.
func (c *Controller) failSession(s *Session, reason string) {
	if !s.machine.Fail(reason) {
		return
	}
	for _, agent := range s.hierarchy.AgentsLeavesFirst() {
		c.sup.Stop(context.Background(), agent.ID)
	}
	c.persist(s)
	c.publishSession(s)
	c.stats.IncSessionFailed()
	c.logger.Error("session failed", map[string]string{
		"session": s.id,
		"reason":  reason,
	})
}

// maybeComplete finishes the session once every agent reached a
// terminal status.
func (c *Controller) maybeComplete(s *Session) {
	if s.machine.State() != hive.StateRunning {
		return
	}
	agents := s.hierarchy.Agents()
	if len(agents) == 0 {
		return
	}
	for _, agent := range agents {
		if !agent.Status.Terminal() {
			return
		}
	}
	if err := s.machine.Transition(hive.StateCompleted); err != nil {
		return
	}
	c.persist(s)
	c.publishSession(s)
	c.stats.IncSessionCompleted()
	c.logger.Info("session completed", map[string]string{"session": s.id})
}

var (
	workerTaskRegex  = regexp.MustCompile(`^worker-(\d+)-task\.md$`)
	variantTaskRegex = regexp.MustCompile(`^fusion-variant-(\d+)-task\.md$`)
)

// handleTaskChange runs on debounced task file writes. Status flips
// drive agent status and, for fusion variants, completion tracking.
func (c *Controller) handleTaskChange(s *Session, path string) {
	status, err := taskfile.ReadStatus(path)
	if err != nil {
		c.logger.Warn("task file unreadable", map[string]string{
			"session": s.id,
			"path":    path,
			"error":   err.Error(),
		})
		return
	}

	name := filepath.Base(path)
	if caps := workerTaskRegex.FindStringSubmatch(name); caps != nil {
		index, _ := strconv.Atoi(caps[1])
		c.applyTaskStatus(s, hive.WorkerRole(index, "").AgentID(s.id), status)
		return
	}
	if caps := variantTaskRegex.FindStringSubmatch(name); caps != nil {
		index, _ := strconv.Atoi(caps[1])
		c.applyVariantStatus(s, index, status)
	}
}

func (c *Controller) applyTaskStatus(s *Session, agentID string, status taskfile.Status) {
	agent, ok := s.hierarchy.Get(agentID)
	if !ok || agent.Status.Terminal() {
		return
	}
	switch status {
	case taskfile.StatusCompleted:
		s.hierarchy.SetStatus(agentID, hive.Completed())
	case taskfile.StatusBlocked:
		s.hierarchy.SetStatus(agentID, hive.WaitingForInput("task blocked"))
	default:
		return
	}
	c.persist(s)
	agent, _ = s.hierarchy.Get(agentID)
	c.bus.Publish(event.NewPtyStatusEvent(s.id, agentID, string(agent.Status.Kind), agent.Status.Line))
	c.maybeComplete(s)
}

// handlePlanChange publishes plan-update whenever the plan file is
// rewritten.
func (c *Controller) handlePlanChange(s *Session, path string) {
	c.bus.Publish(event.NewPlanUpdateEvent(s.id, path))
}
