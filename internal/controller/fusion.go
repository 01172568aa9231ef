package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rdfitted/hive-manager/internal/coord"
	"github.com/rdfitted/hive-manager/internal/fusion"
	"github.com/rdfitted/hive-manager/internal/git"
	"github.com/rdfitted/hive-manager/internal/hive"
	"github.com/rdfitted/hive-manager/internal/prompt"
	"github.com/rdfitted/hive-manager/internal/storage"
	"github.com/rdfitted/hive-manager/internal/taskfile"
)

// FusionSpec configures launch_fusion: competing variants in isolated
// worktrees plus the judge that evaluates them.
type FusionSpec struct {
	SessionID   string
	ProjectPath string
	Task        string
	Variants    []hive.VariantSpec
	Judge       hive.AgentSpec
}

// LaunchFusion starts one agent per variant, each in its own git
// worktree branched from HEAD.
func (c *Controller) LaunchFusion(ctx context.Context, spec FusionSpec) (*Session, error) {
	if err := storage.ValidateSessionID(spec.SessionID); err != nil {
		return nil, err
	}
	if len(spec.Variants) == 0 {
		return nil, fmt.Errorf("fusion session %s needs at least one variant", spec.SessionID)
	}
	repo, ok := git.Inspect(spec.ProjectPath)
	if !ok {
		return nil, fmt.Errorf("fusion session %s: %s is not a git repository", spec.SessionID, spec.ProjectPath)
	}
	root := c.stateRoot(spec.ProjectPath)

	c.mu.Lock()
	if _, exists := c.sessions[spec.SessionID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, spec.SessionID)
	}
	c.mu.Unlock()

	if err := root.EnsureSessionDirs(spec.SessionID); err != nil {
		return nil, err
	}

	hierarchy, err := hive.BuildFusion(spec.SessionID, spec.Variants)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(spec.Variants))
	for i, variant := range spec.Variants {
		names[i] = variant.Name
	}
	manager := fusion.NewWorktreeManager(spec.ProjectPath, c.logger)
	workspaces, err := manager.Prepare(ctx, spec.SessionID, names)
	if err != nil {
		return nil, err
	}

	router, err := coord.OpenRouter(c.ctx, coord.RouterOptions{
		SessionID: spec.SessionID,
		LogPath:   root.CoordinationLogPath(spec.SessionID),
		Logger:    c.logger,
	})
	if err != nil {
		manager.Cleanup(ctx, spec.SessionID, workspaces)
		return nil, err
	}

	s := &Session{
		id:          spec.SessionID,
		kind:        KindFusion,
		projectPath: spec.ProjectPath,
		task:        spec.Task,
		root:        root,
		machine:     hive.NewMachine(hive.StateStarting),
		hierarchy:   hierarchy,
		router:      router,
		fusion:      fusion.NewCoordinator(spec.SessionID, manager, workspaces, c.bus, c.logger),
		judgeSpec:   spec.Judge,
		createdAt:   time.Now().UTC(),
	}
	if err := c.startWatcher(s); err != nil {
		router.Close()
		manager.Cleanup(ctx, spec.SessionID, workspaces)
		return nil, err
	}

	c.mu.Lock()
	c.sessions[spec.SessionID] = s
	c.mu.Unlock()

	for i, agent := range hierarchy.Agents() {
		path := filepath.Join(root.TasksDir(spec.SessionID), fmt.Sprintf("fusion-variant-%d-task.md", i))
		title := fmt.Sprintf("Variant %s task", agent.Role.Variant)
		if err := taskfile.Write(path, title, spec.Task); err != nil {
			c.teardown(s)
			manager.Cleanup(ctx, spec.SessionID, workspaces)
			return nil, err
		}
		profile, err := c.registry.Get(agent.CLI)
		if err != nil {
			c.teardown(s)
			manager.Cleanup(ctx, spec.SessionID, workspaces)
			return nil, err
		}
		text := prompt.Variant(prompt.Input{
			SessionID: spec.SessionID,
			Task:      spec.Task,
			Behavior:  profile.Behavior,
			TaskFile:  path,
		}, agent.Role.Variant)
		ws, err := s.fusion.Workspace(agent.Role.Variant)
		if err != nil {
			c.teardown(s)
			manager.Cleanup(ctx, spec.SessionID, workspaces)
			return nil, err
		}
		if err := c.spawnAgent(ctx, s, agent, text, ws.Path); err != nil {
			c.teardown(s)
			manager.Cleanup(ctx, spec.SessionID, workspaces)
			return nil, err
		}
	}

	if err := s.machine.Transition(hive.StateRunning); err != nil {
		return nil, err
	}
	c.persist(s)
	c.publishSession(s)
	c.stats.IncSessionStarted()
	c.logger.Info("fusion session launched", map[string]string{
		"session":  spec.SessionID,
		"variants": fmt.Sprintf("%d", len(spec.Variants)),
		"branch":   repo.Branch,
	})
	return s, nil
}

// applyVariantStatus reacts to a fusion variant's task file flip.
// Completion of the final variant spawns the judge.
func (c *Controller) applyVariantStatus(s *Session, index int, status taskfile.Status) {
	if s.fusion == nil {
		return
	}
	var variantAgent hive.Agent
	found := false
	for _, agent := range s.hierarchy.Agents() {
		if agent.Role.Kind == hive.RoleFusion && agent.Role.Index == index {
			variantAgent = agent
			found = true
			break
		}
	}
	if !found {
		return
	}

	switch status {
	case taskfile.StatusBlocked:
		s.hierarchy.SetStatus(variantAgent.ID, hive.WaitingForInput("task blocked"))
		c.persist(s)
		return
	case taskfile.StatusCompleted:
	default:
		return
	}

	c.markVariantCompleted(s, variantAgent)
}

// markVariantCompleted records a variant as done regardless of how
// completion was observed (task file, process status, or a Completion
// message). The final variant spawns the judge.
func (c *Controller) markVariantCompleted(s *Session, variantAgent hive.Agent) {
	if s.fusion == nil {
		return
	}
	s.hierarchy.SetStatus(variantAgent.ID, hive.Completed())
	c.persist(s)
	ready, err := s.fusion.MarkCompleted(variantAgent.Role.Variant)
	if err != nil {
		c.logger.Warn("variant completion rejected", map[string]string{
			"session": s.id,
			"variant": variantAgent.Role.Variant,
			"error":   err.Error(),
		})
		return
	}
	if ready {
		if err := c.spawnJudge(context.Background(), s); err != nil {
			c.logger.Error("judge spawn failed", map[string]string{
				"session": s.id,
				"error":   err.Error(),
			})
		}
	}
}

// handleCompletionMessage marks any fusion variant a Completion
// message names, either as the sender or by name in the content.
func (c *Controller) handleCompletionMessage(s *Session, msg coord.Message) {
	if s.fusion == nil || msg.Kind != coord.KindCompletion {
		return
	}
	for _, agent := range s.hierarchy.Agents() {
		if agent.Role.Kind != hive.RoleFusion {
			continue
		}
		if msg.From == agent.ID || strings.Contains(msg.Content, agent.Role.Variant) {
			c.markVariantCompleted(s, agent)
		}
	}
}

// spawnJudge adds the judge agent once every variant has completed.
// It runs in the main checkout so it can diff the variant branches.
func (c *Controller) spawnJudge(ctx context.Context, s *Session) error {
	judgeSpec := s.judgeSpec
	if judgeSpec.CLI == "" {
		return fmt.Errorf("fusion session %s has no judge configured", s.id)
	}
	role := hive.JudgeRole(s.id)
	judge := hive.Agent{
		ID:     role.AgentID(s.id),
		Role:   role,
		Status: hive.Starting(),
		CLI:    judgeSpec.CLI,
		Model:  judgeSpec.Model,
	}
	if err := s.hierarchy.Add(judge); err != nil {
		return err
	}
	profile, err := c.registry.Get(judge.CLI)
	if err != nil {
		s.hierarchy.Remove(judge.ID)
		return err
	}
	text := prompt.Judge(prompt.Input{
		SessionID:    s.id,
		Behavior:     profile.Behavior,
		Variants:     s.fusion.Variants(),
		DecisionPath: s.root.DecisionPath(s.id),
	})
	if err := c.spawnAgent(ctx, s, judge, text, s.projectPath); err != nil {
		s.hierarchy.Remove(judge.ID)
		return err
	}
	c.persist(s)
	c.publishSession(s)
	return nil
}

// FusionDecision returns the judge's written report. It fails with
// os.ErrNotExist until the judge has written the decision file.
func (c *Controller) FusionDecision(sessionID string) (string, error) {
	s, err := c.session(sessionID)
	if err != nil {
		return "", err
	}
	if s.fusion == nil {
		return "", fmt.Errorf("session %s is not a fusion session", sessionID)
	}
	data, err := os.ReadFile(s.root.DecisionPath(s.id))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// captureJudgeDecision reads the decision file after the judge
// process finishes and records the verdict line in the coordination
// log, so clients see it without polling the filesystem.
func (c *Controller) captureJudgeDecision(s *Session, judgeID string) {
	data, err := os.ReadFile(s.root.DecisionPath(s.id))
	if err != nil {
		c.logger.Warn("judge decision unreadable", map[string]string{
			"session": s.id,
			"error":   err.Error(),
		})
		return
	}
	verdict, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	msg := coord.NewMessage(coord.KindJudge, judgeID, coord.Broadcast, verdict)
	if err := c.appendCoordination(s, msg); err != nil {
		c.logger.Warn("judge verdict not recorded", map[string]string{
			"session": s.id,
			"error":   err.Error(),
		})
	}
}

// ApplyFusionWinner squash-merges the chosen variant, tears down the
// worktrees, stops remaining agents, and completes the session.
func (c *Controller) ApplyFusionWinner(ctx context.Context, sessionID, variant string, confirmed bool) (string, error) {
	s, err := c.session(sessionID)
	if err != nil {
		return "", err
	}
	if s.fusion == nil {
		return "", fmt.Errorf("session %s is not a fusion session", sessionID)
	}
	hash, err := s.fusion.ApplyWinner(ctx, variant, confirmed)
	if err != nil {
		return "", err
	}
	for _, agent := range s.hierarchy.AgentsLeavesFirst() {
		c.sup.Stop(ctx, agent.ID)
	}
	if state := s.machine.State(); state == hive.StateRunning || state == hive.StatePaused {
		if err := s.machine.Transition(hive.StateCompleted); err != nil {
			return hash, err
		}
	}
	c.persist(s)
	c.publishSession(s)
	c.stats.IncSessionCompleted()
	c.logger.Info("fusion winner applied", map[string]string{
		"session": sessionID,
		"variant": variant,
		"commit":  hash,
	})
	return hash, nil
}
