// Package controller implements the session orchestration engine: it
// launches agent fleets, routes coordination messages, persists
// hierarchy snapshots, and exposes the command surface the API layer
// calls into.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rdfitted/hive-manager/internal/cliprofile"
	"github.com/rdfitted/hive-manager/internal/config"
	"github.com/rdfitted/hive-manager/internal/coord"
	"github.com/rdfitted/hive-manager/internal/event"
	"github.com/rdfitted/hive-manager/internal/hive"
	"github.com/rdfitted/hive-manager/internal/logging"
	"github.com/rdfitted/hive-manager/internal/metrics"
	"github.com/rdfitted/hive-manager/internal/process"
	"github.com/rdfitted/hive-manager/internal/prompt"
	"github.com/rdfitted/hive-manager/internal/storage"
	"github.com/rdfitted/hive-manager/internal/supervisor"
	"github.com/rdfitted/hive-manager/internal/taskfile"
	"github.com/rdfitted/hive-manager/internal/watcher"
)

var ErrSessionExists = errors.New("session already exists")

// Options wires a Controller. Factory is swappable so tests run
// without real PTYs.
type Options struct {
	Settings config.Settings
	Registry *cliprofile.Registry
	Factory  supervisor.PtyFactory
	Bus      *event.Bus[event.Event]
	Logger   *logging.Logger
	Metrics  *metrics.Registry
}

// Controller owns every live session.
type Controller struct {
	ctx      context.Context
	settings config.Settings
	registry *cliprofile.Registry
	procs    *process.Registry
	sup      *supervisor.Supervisor
	bus      *event.Bus[event.Event]
	logger   *logging.Logger
	stats    *metrics.Registry

	mu       sync.Mutex
	sessions map[string]*Session
}

func New(ctx context.Context, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewLogger(logging.LevelInfo)
	}
	registry := opts.Registry
	if registry == nil {
		registry = cliprofile.DefaultRegistry()
	}
	stats := opts.Metrics
	if stats == nil {
		stats = metrics.Default
	}
	c := &Controller{
		ctx:      ctx,
		settings: opts.Settings,
		registry: registry,
		procs:    process.NewRegistry(),
		bus:      opts.Bus,
		logger:   logger.With(map[string]string{"component": "controller"}),
		stats:    stats,
		sessions: make(map[string]*Session),
	}
	c.sup = supervisor.New(supervisor.Options{
		Factory:  opts.Factory,
		Registry: c.procs,
		Bus:      opts.Bus,
		Logger:   logger,
		OnStatus: c.handleAgentStatus,
		OnExit:   c.handleAgentExit,
	})
	return c
}

// Bus exposes the event bus for API subscribers.
func (c *Controller) Bus() *event.Bus[event.Event] { return c.bus }

// Metrics exposes the engine counters for the status endpoint.
func (c *Controller) Metrics() *metrics.Registry { return c.stats }

// Supervisor exposes the agent supervisor for PTY passthrough.
func (c *Controller) Supervisor() *supervisor.Supervisor { return c.sup }

func (c *Controller) stateRoot(projectPath string) storage.Root {
	root := c.settings.State.Root
	if !filepath.IsAbs(root) {
		root = filepath.Join(projectPath, root)
	}
	return storage.NewRoot(root)
}

func (c *Controller) session(id string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", hive.ErrSessionNotFound, id)
	}
	return s, nil
}

// LaunchSpec configures launch_hive / launch_swarm / launch_solo.
type LaunchSpec struct {
	SessionID   string
	ProjectPath string
	Task        string
	Queen       hive.AgentSpec
	Workers     []hive.AgentSpec
	// Swarm only.
	PlannerCount int
	Planner      hive.AgentSpec
	// Planning starts a MasterPlanner instead of the fleet; the fleet
	// spawns after continue_after_planning.
	Planning bool
}

// LaunchHive starts a Queen plus workers session.
func (c *Controller) LaunchHive(ctx context.Context, spec LaunchSpec) (*Session, error) {
	return c.launch(ctx, KindHive, spec)
}

// LaunchSwarm starts a Queen, planners, and globally indexed workers.
func (c *Controller) LaunchSwarm(ctx context.Context, spec LaunchSpec) (*Session, error) {
	return c.launch(ctx, KindSwarm, spec)
}

// LaunchSolo starts a single Queen with no workers.
func (c *Controller) LaunchSolo(ctx context.Context, spec LaunchSpec) (*Session, error) {
	spec.Workers = nil
	spec.Planning = false
	return c.launch(ctx, KindSolo, spec)
}

func (c *Controller) launch(ctx context.Context, kind Kind, spec LaunchSpec) (*Session, error) {
	if err := storage.ValidateSessionID(spec.SessionID); err != nil {
		return nil, err
	}
	root := c.stateRoot(spec.ProjectPath)

	c.mu.Lock()
	if _, exists := c.sessions[spec.SessionID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, spec.SessionID)
	}
	c.mu.Unlock()
	if _, err := root.LoadSnapshot(spec.SessionID); err == nil {
		return nil, fmt.Errorf("%w: %s has a stored snapshot", ErrSessionExists, spec.SessionID)
	}

	if err := root.EnsureSessionDirs(spec.SessionID); err != nil {
		return nil, err
	}

	var (
		hierarchy *hive.Hierarchy
		err       error
		initial   hive.State
	)
	switch {
	case spec.Planning:
		hierarchy, err = hive.BuildPlanning(spec.SessionID, spec.Queen)
		initial = hive.StatePlanning
	case kind == KindSwarm:
		hierarchy, err = hive.BuildSwarm(spec.SessionID, spec.Queen, spec.PlannerCount, spec.Planner, spec.Workers)
		initial = hive.StateStarting
	default:
		hierarchy, err = hive.BuildHive(spec.SessionID, spec.Queen, spec.Workers)
		initial = hive.StateStarting
	}
	if err != nil {
		return nil, err
	}

	router, err := coord.OpenRouter(c.ctx, coord.RouterOptions{
		SessionID: spec.SessionID,
		LogPath:   root.CoordinationLogPath(spec.SessionID),
		Logger:    c.logger,
	})
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:          spec.SessionID,
		kind:        kind,
		projectPath: spec.ProjectPath,
		task:        spec.Task,
		root:        root,
		machine:     hive.NewMachine(initial),
		hierarchy:   hierarchy,
		router:      router,
		createdAt:   time.Now().UTC(),
	}
	if err := c.startWatcher(s); err != nil {
		router.Close()
		return nil, err
	}

	c.mu.Lock()
	c.sessions[spec.SessionID] = s
	c.mu.Unlock()

	if spec.Planning {
		if err := root.SavePendingConfig(spec.SessionID, storage.PendingConfig{
			Queen:   spec.Queen,
			Workers: spec.Workers,
			Prompt:  spec.Task,
		}); err != nil {
			c.teardown(s)
			return nil, err
		}
		if err := c.spawnPlanner(ctx, s); err != nil {
			c.teardown(s)
			return nil, err
		}
	} else {
		if err := c.spawnFleet(ctx, s); err != nil {
			c.teardown(s)
			return nil, err
		}
		if err := s.machine.Transition(hive.StateRunning); err != nil {
			return nil, err
		}
	}

	c.persist(s)
	c.publishSession(s)
	c.stats.IncSessionStarted()
	c.logger.Info("session launched", map[string]string{
		"session": s.id,
		"kind":    string(kind),
		"agents":  fmt.Sprintf("%d", s.hierarchy.Len()),
	})
	return s, nil
}

func (c *Controller) startWatcher(s *Session) error {
	w, err := watcher.New(watcher.Options{
		SessionID: s.id,
		TasksDir:  s.root.TasksDir(s.id),
		PlanPath:  s.root.PlanPath(s.id),
		Debounce:  c.settings.Sessions.WatchDebounce(),
		Logger:    c.logger,
		OnTask:    func(path string) { c.handleTaskChange(s, path) },
		OnPlan:    func(path string) { c.handlePlanChange(s, path) },
	})
	if err != nil {
		return err
	}
	s.watch = w
	return nil
}

// spawnFleet writes task files and spawns every agent already present
// in the hierarchy, queen first.
func (c *Controller) spawnFleet(ctx context.Context, s *Session) error {
	sessionDir := s.root.SessionDir(s.id)
	taskFiles := make(map[string]string)
	for _, agent := range s.hierarchy.Agents() {
		if agent.Role.Kind != hive.RoleWorker {
			continue
		}
		path := filepath.Join(s.root.TasksDir(s.id), fmt.Sprintf("worker-%d-task.md", agent.Role.Index))
		if err := taskfile.Write(path, fmt.Sprintf("Worker %d task", agent.Role.Index), s.task); err != nil {
			return err
		}
		taskFiles[agent.ID] = path
	}

	for _, agent := range s.hierarchy.Agents() {
		profile, err := c.registry.Get(agent.CLI)
		if err != nil {
			return err
		}
		in := prompt.Input{
			SessionID:       s.id,
			Task:            s.task,
			SessionDir:      sessionDir,
			Behavior:        profile.Behavior,
			WorkerTaskFiles: taskFiles,
			TaskFile:        taskFiles[agent.ID],
			PlanPath:        s.root.PlanPath(s.id),
		}
		var text string
		switch agent.Role.Kind {
		case hive.RoleQueen:
			text = prompt.Queen(in)
		case hive.RolePlanner:
			text = prompt.MasterPlanner(in)
		default:
			text = prompt.Worker(in)
		}
		if err := c.spawnAgent(ctx, s, agent, text, s.projectPath); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) spawnPlanner(ctx context.Context, s *Session) error {
	agents := s.hierarchy.Agents()
	if len(agents) == 0 {
		return errors.New("planning session has no agents")
	}
	planner := agents[0]
	profile, err := c.registry.Get(planner.CLI)
	if err != nil {
		return err
	}
	text := prompt.MasterPlanner(prompt.Input{
		SessionID: s.id,
		Task:      s.task,
		Behavior:  profile.Behavior,
		PlanPath:  s.root.PlanPath(s.id),
	})
	return c.spawnAgent(ctx, s, planner, text, s.projectPath)
}

// spawnAgent launches one agent. On failure the agent is recorded
// with Error status and the error propagates.
func (c *Controller) spawnAgent(ctx context.Context, s *Session, agent hive.Agent, promptText, dir string) error {
	profile, err := c.registry.Get(agent.CLI)
	if err != nil {
		return err
	}
	c.savePrompt(s, agent.ID, promptText)
	model := agent.Model
	var extraFlags []string
	if override, ok := c.settings.CLIs[agent.CLI]; ok {
		if model == "" {
			model = override.Model
		}
		extraFlags = override.ExtraFlags
	}
	started := time.Now()
	pid, err := c.sup.Spawn(ctx, supervisor.SpawnSpec{
		SessionID:     s.id,
		AgentID:       agent.ID,
		Profile:       profile,
		Model:         model,
		ExtraFlags:    extraFlags,
		Dir:           dir,
		InitialPrompt: promptText,
	})
	c.stats.RecordSpawn(agent.CLI, time.Since(started), err)
	if err != nil {
		s.hierarchy.SetStatus(agent.ID, hive.StatusErrorOf(err.Error()))
		return err
	}
	s.hierarchy.SetPID(agent.ID, pid)
	return nil
}

// savePrompt keeps the rendered role prompt next to the session state
// for later inspection. Failures are logged, not fatal.
func (c *Controller) savePrompt(s *Session, agentID, promptText string) {
	if promptText == "" {
		return
	}
	path := filepath.Join(s.root.PromptsDir(s.id), agentID+".md")
	if err := os.WriteFile(path, []byte(promptText), 0o644); err != nil {
		c.logger.Warn("prompt save failed", map[string]string{
			"session": s.id,
			"agent":   agentID,
			"error":   err.Error(),
		})
	}
}

func (c *Controller) persist(s *Session) {
	if err := s.root.SaveSnapshot(s.snapshot()); err != nil {
		c.logger.Error("snapshot save failed", map[string]string{
			"session": s.id,
			"error":   err.Error(),
		})
	}
}

func (c *Controller) publishSession(s *Session) {
	c.bus.Publish(event.NewSessionEvent(s.id, string(s.machine.State())))
}

// teardown unwinds a partially launched session.
func (c *Controller) teardown(s *Session) {
	for _, agent := range s.hierarchy.AgentsLeavesFirst() {
		c.sup.Stop(context.Background(), agent.ID)
	}
	if s.watch != nil {
		s.watch.Close()
	}
	s.router.Close()
	c.mu.Lock()
	delete(c.sessions, s.id)
	c.mu.Unlock()
}
