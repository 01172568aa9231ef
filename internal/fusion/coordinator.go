package fusion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rdfitted/hive-manager/internal/event"
	"github.com/rdfitted/hive-manager/internal/hive"
	"github.com/rdfitted/hive-manager/internal/logging"
)

var (
	ErrUnknownVariant     = errors.New("unknown fusion variant")
	ErrEvaluationNotReady = errors.New("fusion evaluation not ready")
	ErrWinnerApplied      = errors.New("fusion winner already applied")
)

// Coordinator tracks variant completion for one fusion session and
// owns the winner merge. Evaluation becomes ready exactly once, when
// the last variant completes.
type Coordinator struct {
	sessionID string
	manager   *WorktreeManager
	bus       *event.Bus[event.Event]
	logger    *logging.Logger

	mu         sync.Mutex
	workspaces map[string]VariantWorkspace
	order      []string
	completed  map[string]bool
	ready      bool
	applied    bool
}

func NewCoordinator(sessionID string, manager *WorktreeManager, workspaces []VariantWorkspace, bus *event.Bus[event.Event], logger *logging.Logger) *Coordinator {
	c := &Coordinator{
		sessionID:  sessionID,
		manager:    manager,
		bus:        bus,
		logger:     logger.With(map[string]string{"session": sessionID, "component": "fusion"}),
		workspaces: make(map[string]VariantWorkspace, len(workspaces)),
		completed:  make(map[string]bool, len(workspaces)),
	}
	for _, ws := range workspaces {
		c.workspaces[ws.Variant] = ws
		c.order = append(c.order, ws.Variant)
	}
	return c
}

// Workspace returns the checkout of one variant.
func (c *Coordinator) Workspace(variant string) (VariantWorkspace, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ws, ok := c.workspaces[variant]
	if !ok {
		return VariantWorkspace{}, fmt.Errorf("%w: %s", ErrUnknownVariant, variant)
	}
	return ws, nil
}

// Variants returns the variant names in launch order.
func (c *Coordinator) Variants() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}

// MarkCompleted records one variant as done. Repeat completions are
// ignored. The returned flag is true on the call that completed the
// final variant, which is the caller's cue to spawn the judge.
func (c *Coordinator) MarkCompleted(variant string) (bool, error) {
	c.mu.Lock()
	if _, ok := c.workspaces[variant]; !ok {
		c.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownVariant, variant)
	}
	if c.completed[variant] {
		c.mu.Unlock()
		return false, nil
	}
	c.completed[variant] = true
	becameReady := !c.ready && len(c.completed) == len(c.workspaces)
	if becameReady {
		c.ready = true
	}
	c.mu.Unlock()

	c.logger.Info("fusion variant completed", map[string]string{"variant": variant})
	c.bus.Publish(event.NewFusionVariantCompletedEvent(c.sessionID, variant))
	if becameReady {
		c.logger.Info("all fusion variants completed", nil)
		c.bus.Publish(event.NewJudgeEvaluationReadyEvent(c.sessionID))
	}
	return becameReady, nil
}

// EvaluationReady reports whether every variant has completed.
func (c *Coordinator) EvaluationReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Completed reports whether one variant has finished.
func (c *Coordinator) Completed(variant string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed[variant]
}

// ApplyWinner commits the winning variant's worktree, squash-merges
// its branch into the main checkout, and tears down every variant
// workspace. The confirmed flag must be set explicitly; the merge
// rewrites the user's working tree.
func (c *Coordinator) ApplyWinner(ctx context.Context, variant string, confirmed bool) (string, error) {
	if !confirmed {
		return "", hive.ErrNotConfirmed
	}

	c.mu.Lock()
	ws, ok := c.workspaces[variant]
	switch {
	case !ok:
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownVariant, variant)
	case !c.ready:
		c.mu.Unlock()
		return "", ErrEvaluationNotReady
	case c.applied:
		c.mu.Unlock()
		return "", ErrWinnerApplied
	}
	c.applied = true
	workspaces := make([]VariantWorkspace, 0, len(c.order))
	for _, name := range c.order {
		workspaces = append(workspaces, c.workspaces[name])
	}
	c.mu.Unlock()

	commitMsg := fmt.Sprintf("Variant %s work for session %s", variant, c.sessionID)
	if _, err := c.manager.CommitVariant(ctx, ws, commitMsg); err != nil {
		c.mu.Lock()
		c.applied = false
		c.mu.Unlock()
		return "", err
	}
	hash, err := c.manager.SquashMergeWinner(ctx, ws, fmt.Sprintf("Apply fusion winner %s (session %s)", variant, c.sessionID))
	if err != nil {
		c.mu.Lock()
		c.applied = false
		c.mu.Unlock()
		return "", err
	}
	c.manager.Cleanup(ctx, c.sessionID, workspaces)
	c.logger.Info("fusion winner applied", map[string]string{
		"variant": variant,
		"commit":  hash,
	})
	return hash, nil
}
