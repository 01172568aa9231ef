// Package fusion runs competing implementation variants in isolated
// git worktrees and coordinates the judge that picks a winner.
package fusion

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rdfitted/hive-manager/internal/logging"
)

const worktreeRoot = ".hive-fusion"

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Slug normalizes a variant name for use in branch and directory
// names.
func Slug(name string) string {
	return unsafeChars.ReplaceAllString(strings.TrimSpace(name), "_")
}

// VariantWorkspace is one variant's isolated checkout.
type VariantWorkspace struct {
	Variant string
	Branch  string
	Path    string
}

// WorktreeManager creates and tears down the per-variant branches and
// worktrees of a fusion session. All git commands run against the
// repository at repoRoot.
type WorktreeManager struct {
	repoRoot string
	logger   *logging.Logger
}

func NewWorktreeManager(repoRoot string, logger *logging.Logger) *WorktreeManager {
	return &WorktreeManager{
		repoRoot: repoRoot,
		logger:   logger.With(map[string]string{"component": "fusion-worktree"}),
	}
}

func baseBranch(sessionID string) string {
	return fmt.Sprintf("fusion/%s/base", sessionID)
}

func variantBranch(sessionID, slug string) string {
	return fmt.Sprintf("fusion/%s/%s", sessionID, slug)
}

// Prepare records the session's base commit as fusion/{session}/base
// and creates one branch plus worktree per variant. On any failure it
// unwinds what it already created.
func (m *WorktreeManager) Prepare(ctx context.Context, sessionID string, variants []string) ([]VariantWorkspace, error) {
	head, err := m.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("rev-parse HEAD: %w", err)
	}
	head = strings.TrimSpace(head)

	if _, err := m.git(ctx, "branch", baseBranch(sessionID), head); err != nil {
		return nil, fmt.Errorf("create base branch: %w", err)
	}

	sessionDir := filepath.Join(m.repoRoot, worktreeRoot, sessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		m.git(ctx, "branch", "-D", baseBranch(sessionID))
		return nil, fmt.Errorf("create worktree dir: %w", err)
	}

	workspaces := make([]VariantWorkspace, 0, len(variants))
	for _, variant := range variants {
		slug := Slug(variant)
		branch := variantBranch(sessionID, slug)
		path := filepath.Join(sessionDir, "variant-"+slug)

		if _, err := m.git(ctx, "branch", branch, head); err != nil {
			m.unwind(ctx, sessionID, workspaces)
			return nil, fmt.Errorf("create branch %s: %w", branch, err)
		}
		if _, err := m.git(ctx, "worktree", "add", path, branch); err != nil {
			m.git(ctx, "branch", "-D", branch)
			m.unwind(ctx, sessionID, workspaces)
			return nil, fmt.Errorf("worktree add %s: %w", path, err)
		}
		workspaces = append(workspaces, VariantWorkspace{
			Variant: variant,
			Branch:  branch,
			Path:    path,
		})
		m.logger.Info("variant worktree created", map[string]string{
			"session": sessionID,
			"variant": variant,
			"path":    path,
		})
	}
	return workspaces, nil
}

// CommitVariant stages and commits everything in a variant worktree
// so the squash merge sees the variant's full output. A clean tree is
// not an error.
func (m *WorktreeManager) CommitVariant(ctx context.Context, ws VariantWorkspace, message string) (bool, error) {
	status, err := m.git(ctx, "-C", ws.Path, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("status in %s: %w", ws.Path, err)
	}
	if strings.TrimSpace(status) == "" {
		return false, nil
	}
	if _, err := m.git(ctx, "-C", ws.Path, "add", "-A"); err != nil {
		return false, fmt.Errorf("stage variant %s: %w", ws.Variant, err)
	}
	if _, err := m.git(ctx, "-C", ws.Path, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("commit variant %s: %w", ws.Variant, err)
	}
	return true, nil
}

// SquashMergeWinner merges the winning variant branch into the main
// checkout with a single commit and returns that commit's hash.
func (m *WorktreeManager) SquashMergeWinner(ctx context.Context, ws VariantWorkspace, message string) (string, error) {
	if _, err := m.git(ctx, "merge", "--squash", ws.Branch); err != nil {
		return "", fmt.Errorf("squash-merge %s: %w", ws.Branch, err)
	}
	if message == "" {
		message = "Apply fusion winner " + ws.Variant
	}
	if _, err := m.git(ctx, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("commit winner %s: %w", ws.Variant, err)
	}
	hash, err := m.git(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(hash), nil
}

// Diff returns the winning candidate's diff against the session base.
func (m *WorktreeManager) Diff(ctx context.Context, sessionID string, ws VariantWorkspace) (string, error) {
	return m.git(ctx, "diff", baseBranch(sessionID)+"..."+ws.Branch)
}

// Cleanup removes every variant worktree and branch of a session plus
// the base branch. Failures are logged and cleanup continues; git
// worktree prune sweeps up whatever was removed by hand.
func (m *WorktreeManager) Cleanup(ctx context.Context, sessionID string, workspaces []VariantWorkspace) {
	m.unwind(ctx, sessionID, workspaces)
	m.git(ctx, "branch", "-D", baseBranch(sessionID))
	os.RemoveAll(filepath.Join(m.repoRoot, worktreeRoot, sessionID))
	m.git(ctx, "worktree", "prune")
}

func (m *WorktreeManager) unwind(ctx context.Context, sessionID string, workspaces []VariantWorkspace) {
	for _, ws := range workspaces {
		if _, err := m.git(ctx, "worktree", "remove", "--force", ws.Path); err != nil {
			m.logger.Warn("worktree remove failed", map[string]string{
				"session": sessionID,
				"path":    ws.Path,
				"error":   err.Error(),
			})
			os.RemoveAll(ws.Path)
		}
		if _, err := m.git(ctx, "branch", "-D", ws.Branch); err != nil {
			m.logger.Warn("branch delete failed", map[string]string{
				"session": sessionID,
				"branch":  ws.Branch,
				"error":   err.Error(),
			})
		}
	}
}

func (m *WorktreeManager) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}
