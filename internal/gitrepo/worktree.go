package gitrepo

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harrison/flowline/internal/models"
)

// worktreePath returns the deterministic path for a worker's worktree.
func (g *Gateway) worktreePath(workerID int) string {
	return filepath.Join(g.repoPath, g.worktreeDir, fmt.Sprintf("worker-%d", workerID))
}

// CreateWorktree attaches .worktrees/worker-<id> as a working directory
// bound to taskBranch. Creation is idempotent: a pre-existing worktree at
// that path is force-removed first. Worktree creation touches only git's
// worktree metadata, not the main checkout's HEAD, so it does not need
// withMainCheckoutLock — but it still takes the Gateway's mutex so two
// workers can't race on the same slot path.
func (g *Gateway) CreateWorktree(ctx context.Context, workerID int, taskBranch string) (string, error) {
	path := g.worktreePath(workerID)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := os.Stat(path); err == nil {
		if _, rerr := g.git(ctx, "worktree", "remove", "--force", path); rerr != nil {
			g.log.Warnf("pre-existing worktree at %s could not be removed cleanly, pruning: %v", path, rerr)
			if _, perr := g.git(ctx, "worktree", "prune"); perr != nil {
				return "", perr
			}
			_ = os.RemoveAll(path)
		}
	}

	if _, err := g.git(ctx, "worktree", "add", "--force", path, taskBranch); err != nil {
		return "", err
	}
	return path, nil
}

// RemoveWorktree force-removes worker id's worktree. An absent worktree is
// a success, not an error.
func (g *Gateway) RemoveWorktree(ctx context.Context, workerID int) error {
	path := g.worktreePath(workerID)

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	if _, err := g.git(ctx, "worktree", "remove", "--force", path); err != nil {
		g.log.Warnf("worktree remove for %s failed, falling back to rm + prune: %v", path, err)
		if rerr := os.RemoveAll(path); rerr != nil {
			return &models.GitError{Args: []string{"worktree", "remove", path}, Err: rerr}
		}
		if _, perr := g.git(ctx, "worktree", "prune"); perr != nil {
			return perr
		}
	}
	return nil
}

type worktreeEntry struct {
	path   string
	branch string
}

// listWorktrees parses `git worktree list --porcelain`.
func (g *Gateway) listWorktrees(ctx context.Context) ([]worktreeEntry, error) {
	out, err := g.git(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var entries []worktreeEntry
	var cur worktreeEntry
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			if cur.path != "" {
				entries = append(entries, cur)
			}
			cur = worktreeEntry{path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch "):
			cur.branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "":
			if cur.path != "" {
				entries = append(entries, cur)
				cur = worktreeEntry{}
			}
		}
	}
	if cur.path != "" {
		entries = append(entries, cur)
	}
	return entries, nil
}

// CleanupMergedWorktrees removes any worktree under the Gateway's worktree
// directory whose bound branch is an ancestor of targetRef, and prunes
// metadata for worktree directories that have already vanished from disk.
// MergeTaskBranch calls this automatically immediately after every
// successful merge into flow, rather than on a separate schedule.
func (g *Gateway) CleanupMergedWorktrees(ctx context.Context, targetRef string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	entries, err := g.listWorktrees(ctx)
	if err != nil {
		return err
	}

	prefix := filepath.Join(g.repoPath, g.worktreeDir)
	removedAny := false
	for _, e := range entries {
		if e.branch == "" || !strings.HasPrefix(e.path, prefix) {
			continue
		}
		if _, err := os.Stat(e.path); os.IsNotExist(err) {
			removedAny = true
			continue
		}
		if _, err := g.git(ctx, "merge-base", "--is-ancestor", e.branch, targetRef); err != nil {
			continue // not yet merged, or branch comparison failed; leave it
		}
		if _, err := g.git(ctx, "worktree", "remove", "--force", e.path); err != nil {
			g.log.Warnf("cleanup: failed to remove merged worktree %s: %v", e.path, err)
			continue
		}
		removedAny = true
	}

	if removedAny {
		if _, err := g.git(ctx, "worktree", "prune"); err != nil {
			return err
		}
	}
	return nil
}
