package gitrepo

import (
	"context"
	"fmt"

	"github.com/harrison/flowline/internal/codec"
	"github.com/harrison/flowline/internal/models"
)

// MergeTaskBranch merges taskBranch into flow and records a "## Provides"
// section on the merge commit listing the task's declared capabilities.
// Cleanup of the now-merged worktree happens automatically on success.
func (g *Gateway) MergeTaskBranch(ctx context.Context, taskBranch string, provides []string) (sha string, err error) {
	if !g.branchExists(ctx, taskBranch) {
		return "", &models.ValidationError{Message: fmt.Sprintf("task branch %s does not exist", taskBranch)}
	}

	message := fmt.Sprintf("Merge %s into %s\n\n%s", taskBranch, g.flowBranch, codec.EncodeProvidesSection(provides))

	err = g.withMainCheckoutLock(ctx, func(prior string) error {
		if _, e := g.git(ctx, "checkout", g.flowBranch); e != nil {
			return e
		}
		if _, e := g.git(ctx, "merge", "--no-ff", "-m", message, taskBranch); e != nil {
			return e
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	sha, err = g.revParse(ctx, g.flowBranch)
	if err != nil {
		return "", err
	}

	if cerr := g.CleanupMergedWorktrees(ctx, g.flowBranch); cerr != nil {
		g.log.Errorf("merge of %s succeeded but worktree cleanup failed: %v", taskBranch, cerr)
	}

	return sha, nil
}

// GetProvides scans every merge commit reachable from flow and returns the
// union of their "## Provides" bullet items, in first-seen order.
func (g *Gateway) GetProvides(ctx context.Context) ([]string, error) {
	out, err := g.git(ctx, "log", g.flowBranch, "--merges", "--reverse", "--format=%B\x1e")
	if err != nil {
		return nil, err
	}

	frontier := models.NewProvidesFrontier()
	for _, commit := range splitRecords(out) {
		for _, capability := range codec.ExtractProvides(commit) {
			frontier.Add(capability)
		}
	}
	return frontier.Snapshot(), nil
}
