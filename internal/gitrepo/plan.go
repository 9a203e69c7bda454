package gitrepo

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/harrison/flowline/internal/codec"
	"github.com/harrison/flowline/internal/models"
)

// CreatePlanBranch creates plan/<session-name> from flow and writes an
// empty commit carrying encode(plan) as its first (and, at this point,
// only) commit. Fails with a ValidationError if the branch already exists.
// On any failure after branch creation, the branch is deleted and the prior
// checkout restored.
func (g *Gateway) CreatePlanBranch(ctx context.Context, plan models.Plan) (branch, sha string, err error) {
	branch = "plan/" + plan.SessionName
	if g.branchExists(ctx, branch) {
		return "", "", &models.ValidationError{Message: fmt.Sprintf("plan branch %s already exists", branch)}
	}

	plan.Branch = branch
	if plan.Version == 0 {
		plan.Version = 1
	}
	message := codec.EncodePlan(plan, false)

	created := false
	err = g.withMainCheckoutLock(ctx, func(prior string) error {
		if _, e := g.git(ctx, "checkout", "-b", branch, g.flowBranch); e != nil {
			return e
		}
		created = true
		if _, e := g.git(ctx, "commit", "--allow-empty", "-m", message); e != nil {
			return e
		}
		return nil
	})
	if err != nil {
		if created {
			g.deleteBranchBestEffort(ctx, branch)
		}
		return "", "", err
	}

	sha, err = g.revParse(ctx, branch)
	if err != nil {
		return "", "", err
	}
	return branch, sha, nil
}

// UpdatePlanBranch appends a new commit on branch carrying the full
// snapshot of plan — never a diff. plan.Version must already be set to the
// new version number by the caller; the Scheduler increments its in-memory
// plan's Version before each update.
func (g *Gateway) UpdatePlanBranch(ctx context.Context, branch string, plan models.Plan) (sha string, err error) {
	if !g.branchExists(ctx, branch) {
		return "", &models.ValidationError{Message: fmt.Sprintf("plan branch %s does not exist", branch)}
	}

	plan.Branch = branch
	message := codec.EncodePlan(plan, true)

	err = g.withMainCheckoutLock(ctx, func(prior string) error {
		if _, e := g.git(ctx, "checkout", branch); e != nil {
			return e
		}
		if _, e := g.git(ctx, "commit", "--allow-empty", "-m", message); e != nil {
			return e
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return g.revParse(ctx, branch)
}

// ReadPlan reads and decodes the latest commit on a plan branch.
func (g *Gateway) ReadPlan(ctx context.Context, branch string) (models.Plan, []models.ParseWarning, error) {
	out, err := g.git(ctx, "log", branch, "-1", "--format=%B")
	if err != nil {
		return models.Plan{}, nil, err
	}
	plan, warnings := codec.DecodePlan(out, branch)
	return plan, warnings, nil
}

// PlanVersionCount returns the number of commits on branch. Plans are
// versioned by counting commits on the plan branch.
func (g *Gateway) PlanVersionCount(ctx context.Context, branch string) (int, error) {
	out, err := g.git(ctx, "rev-list", "--count", branch)
	if err != nil {
		return 0, err
	}
	n, convErr := strconv.Atoi(strings.TrimSpace(out))
	if convErr != nil {
		return 0, &models.GitError{Args: []string{"rev-list", "--count", branch}, Err: convErr}
	}
	return n, nil
}

func (g *Gateway) revParse(ctx context.Context, ref string) (string, error) {
	out, err := g.git(ctx, "rev-parse", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (g *Gateway) deleteBranchBestEffort(ctx context.Context, branch string) {
	if _, err := g.git(ctx, "branch", "-D", branch); err != nil {
		g.log.Errorf("rollback: failed to delete branch %s: %v", branch, err)
	}
}
