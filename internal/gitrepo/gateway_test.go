package gitrepo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/flowline/internal/config"
	"github.com/harrison/flowline/internal/models"
)

func newTestGateway(t *testing.T, runner *fakeRunner) *Gateway {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.RepoPath = t.TempDir()
	return New(cfg, runner, nil)
}

func TestCreatePlanBranchRejectsExisting(t *testing.T) {
	runner := newFakeRunner()
	runner.on("show-ref", func(args []string) (string, error) { return "", nil }) // branch exists
	g := newTestGateway(t, runner)

	_, _, err := g.CreatePlanBranch(context.Background(), models.Plan{SessionName: "s1"})
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
}

func TestCreatePlanBranchCommitsAndRestoresCheckout(t *testing.T) {
	runner := newFakeRunner()
	runner.branch = "flow"
	runner.on("show-ref", func(args []string) (string, error) { return "", assertErr }) // branch absent
	runner.on("rev-parse", func(args []string) (string, error) { return "deadbeef\n", nil })
	g := newTestGateway(t, runner)

	branch, sha, err := g.CreatePlanBranch(context.Background(), models.Plan{SessionName: "s1", Goal: "do it"})
	require.NoError(t, err)
	assert.Equal(t, "plan/s1", branch)
	assert.Equal(t, "deadbeef", sha)
	assert.Equal(t, "flow", runner.branch, "checkout must be restored to the prior branch")

	commits := runner.callsFor("commit")
	require.Len(t, commits, 1)
	assert.Contains(t, joinArgs(commits[0]), "Initialize execution plan v1")
}

func TestCreateTaskBranchRejectsExisting(t *testing.T) {
	runner := newFakeRunner()
	runner.on("show-ref", func(args []string) (string, error) { return "", nil })
	g := newTestGateway(t, runner)

	task := models.Task{ID: "001", Description: "build thing"}
	_, _, err := g.CreateTaskBranch(context.Background(), task, models.TaskInit{ID: "001"})
	require.Error(t, err)
	assert.True(t, models.IsValidationError(err))
}

func TestCreateTaskBranchDeletesBranchOnCommitFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.on("show-ref", func(args []string) (string, error) { return "", assertErr })
	runner.on("commit", func(args []string) (string, error) { return "", assertErr })
	var deletedBranch string
	runner.on("branch", func(args []string) (string, error) {
		if len(args) >= 2 && args[1] == "--show-current" {
			return runner.branch, nil
		}
		if len(args) >= 2 && args[1] == "-D" {
			deletedBranch = args[2]
		}
		return "", nil
	})
	g := newTestGateway(t, runner)

	task := models.Task{ID: "002", Description: "a broken task"}
	_, _, err := g.CreateTaskBranch(context.Background(), task, models.TaskInit{ID: "002"})
	require.Error(t, err)
	assert.Equal(t, "task/002-a-broken-task", deletedBranch)
}

func TestMergeTaskBranchRecordsProvidesAndCleansUpWorktree(t *testing.T) {
	runner := newFakeRunner()
	runner.on("show-ref", func(args []string) (string, error) { return "", nil }) // branch exists
	runner.on("rev-parse", func(args []string) (string, error) { return "cafebabe\n", nil })
	runner.on("worktree", func(args []string) (string, error) { return "", nil })
	g := newTestGateway(t, runner)

	sha, err := g.MergeTaskBranch(context.Background(), "task/001-build-thing", []string{"auth.login"})
	require.NoError(t, err)
	assert.Equal(t, "cafebabe", sha)

	merges := runner.callsFor("merge")
	require.Len(t, merges, 1)
	assert.Contains(t, joinArgs(merges[0]), "## Provides")
}

func TestGetProvidesDedupesAcrossMergeCommits(t *testing.T) {
	runner := newFakeRunner()
	record := "Merge task/001 into flow\n\n## Provides\n- auth.login\n- auth.logout\n\x1e" +
		"Merge task/002 into flow\n\n## Provides\n- auth.login\n- billing.charge\n\x1e"
	runner.on("log", func(args []string) (string, error) { return record, nil })
	g := newTestGateway(t, runner)

	provides, err := g.GetProvides(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"auth.login", "auth.logout", "billing.charge"}, provides)
}

func TestRemoveWorktreeAbsentIsSuccess(t *testing.T) {
	runner := newFakeRunner()
	g := newTestGateway(t, runner)

	err := g.RemoveWorktree(context.Background(), 3)
	require.NoError(t, err)
}

var assertErr = fakeGitError{}

type fakeGitError struct{}

func (fakeGitError) Error() string { return "exit status 1" }
