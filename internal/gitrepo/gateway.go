package gitrepo

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/harrison/flowline/internal/config"
	"github.com/harrison/flowline/internal/filelock"
	"github.com/harrison/flowline/internal/logger"
	"github.com/harrison/flowline/internal/models"
)

// Gateway is the Repository Gateway. It is constructed once per session and
// passed down explicitly, not accessed through a global.
type Gateway struct {
	repoPath        string
	worktreeDir     string
	instructionsDir string
	flowBranch      string
	runner          CommandRunner
	timeouts        config.TimeoutsConfig
	log             logger.Logger

	mu   sync.Mutex
	lock *filelock.FileLock
}

// New constructs a Gateway rooted at cfg.RepoPath. runner is typically
// gitrepo.ExecRunner{} in production and a fakeRunner in tests.
func New(cfg *config.Config, runner CommandRunner, log logger.Logger) *Gateway {
	if log == nil {
		log = logger.Discard
	}
	lockPath := filepath.Join(cfg.RepoPath, ".flowline", "repo.lock")
	_ = os.MkdirAll(filepath.Dir(lockPath), 0755)
	return &Gateway{
		repoPath:        cfg.RepoPath,
		worktreeDir:     cfg.WorktreeDir,
		instructionsDir: cfg.InstructionsDir,
		flowBranch:      "flow",
		runner:          runner,
		timeouts:        cfg.Timeouts,
		log:             log,
		lock:            filelock.New(lockPath),
	}
}

// git runs a git subcommand in the main working copy and wraps any failure
// as a models.GitError carrying the args for diagnosis. Each call is bounded
// by the Read timeout, or the HistoryScan timeout for history walks.
func (g *Gateway) git(ctx context.Context, args ...string) (string, error) {
	timeout := g.timeouts.Read
	if len(args) > 0 && (args[0] == "log" || args[0] == "rev-list") {
		timeout = g.timeouts.HistoryScan
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	out, err := g.runner.Run(ctx, g.repoPath, args...)
	if err != nil {
		return out, &models.GitError{Args: args, Err: err}
	}
	return out, nil
}

// gitIn runs a git subcommand inside an arbitrary working directory (a
// worktree), which does not require the main-checkout lock since each
// worktree is its own checkout.
func (g *Gateway) gitIn(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := g.runner.Run(ctx, dir, args...)
	if err != nil {
		return out, &models.GitError{Args: args, Err: err}
	}
	return out, nil
}

// branchExists reports whether a local branch ref exists.
func (g *Gateway) branchExists(ctx context.Context, branch string) bool {
	_, err := g.git(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// BranchExists is the exported form of branchExists, used by the Worker
// Pool to validate a launch's task_branch precondition before starting a
// session.
func (g *Gateway) BranchExists(ctx context.Context, branch string) bool {
	return g.branchExists(ctx, branch)
}

// currentBranch returns the name of the currently checked-out branch in the
// main working copy.
func (g *Gateway) currentBranch(ctx context.Context) (string, error) {
	out, err := g.git(ctx, "branch", "--show-current")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// withMainCheckoutLock serializes any operation that temporarily moves the
// main checkout's HEAD: it acquires the in-process mutex and the
// cross-process flock, records the currently checked-out branch, runs fn,
// and restores the prior branch before returning — regardless of whether fn
// succeeded. Every operation built on it is either fully applied (branch
// created, commit exists, prior HEAD restored) or fully undone.
func (g *Gateway) withMainCheckoutLock(ctx context.Context, fn func(priorBranch string) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.lock.Lock(); err != nil {
		return &models.GitError{Args: []string{"flock"}, Err: err}
	}
	defer g.lock.Unlock()

	prior, err := g.currentBranch(ctx)
	if err != nil {
		return err
	}

	fnErr := fn(prior)

	if cur, cerr := g.currentBranch(ctx); cerr == nil && cur != prior {
		if _, rerr := g.git(ctx, "checkout", prior); rerr != nil {
			g.log.Errorf("failed to restore checkout to %s after operation: %v", prior, rerr)
			if fnErr == nil {
				fnErr = rerr
			}
		}
	}

	return fnErr
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
