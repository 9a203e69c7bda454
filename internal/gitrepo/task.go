package gitrepo

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/harrison/flowline/internal/codec"
	"github.com/harrison/flowline/internal/models"
)

// instructionsTreePath is the fixed, known path under a task branch's tree
// that the copied agent-instruction files land at.
const instructionsTreePath = "agent-instructions"

// TaskInstructionsFile is the fixed path, relative to a worktree root, of
// the per-task instructions file CreateTaskBranch generates alongside the
// operator-supplied instruction files. The Worker Pool validates its
// presence before launch; the Scheduler passes this path as
// workerpool.LaunchParams.InstructionsFile.
const TaskInstructionsFile = instructionsTreePath + "/TASK.md"

// CreateTaskBranch creates task/<id>-<slug> from flow. Its first commit
// carries encode(init) and also copies the fixed set of agent-instruction
// files from the Gateway's configured instructions directory into a known
// path under the tree, included in the same commit — the Worker Pool later
// validates that this file is present and readable before launching an
// agent against the resulting worktree.
func (g *Gateway) CreateTaskBranch(ctx context.Context, task models.Task, init models.TaskInit) (branch, sha string, err error) {
	branch = task.BranchName()
	if g.branchExists(ctx, branch) {
		return "", "", &models.ValidationError{Message: fmt.Sprintf("task branch %s already exists", branch)}
	}

	message := codec.EncodeTaskInit(init, branch)

	created := false
	err = g.withMainCheckoutLock(ctx, func(prior string) error {
		if _, e := g.git(ctx, "checkout", "-b", branch, g.flowBranch); e != nil {
			return e
		}
		created = true

		if e := g.copyInstructionFiles(); e != nil {
			return e
		}
		if e := g.writeTaskInstructions(task, init); e != nil {
			return e
		}
		if _, e := g.git(ctx, "add", instructionsTreePath); e != nil {
			return e
		}
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

// copyInstructionFiles copies every regular file under the Gateway's
// instructions directory into instructionsTreePath inside the main working
// copy. A missing (not-yet-configured) instructions directory is not an
// error — an empty tree path is still committed.
func (g *Gateway) copyInstructionFiles() error {
	dest := filepath.Join(g.repoPath, instructionsTreePath)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return &models.GitError{Args: []string{"mkdir", dest}, Err: err}
	}

	entries, err := os.ReadDir(g.instructionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return &models.GitError{Args: []string{"readdir", g.instructionsDir}, Err: err}
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(g.instructionsDir, entry.Name()), filepath.Join(dest, entry.Name())); err != nil {
			return &models.GitError{Args: []string{"copy", entry.Name()}, Err: err}
		}
	}
	return nil
}

// writeTaskInstructions renders the task-specific prompt the agent reads
// from disk at TaskInstructionsFile, independent of whatever fixed files
// live in the Gateway's configured instructions directory.
func (g *Gateway) writeTaskInstructions(task models.Task, init models.TaskInit) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task %s\n\n%s\n", task.ID, task.Description)
	if len(init.Files) > 0 {
		b.WriteString("\n## Key files\n")
		for _, f := range init.Files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if len(init.Provides) > 0 {
		b.WriteString("\n## Provides on completion\n")
		for _, p := range init.Provides {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	dest := filepath.Join(g.repoPath, TaskInstructionsFile)
	if err := os.WriteFile(dest, []byte(b.String()), 0644); err != nil {
		return &models.GitError{Args: []string{"write", dest}, Err: err}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// ReadTaskInit reads and decodes the first commit unique to branch (i.e.
// the oldest commit not already reachable from flow at branch-creation
// time), which carries the task's static initialization metadata.
func (g *Gateway) ReadTaskInit(ctx context.Context, branch string) (models.TaskInit, error) {
	out, err := g.git(ctx, "log", g.flowBranch+".."+branch, "--reverse", "--format=%B\x1e")
	if err != nil {
		return models.TaskInit{}, err
	}
	commits := splitRecords(out)
	if len(commits) == 0 {
		return models.TaskInit{}, &models.ValidationError{Message: fmt.Sprintf("task branch %s has no commits beyond flow", branch)}
	}
	return codec.DecodeTaskInit(commits[0]), nil
}

// ReadLatestWorkerCommit reads and decodes the most recent commit on a task
// branch, i.e. the worker's current progress report.
func (g *Gateway) ReadLatestWorkerCommit(ctx context.Context, branch string) (models.WorkerCommit, []models.ParseWarning, error) {
	out, err := g.git(ctx, "log", branch, "-1", "--format=%B")
	if err != nil {
		return models.WorkerCommit{}, nil, err
	}
	wc, warnings := codec.DecodeWorkerCommit(out)
	return wc, warnings, nil
}

func splitRecords(s string) []string {
	parts := strings.Split(s, "\x1e")
	var out []string
	for _, p := range parts {
		p = strings.TrimRight(p, "\n")
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
