// Package models defines the value types shared across flowline: the plan,
// its tasks, and the decoded shapes of commits written by workers.
package models

import (
	"fmt"
	"time"
)

// TaskStatus enumerates the lifecycle states of a task within a plan
// snapshot. Status lives in the plan, never on the task branch itself.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Priority enumerates dispatch priority, highest first.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank returns a numeric ordering for priority comparisons, higher first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Task is one node of a plan's dependency DAG.
type Task struct {
	ID             string
	Description    string
	Status         TaskStatus
	DependsOn      []string // task ids, authoritative ordering channel
	Preconditions  []string // provides-frontier strings, secondary gate
	Provides       []string // capabilities this task contributes once merged
	KeyFiles       []string
	Priority       Priority
	EstimatedTime  string
	SessionName    string
	PlanBranch     string
	PlanVersion    int
}

// Clone returns a deep copy so callers can mutate a Task without aliasing
// the slices of the original (plan snapshots are immutable once written).
func (t Task) Clone() Task {
	clone := t
	clone.DependsOn = append([]string(nil), t.DependsOn...)
	clone.Preconditions = append([]string(nil), t.Preconditions...)
	clone.Provides = append([]string(nil), t.Provides...)
	clone.KeyFiles = append([]string(nil), t.KeyFiles...)
	return clone
}

// BranchName returns the deterministic task branch name task/<id>-<slug>.
func (t Task) BranchName() string {
	return fmt.Sprintf("task/%s-%s", t.ID, Slugify(t.Description))
}

// Slugify lowercases, replaces whitespace with hyphens, and truncates to a
// short branch-safe token (lowercase, spaces to hyphens, first 30
// characters).
func Slugify(s string) string {
	const maxLen = 30
	out := make([]rune, 0, len(s))
	lastHyphen := false
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
			lastHyphen = false
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			out = append(out, r)
			lastHyphen = false
		default:
			if !lastHyphen && len(out) > 0 {
				out = append(out, '-')
				lastHyphen = true
			}
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	if len(out) > maxLen {
		out = out[:maxLen]
	}
	if len(out) == 0 {
		return "task"
	}
	return string(out)
}

// RawSection is a `## Header` block a codec decoder didn't recognize,
// preserved verbatim so a later re-encode of the same logical entity
// reproduces it rather than silently dropping it.
type RawSection struct {
	Header string
	Body   string
}

// TaskInit is the decoded shape of a task branch's first ("initialize")
// commit: static metadata that never changes for the life of the branch.
type TaskInit struct {
	ID          string
	Description string
	DependsOn   []string
	Enables     []string
	Provides    []string
	Preconditions []string
	Files       []string
	SessionName string
	SessionGoal string
	PlanBranch  string
	PlanVersion int

	UnknownSections []RawSection
}

// WorkerCommitKind classifies a progress commit on a task branch.
type WorkerCommitKind string

const (
	CommitInitialDesign WorkerCommitKind = "initial_design"
	CommitImplementation WorkerCommitKind = "implementation"
	CommitUnknown        WorkerCommitKind = "unknown"
)

// Step carries the (k, total) pair encoded in a worker commit title, e.g.
// "(3/7)". Present is false when the title carried no step annotation.
type Step struct {
	K, Total int
	Present  bool
}

// Design captures the `## Design` section of a worker commit.
type Design struct {
	Overview  string
	Decisions []string
	Interfaces []string
}

// TODOItem is one numbered line of a worker commit's `## TODO List`.
type TODOItem struct {
	N           int
	Description string
	Done        bool
}

// Progress captures the `## Progress` section of a worker commit.
type Progress struct {
	Status TaskStatus
	Done   int
	Total  int
}

// WorkerCommit is the fully decoded shape of a progress commit authored by
// a worker on its task branch.
type WorkerCommit struct {
	TaskID         string
	Kind           WorkerCommitKind
	Step           Step
	Implementation string
	Design         Design
	TODOs          []TODOItem
	Progress       Progress

	UnknownSections []RawSection
}

// ExecutionTime parses EstimatedTime into a duration when possible. Free
// text that doesn't parse returns zero and no error — estimated time is
// advisory, never load-bearing for scheduling.
func (t Task) ExecutionTime() time.Duration {
	d, err := time.ParseDuration(t.EstimatedTime)
	if err != nil {
		return 0
	}
	return d
}
