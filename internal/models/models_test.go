package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func planWithTasks(tasks ...Task) Plan {
	return Plan{Tasks: tasks}
}

func TestHasCyclicDependenciesDetectsDirectCycle(t *testing.T) {
	p := planWithTasks(
		Task{ID: "A", DependsOn: []string{"B"}},
		Task{ID: "B", DependsOn: []string{"A"}},
	)
	assert.True(t, p.HasCyclicDependencies())
}

func TestHasCyclicDependenciesAcceptsDAG(t *testing.T) {
	p := planWithTasks(
		Task{ID: "A"},
		Task{ID: "B", DependsOn: []string{"A"}},
		Task{ID: "C", DependsOn: []string{"A"}},
		Task{ID: "D", DependsOn: []string{"B", "C"}},
	)
	assert.False(t, p.HasCyclicDependencies())
}

func TestHasCyclicDependenciesIgnoresDanglingDependency(t *testing.T) {
	p := planWithTasks(
		Task{ID: "A", DependsOn: []string{"nonexistent"}},
	)
	assert.False(t, p.HasCyclicDependencies())
}

func TestHasCyclicDependenciesDetectsLongerCycle(t *testing.T) {
	p := planWithTasks(
		Task{ID: "A", DependsOn: []string{"C"}},
		Task{ID: "B", DependsOn: []string{"A"}},
		Task{ID: "C", DependsOn: []string{"B"}},
	)
	assert.True(t, p.HasCyclicDependencies())
}

func TestReadySetOnlyPendingWithSatisfiedDependencies(t *testing.T) {
	p := planWithTasks(
		Task{ID: "T1", Status: StatusCompleted},
		Task{ID: "T2", Status: StatusPending, DependsOn: []string{"T1"}},
		Task{ID: "T3", Status: StatusPending, DependsOn: []string{"T2"}},
		Task{ID: "T4", Status: StatusInProgress},
	)
	completed := map[string]bool{"T1": true}
	ready := p.ReadySet(completed, NewProvidesFrontier())
	assert.Len(t, ready, 1)
	assert.Equal(t, "T2", ready[0].ID)
}

func TestReadySetGatesOnPreconditionsFrontier(t *testing.T) {
	p := planWithTasks(
		Task{ID: "T1", Status: StatusPending, Preconditions: []string{"design-approved"}},
	)
	frontier := NewProvidesFrontier()
	assert.Empty(t, p.ReadySet(nil, frontier))

	frontier.Add("design-approved")
	ready := p.ReadySet(nil, frontier)
	assert.Len(t, ready, 1)
}

func TestReadySetNilFrontierIgnoresPreconditions(t *testing.T) {
	p := planWithTasks(
		Task{ID: "T1", Status: StatusPending, Preconditions: []string{"anything"}},
	)
	ready := p.ReadySet(nil, nil)
	assert.Len(t, ready, 1)
}

func TestProvidesFrontierDedupPreservesOrder(t *testing.T) {
	f := NewProvidesFrontier()
	f.Add("a")
	f.Add("b")
	f.Add("a")
	assert.Equal(t, []string{"a", "b"}, f.Snapshot())
	assert.True(t, f.Has("a"))
	assert.False(t, f.Has("c"))
}

func TestValidateFileOverlapsDetectsSharedKeyFile(t *testing.T) {
	tasks := []Task{
		{ID: "T1", KeyFiles: []string{"main.go"}},
		{ID: "T2", KeyFiles: []string{"main.go"}},
	}
	err := ValidateFileOverlaps(tasks)
	assert.Error(t, err)
	assert.True(t, IsValidationError(err))
}

func TestValidateFileOverlapsAllowsDisjointFiles(t *testing.T) {
	tasks := []Task{
		{ID: "T1", KeyFiles: []string{"a.go"}},
		{ID: "T2", KeyFiles: []string{"b.go"}},
	}
	assert.NoError(t, ValidateFileOverlaps(tasks))
}

func TestTaskByIDFindsAndMisses(t *testing.T) {
	p := planWithTasks(Task{ID: "T1"})
	t1, ok := p.TaskByID("T1")
	assert.True(t, ok)
	assert.Equal(t, "T1", t1.ID)

	_, ok = p.TaskByID("missing")
	assert.False(t, ok)
}

func TestPriorityRankOrdersHighAboveMediumAboveLow(t *testing.T) {
	assert.Greater(t, PriorityHigh.Rank(), PriorityMedium.Rank())
	assert.Greater(t, PriorityMedium.Rank(), PriorityLow.Rank())
	assert.Equal(t, PriorityMedium.Rank(), Priority("").Rank())
}

func TestSlugifyLowercasesAndHyphenates(t *testing.T) {
	assert.Equal(t, "create-index-html", Slugify("Create index.html"))
	assert.Equal(t, "task", Slugify("!!!"))
}

func TestSlugifyTruncatesToMaxLength(t *testing.T) {
	long := "this is a very long description that definitely exceeds the thirty character cap"
	got := Slugify(long)
	assert.LessOrEqual(t, len(got), 30)
	assert.NotEqual(t, byte('-'), got[len(got)-1])
}

func TestTaskBranchNameIsDeterministic(t *testing.T) {
	task := Task{ID: "T1", Description: "create index.html"}
	assert.Equal(t, "task/T1-create-index-html", task.BranchName())
}

func TestTaskCloneDeepCopiesSlices(t *testing.T) {
	original := Task{ID: "T1", DependsOn: []string{"A"}, Provides: []string{"B"}, KeyFiles: []string{"c.go"}}
	clone := original.Clone()
	clone.DependsOn[0] = "mutated"
	assert.Equal(t, "A", original.DependsOn[0], "mutating the clone must not affect the original")
}

func TestExecutionTimeParsesValidDuration(t *testing.T) {
	task := Task{EstimatedTime: "30m"}
	assert.Equal(t, 30*time.Minute, task.ExecutionTime())
}

func TestExecutionTimeReturnsZeroForFreeText(t *testing.T) {
	task := Task{EstimatedTime: "about a day"}
	assert.Equal(t, time.Duration(0), task.ExecutionTime())
}
