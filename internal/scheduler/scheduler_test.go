package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/flowline/internal/controlbus"
	"github.com/harrison/flowline/internal/models"
	"github.com/harrison/flowline/internal/planner"
	"github.com/harrison/flowline/internal/workerpool"
)

// fakeGateway is a black-box, mutex-guarded stand-in for *gitrepo.Gateway.
type fakeGateway struct {
	mu sync.Mutex

	planBranch     string
	createPlanErr  error
	updatePlanErr  error
	createTaskErr  error
	createWtErr    error
	mergeErrFor    map[string]error
	commitFor      map[string]models.WorkerCommit
	provides       []string

	createdTaskBranches []string
	mergedBranches      []string
	removedWorktrees    []int
	planUpdates         []models.Plan
}

func clonePlan(p models.Plan) models.Plan {
	clone := p
	clone.Tasks = append([]models.Task(nil), p.Tasks...)
	for i, t := range clone.Tasks {
		clone.Tasks[i] = t.Clone()
	}
	return clone
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		planBranch:  "plan/test-session",
		mergeErrFor: map[string]error{},
		commitFor:   map[string]models.WorkerCommit{},
	}
}

func (g *fakeGateway) CreatePlanBranch(ctx context.Context, plan models.Plan) (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createPlanErr != nil {
		return "", "", g.createPlanErr
	}
	return g.planBranch, "sha-plan-1", nil
}

func (g *fakeGateway) UpdatePlanBranch(ctx context.Context, branch string, plan models.Plan) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.updatePlanErr != nil {
		return "", g.updatePlanErr
	}
	g.planUpdates = append(g.planUpdates, clonePlan(plan))
	return "sha-plan-n", nil
}

func (g *fakeGateway) CreateTaskBranch(ctx context.Context, task models.Task, init models.TaskInit) (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createTaskErr != nil {
		return "", "", g.createTaskErr
	}
	branch := task.BranchName()
	g.createdTaskBranches = append(g.createdTaskBranches, branch)
	return branch, "sha-task", nil
}

func (g *fakeGateway) CreateWorktree(ctx context.Context, workerID int, taskBranch string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createWtErr != nil {
		return "", g.createWtErr
	}
	return "/tmp/worktrees/worker-1", nil
}

func (g *fakeGateway) RemoveWorktree(ctx context.Context, workerID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.removedWorktrees = append(g.removedWorktrees, workerID)
	return nil
}

func (g *fakeGateway) MergeTaskBranch(ctx context.Context, taskBranch string, provides []string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.mergeErrFor[taskBranch]; ok {
		return "", err
	}
	g.mergedBranches = append(g.mergedBranches, taskBranch)
	g.provides = append(g.provides, provides...)
	return "sha-merge", nil
}

func (g *fakeGateway) GetProvides(ctx context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.provides...), nil
}

func (g *fakeGateway) ReadLatestWorkerCommit(ctx context.Context, branch string) (models.WorkerCommit, []models.ParseWarning, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.commitFor[branch], nil, nil
}

func (g *fakeGateway) setCommit(branch string, wc models.WorkerCommit) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.commitFor[branch] = wc
}

func (g *fakeGateway) snapshotCreatedTaskBranches() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.createdTaskBranches...)
}

func (g *fakeGateway) snapshotMergedBranches() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.mergedBranches...)
}

func (g *fakeGateway) snapshotPlanUpdates() []models.Plan {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.Plan(nil), g.planUpdates...)
}

// fakePool is a black-box stand-in for *workerpool.Pool.
type fakePool struct {
	mu          sync.Mutex
	maxParallel int
	launches    []workerpool.LaunchParams
	launchErr   error
	stopAllN    int
}

func newFakePool(maxParallel int) *fakePool {
	return &fakePool{maxParallel: maxParallel}
}

func (p *fakePool) Launch(ctx context.Context, params workerpool.LaunchParams) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.launches = append(p.launches, params)
	return p.launchErr
}

func (p *fakePool) StopAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopAllN++
	return 0
}

func (p *fakePool) UpdateMaxParallel(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxParallel = n
}

func (p *fakePool) MaxParallel() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxParallel
}

func (p *fakePool) Snapshot() []workerpool.Snapshot { return nil }

func (p *fakePool) snapshotLaunches() []workerpool.LaunchParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]workerpool.LaunchParams(nil), p.launches...)
}

// fakePlanner is a black-box stand-in for *planner.Planner.
type fakePlanner struct {
	mu           sync.Mutex
	generatePlan models.Plan
	generateErr  error
	replanPlan   models.Plan
	replanErr    error
	replanCalls  int
}

func (f *fakePlanner) Generate(ctx context.Context, req planner.Request) (models.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generatePlan, f.generateErr
}

func (f *fakePlanner) Replan(ctx context.Context, req planner.ReplanRequest) (models.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replanCalls++
	return f.replanPlan, f.replanErr
}

func linearPlan() models.Plan {
	return models.Plan{
		Goal: "build the thing",
		Tasks: []models.Task{
			{ID: "1", Description: "first", Status: models.StatusPending, Priority: models.PriorityMedium},
			{ID: "2", Description: "second", Status: models.StatusPending, Priority: models.PriorityMedium, DependsOn: []string{"1"}},
		},
	}
}

func runScheduler(t *testing.T, sched *Scheduler, ctx context.Context) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	return done
}

func TestLinearPlanDispatchesInDependencyOrder(t *testing.T) {
	gw := newFakeGateway()
	pool := newFakePool(2)
	pl := &fakePlanner{generatePlan: linearPlan()}
	bus := controlbus.New()
	sched := New(gw, pool, bus, pl, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := runScheduler(t, sched, ctx)

	bus.Publish(controlbus.Event{Kind: controlbus.KindIntervention, Intervention: &controlbus.Intervention{Requirement: "build it"}})

	require.Eventually(t, func() bool {
		return len(gw.snapshotCreatedTaskBranches()) == 1
	}, time.Second, 5*time.Millisecond, "task 1 should be dispatched first")
	assert.Contains(t, gw.snapshotCreatedTaskBranches()[0], "task/1-")

	gw.setCommit("task/1-first", models.WorkerCommit{Progress: models.Progress{Status: models.StatusCompleted}})
	bus.Publish(controlbus.Event{Kind: controlbus.KindWorkerComplete, WorkerCompletion: &controlbus.WorkerCompletion{
		WorkerID: 1, TaskBranch: "task/1-first", ExitCode: models.ExitOK,
	}})

	require.Eventually(t, func() bool {
		return len(gw.snapshotMergedBranches()) == 1
	}, time.Second, 5*time.Millisecond, "task 1 should merge before task 2 dispatches")

	require.Eventually(t, func() bool {
		return len(gw.snapshotCreatedTaskBranches()) == 2
	}, time.Second, 5*time.Millisecond, "task 2 should dispatch once task 1 completes")
	assert.Contains(t, gw.snapshotCreatedTaskBranches()[1], "task/2-")

	gw.setCommit("task/2-second", models.WorkerCommit{Progress: models.Progress{Status: models.StatusCompleted}})
	bus.Publish(controlbus.Event{Kind: controlbus.KindWorkerComplete, WorkerCompletion: &controlbus.WorkerCompletion{
		WorkerID: 1, TaskBranch: "task/2-second", ExitCode: models.ExitOK,
	}})

	require.Eventually(t, func() bool {
		return len(gw.snapshotMergedBranches()) == 2
	}, time.Second, 5*time.Millisecond, "task 2 should merge")

	cancel()
	<-done
}

func TestValidationFailureTransitionsToReplanning(t *testing.T) {
	gw := newFakeGateway()
	pool := newFakePool(1)
	pl := &fakePlanner{
		generatePlan: models.Plan{Goal: "x", Tasks: []models.Task{{ID: "1", Description: "only task", Status: models.StatusPending}}},
		replanPlan:   models.Plan{Goal: "x", Tasks: []models.Task{{ID: "1", Description: "retry", Status: models.StatusPending}}},
	}
	bus := controlbus.New()
	sched := New(gw, pool, bus, pl, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := runScheduler(t, sched, ctx)

	bus.Publish(controlbus.Event{Kind: controlbus.KindIntervention, Intervention: &controlbus.Intervention{Requirement: "do it"}})

	require.Eventually(t, func() bool {
		return len(gw.snapshotCreatedTaskBranches()) == 1
	}, time.Second, 5*time.Millisecond)

	bus.Publish(controlbus.Event{Kind: controlbus.KindWorkerComplete, WorkerCompletion: &controlbus.WorkerCompletion{
		WorkerID: 1, TaskBranch: "task/999-nonexistent", ExitCode: models.ExitRuntimeErr, ErrorMessage: "task branch does not exist",
	}})

	require.Eventually(t, func() bool {
		pl.mu.Lock()
		defer pl.mu.Unlock()
		return pl.replanCalls == 1
	}, time.Second, 5*time.Millisecond, "a failed worker_completion should trigger Replanning")

	cancel()
	<-done
}

func TestStoppedWorkerMarksTaskFailedWithoutReplanning(t *testing.T) {
	gw := newFakeGateway()
	pool := newFakePool(1)
	pl := &fakePlanner{generatePlan: models.Plan{Goal: "x", Tasks: []models.Task{{ID: "1", Description: "only task", Status: models.StatusPending}}}}
	bus := controlbus.New()
	sched := New(gw, pool, bus, pl, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := runScheduler(t, sched, ctx)

	bus.Publish(controlbus.Event{Kind: controlbus.KindIntervention, Intervention: &controlbus.Intervention{Requirement: "do it"}})
	require.Eventually(t, func() bool {
		return len(gw.snapshotCreatedTaskBranches()) == 1
	}, time.Second, 5*time.Millisecond)

	bus.Publish(controlbus.Event{Kind: controlbus.KindWorkerComplete, WorkerCompletion: &controlbus.WorkerCompletion{
		WorkerID: 1, TaskBranch: gw.snapshotCreatedTaskBranches()[0], ExitCode: models.ExitUserStopped,
	}})

	require.Eventually(t, func() bool {
		return len(gw.snapshotPlanUpdates()) >= 1
	}, time.Second, 5*time.Millisecond)

	last := gw.snapshotPlanUpdates()
	task, ok := last[len(last)-1].TaskByID("1")
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, task.Status)

	time.Sleep(20 * time.Millisecond)
	pl.mu.Lock()
	assert.Equal(t, 0, pl.replanCalls, "a user-requested stop must never trigger Replanning on its own")
	pl.mu.Unlock()

	cancel()
	<-done
}

func TestConfigUpdateForwardsToPoolAndRedispatches(t *testing.T) {
	gw := newFakeGateway()
	pool := newFakePool(1)
	pl := &fakePlanner{generatePlan: models.Plan{Goal: "x", Tasks: []models.Task{
		{ID: "1", Description: "a", Status: models.StatusPending},
		{ID: "2", Description: "b", Status: models.StatusPending},
	}}}
	bus := controlbus.New()
	sched := New(gw, pool, bus, pl, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := runScheduler(t, sched, ctx)

	bus.Publish(controlbus.Event{Kind: controlbus.KindIntervention, Intervention: &controlbus.Intervention{Requirement: "do it"}})
	require.Eventually(t, func() bool {
		return len(gw.snapshotCreatedTaskBranches()) == 1
	}, time.Second, 5*time.Millisecond, "only one task should launch while max_parallel is 1")

	bus.Publish(controlbus.Event{Kind: controlbus.KindConfigUpdate, ConfigUpdate: &controlbus.ConfigUpdate{MaxParallel: 2}})

	require.Eventually(t, func() bool {
		return pool.MaxParallel() == 2
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(gw.snapshotCreatedTaskBranches()) == 2
	}, time.Second, 5*time.Millisecond, "raising max_parallel should dispatch the second independent task")

	cancel()
	<-done
}

func TestStopEventStopsAllAndDrainsInterventions(t *testing.T) {
	gw := newFakeGateway()
	pool := newFakePool(1)
	pl := &fakePlanner{generatePlan: models.Plan{Goal: "x", Tasks: []models.Task{{ID: "1", Description: "only", Status: models.StatusPending}}}}
	bus := controlbus.New()
	sched := New(gw, pool, bus, pl, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := runScheduler(t, sched, ctx)

	bus.Publish(controlbus.Event{Kind: controlbus.KindIntervention, Intervention: &controlbus.Intervention{Requirement: "do it"}})
	require.Eventually(t, func() bool {
		return len(gw.snapshotCreatedTaskBranches()) == 1
	}, time.Second, 5*time.Millisecond)

	bus.Publish(controlbus.Event{Kind: controlbus.KindStop})

	require.Eventually(t, func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return pool.stopAllN == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return sched.State() == StateIdle
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
