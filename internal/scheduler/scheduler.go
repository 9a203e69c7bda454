// Package scheduler is the Orchestrator Loop: the decision engine driving
// a session from an initial request through dispatch, completion handling,
// and replanning. It never talks to the agent runtime directly — only to
// the Repository Gateway, the Worker Pool, and the Control Bus.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/harrison/flowline/internal/controlbus"
	"github.com/harrison/flowline/internal/gitrepo"
	"github.com/harrison/flowline/internal/logger"
	"github.com/harrison/flowline/internal/models"
	"github.com/harrison/flowline/internal/planner"
	"github.com/harrison/flowline/internal/workerpool"
)

// State is one node of the scheduler's explicit state machine.
type State string

const (
	StateIdle        State = "idle"
	StatePlanning    State = "planning"
	StateDispatching State = "dispatching"
	StateWaiting     State = "waiting"
	StateReplanning  State = "replanning"
	StateFinalizing  State = "finalizing"
)

// Gateway is the subset of *gitrepo.Gateway the Scheduler depends on. A
// fake satisfying this interface drives the scenario specs without a real
// git binary.
type Gateway interface {
	CreatePlanBranch(ctx context.Context, plan models.Plan) (branch, sha string, err error)
	UpdatePlanBranch(ctx context.Context, branch string, plan models.Plan) (sha string, err error)
	CreateTaskBranch(ctx context.Context, task models.Task, init models.TaskInit) (branch, sha string, err error)
	CreateWorktree(ctx context.Context, workerID int, taskBranch string) (string, error)
	RemoveWorktree(ctx context.Context, workerID int) error
	MergeTaskBranch(ctx context.Context, taskBranch string, provides []string) (sha string, err error)
	GetProvides(ctx context.Context) ([]string, error)
	ReadLatestWorkerCommit(ctx context.Context, branch string) (models.WorkerCommit, []models.ParseWarning, error)
}

// WorkerPool is the subset of *workerpool.Pool the Scheduler depends on.
type WorkerPool interface {
	Launch(ctx context.Context, params workerpool.LaunchParams) error
	StopAll() int
	UpdateMaxParallel(newMax int)
	MaxParallel() int
	Snapshot() []workerpool.Snapshot
}

// Planner is the subset of *planner.Planner the Scheduler depends on.
type Planner interface {
	Generate(ctx context.Context, req planner.Request) (models.Plan, error)
	Replan(ctx context.Context, req planner.ReplanRequest) (models.Plan, error)
}

// Scheduler is the single long-running task driving one session's state
// machine. It is not safe for concurrent use: exactly one goroutine (Run)
// is meant to own it, per the single-threaded-cooperative-core model.
type Scheduler struct {
	gw      Gateway
	pool    WorkerPool
	bus     *controlbus.Bus
	planner Planner
	log     logger.Logger

	state       State
	plan        models.Plan
	planBranch  string
	sessionName string

	completed    map[string]bool
	frontier     *models.ProvidesFrontier
	pending      []string // interventions buffered for the next Planning/Replanning pass
	failContext  string   // why Replanning was entered, surfaced to the planner
	activeWorker map[int]string
}

// New constructs a Scheduler in its Idle state.
func New(gw Gateway, pool WorkerPool, bus *controlbus.Bus, pl Planner, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Discard
	}
	return &Scheduler{
		gw:           gw,
		pool:         pool,
		bus:          bus,
		planner:      pl,
		log:          log,
		state:        StateIdle,
		frontier:     models.NewProvidesFrontier(),
		activeWorker: make(map[int]string),
	}
}

// State returns the scheduler's current state, for status display.
func (s *Scheduler) State() State { return s.state }

// Plan returns the scheduler's current in-memory plan snapshot.
func (s *Scheduler) Plan() models.Plan { return s.plan }

// Run drives the state machine until ctx is cancelled or the Control Bus is
// closed, whichever comes first.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		switch s.state {
		case StateIdle:
			ev, ok := s.bus.Next(ctx)
			if !ok {
				return ctx.Err()
			}
			if ev.Kind == controlbus.KindWorkerComplete {
				// A worker's completion can race the stop event that
				// already returned the scheduler to Idle (StopAll unblocks
				// as soon as the slot's done channel closes, strictly
				// before the pool publishes this event). Still record the
				// outcome against the plan rather than dropping it.
				s.handleWorkerCompletion(ctx, ev.WorkerCompletion)
				continue
			}
			if ev.Kind != controlbus.KindIntervention {
				s.log.Debugf("ignoring %s event while idle", ev.Kind)
				continue
			}
			s.sessionName = planner.NewSessionName()
			s.pending = []string{ev.Intervention.Requirement}
			s.state = StatePlanning

		case StatePlanning:
			if err := s.runPlanning(ctx); err != nil {
				s.log.Errorf("planning failed: %v", err)
				s.state = StateIdle
				continue
			}
			s.state = StateDispatching

		case StateDispatching:
			s.dispatch(ctx)
			if s.allCompleted() {
				s.state = StateFinalizing
			} else {
				s.state = StateWaiting
			}

		case StateWaiting:
			ev, ok := s.bus.Next(ctx)
			if !ok {
				return ctx.Err()
			}
			s.state = s.handleEvent(ctx, ev)

		case StateReplanning:
			if err := s.runReplanning(ctx); err != nil {
				s.log.Errorf("replanning failed: %v", err)
				s.state = StateWaiting
				continue
			}
			s.state = StateDispatching

		case StateFinalizing:
			s.log.Infof("session %s finalized on %s: all %d tasks completed", s.sessionName, s.planBranch, len(s.plan.Tasks))
			s.state = StateIdle

		default:
			return fmt.Errorf("scheduler: unreachable state %q", s.state)
		}
	}
}

func (s *Scheduler) handleEvent(ctx context.Context, ev controlbus.Event) State {
	switch ev.Kind {
	case controlbus.KindWorkerComplete:
		return s.handleWorkerCompletion(ctx, ev.WorkerCompletion)

	case controlbus.KindIntervention:
		s.pending = append(s.pending, ev.Intervention.Requirement)
		if len(s.activeWorker) == 0 {
			return StateReplanning
		}
		return StateWaiting

	case controlbus.KindConfigUpdate:
		s.pool.UpdateMaxParallel(ev.ConfigUpdate.MaxParallel)
		if len(s.plan.ReadySet(s.completed, s.frontier)) > 0 {
			return StateDispatching
		}
		return StateWaiting

	case controlbus.KindStop:
		s.pool.StopAll()
		s.bus.DrainInterventions()
		return StateIdle

	default:
		return StateWaiting
	}
}

func (s *Scheduler) handleWorkerCompletion(ctx context.Context, wc *controlbus.WorkerCompletion) State {
	if wc == nil {
		return StateWaiting
	}
	taskID, ok := s.activeWorker[wc.WorkerID]
	if !ok {
		s.log.Warnf("worker_completion for unrecognized worker %d, ignoring", wc.WorkerID)
		return StateWaiting
	}
	delete(s.activeWorker, wc.WorkerID)

	task, ok := s.plan.TaskByID(taskID)
	if !ok {
		s.log.Warnf("worker_completion for worker %d maps to unknown task %s", wc.WorkerID, taskID)
		return StateWaiting
	}

	if wc.ExitCode == models.ExitUserStopped {
		// Per the user-stopped resolution: failed, not in_progress, so the
		// task is never a dead end for the ready-set computation.
		task.Status = models.StatusFailed
		s.setTask(task)
		_ = s.gw.RemoveWorktree(ctx, wc.WorkerID)
		s.persistPlan(ctx)
		return StateWaiting
	}

	terminalCompleted := false
	if wc.ExitCode == models.ExitOK {
		commit, warnings, err := s.gw.ReadLatestWorkerCommit(ctx, wc.TaskBranch)
		for _, w := range warnings {
			s.log.Warnf("%s: %s", w.Context, w.Message)
		}
		if err != nil {
			s.log.Errorf("reading latest commit on %s: %v", wc.TaskBranch, err)
		} else if commit.Progress.Status == models.StatusCompleted {
			if sha, merr := s.gw.MergeTaskBranch(ctx, wc.TaskBranch, task.Provides); merr != nil {
				s.log.Errorf("merging %s into flow: %v", wc.TaskBranch, merr)
			} else {
				s.log.Infof("merged %s as %s", wc.TaskBranch, sha)
				terminalCompleted = true
			}
		}
	} else {
		s.failContext = fmt.Sprintf("task %s (%s) exited with code %d: %s", task.ID, wc.TaskBranch, wc.ExitCode, wc.ErrorMessage)
	}

	if terminalCompleted {
		task.Status = models.StatusCompleted
		s.completed[task.ID] = true
	} else {
		task.Status = models.StatusFailed
		if s.failContext == "" {
			s.failContext = fmt.Sprintf("task %s (%s) did not report completion", task.ID, wc.TaskBranch)
		}
	}
	s.setTask(task)
	_ = s.gw.RemoveWorktree(ctx, wc.WorkerID)

	if terminalCompleted {
		s.refreshFrontier(ctx)
	}
	s.persistPlan(ctx)

	if terminalCompleted {
		return StateDispatching
	}
	return StateReplanning
}

// dispatch launches as many ready tasks as the pool has idle slots for,
// recomputing the ready set after each launch since a newly-dispatched
// task never itself unblocks another (only completion does), but keeps the
// loop structure uniform with a recompute-on-every-iteration design that
// tolerates a ready set that changes shape across calls. A pass ends early
// after a batch with overlapping key files, or when a task could not be
// dispatched and was left pending.
func (s *Scheduler) dispatch(ctx context.Context) {
	for {
		ready := s.plan.ReadySet(s.completed, s.frontier)
		if len(ready) == 0 {
			return
		}
		sortByPriorityThenID(ready)

		workerID := s.lowestIdleSlot()
		if workerID == 0 {
			return
		}

		task := ready[0]
		overlapErr := models.ValidateFileOverlaps(ready)
		if overlapErr != nil {
			s.log.Warnf("ready batch has overlapping key files, dispatching only %s this round: %v", task.ID, overlapErr)
		}
		s.dispatchTask(ctx, workerID, task)
		if overlapErr != nil {
			return
		}
		if t, ok := s.plan.TaskByID(task.ID); ok && t.Status == models.StatusPending {
			return // dispatchTask failed before launch; retry on a later pass
		}
	}
}

func sortByPriorityThenID(tasks []models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority.Rank() != tasks[j].Priority.Rank() {
			return tasks[i].Priority.Rank() > tasks[j].Priority.Rank()
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func (s *Scheduler) lowestIdleSlot() int {
	max := s.pool.MaxParallel()
	for id := 1; id <= max; id++ {
		if _, busy := s.activeWorker[id]; !busy {
			return id
		}
	}
	return 0
}

// dispatchTask creates the task's branch and worktree and launches a
// worker against it. A failure at any step here is logged and the task is
// left pending for a future dispatch pass to retry — except a Launch
// failure, which the Worker Pool has already turned into a synchronous
// worker_completion event on the bus, so the task is marked in_progress and
// the worker registered exactly as if the launch had succeeded: the
// scheduler learns the outcome uniformly through that event, per spec.
func (s *Scheduler) dispatchTask(ctx context.Context, workerID int, task models.Task) {
	init := models.TaskInit{
		ID:            task.ID,
		Description:   task.Description,
		DependsOn:     task.DependsOn,
		Provides:      task.Provides,
		Preconditions: task.Preconditions,
		Files:         task.KeyFiles,
		SessionName:   s.plan.SessionName,
		SessionGoal:   s.plan.Goal,
		PlanBranch:    s.planBranch,
		PlanVersion:   s.plan.Version,
	}

	branch, _, err := s.gw.CreateTaskBranch(ctx, task, init)
	if err != nil {
		s.log.Errorf("create task branch for %s: %v", task.ID, err)
		return
	}

	worktreePath, err := s.gw.CreateWorktree(ctx, workerID, branch)
	if err != nil {
		s.log.Errorf("create worktree for worker %d (task %s): %v", workerID, task.ID, err)
		return
	}

	task.Status = models.StatusInProgress
	s.setTask(task)
	s.activeWorker[workerID] = task.ID

	params := workerpool.LaunchParams{
		WorkerID:         workerID,
		TaskBranch:       branch,
		WorktreePath:     worktreePath,
		SessionName:      s.sessionName + "-" + task.ID,
		Instructions:     task.Description,
		InstructionsFile: gitrepo.TaskInstructionsFile,
	}
	if err := s.pool.Launch(ctx, params); err != nil {
		s.log.Warnf("launch for task %s rejected synchronously, awaiting its completion event: %v", task.ID, err)
	}
}

func (s *Scheduler) runPlanning(ctx context.Context) error {
	req := planner.Request{
		SessionName:   s.sessionName,
		UserRequest:   strings.Join(s.pending, "\n"),
		KnownProvides: s.frontier.Snapshot(),
	}
	plan, err := s.planner.Generate(ctx, req)
	if err != nil {
		return err
	}
	if plan.HasCyclicDependencies() {
		return &models.ValidationError{Message: "planner produced a cyclic dependency graph"}
	}

	plan.SessionName = s.sessionName
	branch, _, err := s.gw.CreatePlanBranch(ctx, plan)
	if err != nil {
		return err
	}

	s.adoptPlan(branch, plan)
	s.refreshFrontier(ctx)
	s.pending = nil
	s.failContext = ""
	return nil
}

func (s *Scheduler) runReplanning(ctx context.Context) error {
	req := planner.ReplanRequest{
		Request: planner.Request{
			SessionName:   s.sessionName,
			UserRequest:   strings.Join(s.pending, "\n"),
			KnownProvides: s.frontier.Snapshot(),
		},
		PriorPlan:      s.plan,
		FailureContext: s.failContext,
	}
	plan, err := s.planner.Replan(ctx, req)
	if err != nil {
		return err
	}
	if plan.HasCyclicDependencies() {
		return &models.ValidationError{Message: "replanner produced a cyclic dependency graph"}
	}
	if resurrected := firstResurrectedTask(s.plan, plan); resurrected != "" {
		return &models.ValidationError{Message: "replan illegally resurrected completed task " + resurrected}
	}

	plan.Version = s.plan.Version + 1
	if _, err := s.gw.UpdatePlanBranch(ctx, s.planBranch, plan); err != nil {
		return err
	}

	s.adoptPlan(s.planBranch, plan)
	s.pending = nil
	s.failContext = ""
	return nil
}

// firstResurrectedTask reports the id of the first task that was
// `completed` in prior but is not `completed` in next, or "" if none.
func firstResurrectedTask(prior, next models.Plan) string {
	completed := make(map[string]bool, len(prior.Tasks))
	for _, t := range prior.Tasks {
		if t.Status == models.StatusCompleted {
			completed[t.ID] = true
		}
	}
	for _, t := range next.Tasks {
		if completed[t.ID] && t.Status != models.StatusCompleted {
			return t.ID
		}
	}
	return ""
}

func (s *Scheduler) adoptPlan(branch string, plan models.Plan) {
	plan.Branch = branch
	s.planBranch = branch
	s.plan = plan
	s.completed = make(map[string]bool, len(plan.Tasks))
	for _, t := range plan.Tasks {
		if t.Status == models.StatusCompleted {
			s.completed[t.ID] = true
		}
	}
}

func (s *Scheduler) setTask(t models.Task) {
	for i := range s.plan.Tasks {
		if s.plan.Tasks[i].ID == t.ID {
			s.plan.Tasks[i] = t
			return
		}
	}
}

func (s *Scheduler) refreshFrontier(ctx context.Context) {
	caps, err := s.gw.GetProvides(ctx)
	if err != nil {
		s.log.Errorf("refresh provides frontier: %v", err)
		return
	}
	f := models.NewProvidesFrontier()
	for _, c := range caps {
		f.Add(c)
	}
	s.frontier = f
}

func (s *Scheduler) persistPlan(ctx context.Context) {
	s.plan.Version++
	if _, err := s.gw.UpdatePlanBranch(ctx, s.planBranch, s.plan); err != nil {
		s.log.Errorf("persist plan update: %v", err)
		s.plan.Version--
	}
}

func (s *Scheduler) allCompleted() bool {
	if len(s.plan.Tasks) == 0 {
		return false
	}
	for _, t := range s.plan.Tasks {
		if t.Status != models.StatusCompleted {
			return false
		}
	}
	return true
}
