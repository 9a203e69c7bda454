// Package workerpool is the Worker Pool: a set of integer-indexed slots,
// created on first use, each bound 1:1 to an agent session and worktree while Active. It
// enforces max_parallel, validates launch parameters synchronously, and
// guarantees exactly one worker_completion event per accepted launch.
package workerpool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/flowline/internal/agentrt"
	"github.com/harrison/flowline/internal/controlbus"
	"github.com/harrison/flowline/internal/logger"
	"github.com/harrison/flowline/internal/models"
)

// SlotState is the lifecycle state of one worker slot.
type SlotState string

const (
	SlotIdle   SlotState = "idle"
	SlotActive SlotState = "active"
)

// Snapshot describes one slot for status display.
type Snapshot struct {
	WorkerID     int
	State        SlotState
	TaskBranch   string
	WorktreePath string
	StartedAt    time.Time
	Elapsed      time.Duration
}

type slot struct {
	mu            sync.Mutex
	state         SlotState
	taskBranch    string
	worktreePath  string
	startedAt     time.Time
	sessionID     string
	session       agentrt.Session
	cancel        context.CancelFunc
	doneWait      chan struct{}
	stopRequested bool
}

// LaunchParams are the arguments to Launch: worker_id, task_branch,
// worktree_path, session_info, instructions, extra_tools.
type LaunchParams struct {
	WorkerID     int
	TaskBranch   string
	WorktreePath string
	SessionName  string
	Model        string
	Instructions string
	ExtraTools   []agentrt.Tool

	// InstructionsFile is the path, relative to WorktreePath, of the
	// agent-instructions file copied in by the Repository Gateway. It
	// must exist and be readable for a launch to be accepted.
	InstructionsFile string
}

// Pool is the Worker Pool.
type Pool struct {
	mu          sync.Mutex
	slots       map[int]*slot
	maxParallel int

	runtime      agentrt.Runtime
	bus          *controlbus.Bus
	log          logger.Logger
	branchExists func(ctx context.Context, branch string) bool
}

// New constructs a Pool with no slots; a slot is created Idle the first
// time a worker id is launched or stopped. branchExists
// checks whether a task_branch named in a LaunchParams actually exists in
// the repository; production callers pass gitrepo.Gateway.BranchExists.
func New(maxParallel int, runtime agentrt.Runtime, bus *controlbus.Bus, log logger.Logger, branchExists func(ctx context.Context, branch string) bool) *Pool {
	if log == nil {
		log = logger.Discard
	}
	p := &Pool{
		slots:        make(map[int]*slot),
		maxParallel:  maxParallel,
		runtime:      runtime,
		branchExists: branchExists,
		bus:          bus,
		log:          log,
	}
	return p
}

func (p *Pool) slotFor(id int) *slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[id]
	if !ok {
		s = &slot{state: SlotIdle}
		p.slots[id] = s
	}
	return s
}

func (p *Pool) activeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.slots {
		s.mu.Lock()
		if s.state == SlotActive {
			n++
		}
		s.mu.Unlock()
	}
	return n
}

// validate runs the synchronous pre-flight checks in order: slot idle,
// capacity, branch existence, worktree existence/shape, instructions file
// readable.
func (p *Pool) validate(ctx context.Context, params LaunchParams, s *slot) *models.ValidationError {
	s.mu.Lock()
	idle := s.state == SlotIdle
	s.mu.Unlock()
	if !idle {
		return &models.ValidationError{Message: "worker slot is already active"}
	}

	if p.activeCount() >= p.currentMaxParallel() {
		return &models.ValidationError{Message: "max_parallel capacity exceeded"}
	}

	if params.TaskBranch == "" {
		return &models.ValidationError{Message: "task branch is required"}
	}
	if p.branchExists != nil && !p.branchExists(ctx, params.TaskBranch) {
		return &models.ValidationError{Message: fmt.Sprintf("Task branch %q does not exist", params.TaskBranch)}
	}

	info, err := os.Stat(params.WorktreePath)
	if err != nil || !info.IsDir() {
		return &models.ValidationError{Message: "worktree path does not exist or is not a directory: " + params.WorktreePath}
	}
	if _, err := os.Stat(filepath.Join(params.WorktreePath, ".git")); err != nil {
		return &models.ValidationError{Message: "worktree path is not a git working tree: " + params.WorktreePath}
	}

	if params.InstructionsFile == "" {
		return &models.ValidationError{Message: "instructions file path is required"}
	}
	instrPath := filepath.Join(params.WorktreePath, params.InstructionsFile)
	data, err := os.ReadFile(instrPath)
	if err != nil {
		return &models.ValidationError{Message: "agent-instructions file is not readable: " + instrPath}
	}
	if len(data) == 0 {
		return &models.ValidationError{Message: "agent-instructions file is empty: " + instrPath}
	}

	return nil
}

func (p *Pool) currentMaxParallel() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxParallel
}

// Launch validates params and, on success, starts the session in the
// background. On validation failure, it returns the error AND publishes a
// worker_completion{exit_code:1} event synchronously, so the scheduler
// observes validation failures through the same channel as real
// completions.
func (p *Pool) Launch(ctx context.Context, params LaunchParams) error {
	s := p.slotFor(params.WorkerID)

	if verr := p.validate(ctx, params, s); verr != nil {
		p.bus.Publish(controlbus.Event{
			Kind: controlbus.KindWorkerComplete,
			WorkerCompletion: &controlbus.WorkerCompletion{
				WorkerID:     params.WorkerID,
				TaskBranch:   params.TaskBranch,
				ExitCode:     models.ExitRuntimeErr,
				ErrorPhase:   string(models.PhaseInit),
				ErrorMessage: verr.Message,
			},
		})
		return verr
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess, err := p.runtime.Start(sessCtx, params.WorktreePath, agentrt.SessionOptions{
		Instructions: params.Instructions,
		SessionName:  params.SessionName,
		Model:        params.Model,
		Tools:        params.ExtraTools,
	})
	if err != nil {
		cancel()
		p.bus.Publish(controlbus.Event{
			Kind: controlbus.KindWorkerComplete,
			WorkerCompletion: &controlbus.WorkerCompletion{
				WorkerID:     params.WorkerID,
				TaskBranch:   params.TaskBranch,
				ExitCode:     models.ExitRuntimeErr,
				ErrorPhase:   string(models.PhaseInit),
				ErrorMessage: err.Error(),
			},
		})
		return err
	}

	s.mu.Lock()
	s.state = SlotActive
	s.taskBranch = params.TaskBranch
	s.worktreePath = params.WorktreePath
	s.startedAt = time.Now()
	s.sessionID = uuid.NewString()
	s.session = sess
	s.cancel = func() {
		sess.Cancel()
		cancel()
	}
	s.doneWait = make(chan struct{})
	s.stopRequested = false
	s.mu.Unlock()

	go p.run(params.WorkerID, s, sess, params.TaskBranch)

	return nil
}

// run drains the session's message stream (discarding to the log sink)
// until it closes, then publishes exactly one worker_completion event —
// in a deferred scope so an early consumer exit cannot suppress it — and
// returns the slot to Idle.
func (p *Pool) run(workerID int, s *slot, sess agentrt.Session, taskBranch string) {
	exitCode := models.ExitOK
	errPhase := ""
	errMsg := ""

	defer func() {
		s.mu.Lock()
		s.state = SlotIdle
		s.taskBranch = ""
		s.worktreePath = ""
		s.session = nil
		s.cancel = nil
		done := s.doneWait
		s.mu.Unlock()
		if done != nil {
			close(done)
		}

		p.bus.Publish(controlbus.Event{
			Kind: controlbus.KindWorkerComplete,
			WorkerCompletion: &controlbus.WorkerCompletion{
				WorkerID:     workerID,
				TaskBranch:   taskBranch,
				ExitCode:     exitCode,
				ErrorPhase:   errPhase,
				ErrorMessage: errMsg,
			},
		})
	}()

	for msg := range sess.Messages() {
		p.log.Debugf("[worker-%d] %s: %s", workerID, msg.Kind, msg.Text)
	}

	waitErr := sess.Wait()

	s.mu.Lock()
	stopped := s.stopRequested
	s.mu.Unlock()

	switch {
	case stopped:
		exitCode = models.ExitUserStopped
	case waitErr != nil:
		if rtErr, ok := waitErr.(*models.AgentRuntimeError); ok {
			errPhase = string(rtErr.Phase)
		}
		errMsg = waitErr.Error()
		exitCode = models.ExitRuntimeErr
	}
}

// Stop requests cancellation of an Active slot and blocks until its
// background task has settled. On an Idle slot nothing is cancelled and
// only a stop_worker_result with Stopped false is published.
func (p *Pool) Stop(workerID int) {
	s := p.slotFor(workerID)

	s.mu.Lock()
	if s.state != SlotActive {
		s.mu.Unlock()
		p.bus.Publish(controlbus.Event{
			Kind:             controlbus.KindStopWorkerResult,
			StopWorkerResult: &controlbus.StopWorkerResult{WorkerID: workerID, Stopped: false},
		})
		return
	}
	s.stopRequested = true
	cancel := s.cancel
	done := s.doneWait
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.bus.Publish(controlbus.Event{
		Kind:             controlbus.KindStopWorkerResult,
		StopWorkerResult: &controlbus.StopWorkerResult{WorkerID: workerID, Stopped: true},
	})
}

// StopAll concurrently stops every Active slot and returns the count
// stopped. Used by the ESC-interrupt path via controlbus.Bus.Stop.
func (p *Pool) StopAll() int {
	p.mu.Lock()
	var ids []int
	for id, s := range p.slots {
		s.mu.Lock()
		if s.state == SlotActive {
			ids = append(ids, id)
		}
		s.mu.Unlock()
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(ids))
	for _, id := range ids {
		go func(id int) {
			defer wg.Done()
			p.Stop(id)
		}(id)
	}
	wg.Wait()

	return len(ids)
}

// UpdateMaxParallel takes effect for future launches only; it never
// cancels currently active workers, even if newMax drops below the
// current active count.
func (p *Pool) UpdateMaxParallel(newMax int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxParallel = newMax
}

// MaxParallel returns the currently configured slot capacity.
func (p *Pool) MaxParallel() int {
	return p.currentMaxParallel()
}

// Snapshot returns slot states and elapsed times for status display.
func (p *Pool) Snapshot() []Snapshot {
	p.mu.Lock()
	ids := make([]int, 0, len(p.slots))
	for id := range p.slots {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	out := make([]Snapshot, 0, len(ids))
	for _, id := range ids {
		s := p.slotFor(id)
		s.mu.Lock()
		snap := Snapshot{
			WorkerID:     id,
			State:        s.state,
			TaskBranch:   s.taskBranch,
			WorktreePath: s.worktreePath,
			StartedAt:    s.startedAt,
		}
		if s.state == SlotActive {
			snap.Elapsed = time.Since(s.startedAt)
		}
		s.mu.Unlock()
		out = append(out, snap)
	}
	return out
}
