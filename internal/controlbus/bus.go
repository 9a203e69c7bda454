// Package controlbus is the single-consumer, multi-producer event queue
// mediating between the user-facing input surface and the scheduler.
package controlbus

import (
	"container/list"
	"context"
	"sync"
)

// Kind classifies an event carried on the bus.
type Kind string

const (
	KindIntervention    Kind = "intervention"
	KindStop            Kind = "stop"
	KindWorkerComplete  Kind = "worker_completion"
	KindConfigUpdate    Kind = "config_update"
	KindStopWorkerResult Kind = "stop_worker_result"
)

// Intervention is the payload of a KindIntervention event: a user-submitted
// natural-language requirement.
type Intervention struct {
	Requirement string
}

// WorkerCompletion is the payload of a KindWorkerComplete event.
type WorkerCompletion struct {
	WorkerID     int
	TaskBranch   string
	ExitCode     int
	ErrorPhase   string
	ErrorMessage string
}

// ConfigUpdate is the payload of a KindConfigUpdate event.
type ConfigUpdate struct {
	MaxParallel int
}

// StopWorkerResult is the payload of a KindStopWorkerResult event, emitted
// after a targeted stop(worker_id) completes.
type StopWorkerResult struct {
	WorkerID int
	Stopped  bool
}

// Event is one entry on the bus. Exactly one of the payload fields is
// populated, matching Kind.
type Event struct {
	Kind             Kind
	Intervention     *Intervention
	WorkerCompletion *WorkerCompletion
	ConfigUpdate     *ConfigUpdate
	StopWorkerResult *StopWorkerResult
}

// Bus is an unbounded FIFO queue with a single consumer (the scheduler) and
// any number of producers. It is resilient to a consumer that isn't
// currently waiting: events accumulate and are delivered in order on the
// next Next call.
type Bus struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  *list.List
	closed bool
}

// New constructs an empty Bus.
func New() *Bus {
	b := &Bus{queue: list.New()}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Publish appends ev to the tail of the queue and wakes any waiting
// consumer. Safe for concurrent use by multiple producers.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.queue.PushBack(ev)
	b.cond.Signal()
}

// Next blocks until an event is available, ctx is cancelled, or the bus is
// closed. Returns ok=false in the latter two cases.
func (b *Bus) Next(ctx context.Context) (Event, bool) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		case <-done:
		}
	}()

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.queue.Len() == 0 && !b.closed && ctx.Err() == nil {
		b.cond.Wait()
	}
	if ctx.Err() != nil || b.closed {
		return Event{}, false
	}
	front := b.queue.Front()
	b.queue.Remove(front)
	return front.Value.(Event), true
}

// DrainInterventions removes and discards every KindIntervention event
// currently queued, leaving other kinds in place and in order. Used by Stop
// to implement "ESC discards my queued follow-ups".
func (b *Bus) DrainInterventions() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	var kept list.List
	drained := 0
	for e := b.queue.Front(); e != nil; e = e.Next() {
		ev := e.Value.(Event)
		if ev.Kind == KindIntervention {
			drained++
			continue
		}
		kept.PushBack(ev)
	}
	b.queue = &kept
	return drained
}

// Stop implements the ESC-interrupt path: it runs stopAll synchronously
// (typically Worker Pool.stop_all()), drains any interventions enqueued
// before this call, and only then publishes a KindStop event — so a
// consumer never observes a queued intervention that was meant to be
// discarded by the interrupt.
func (b *Bus) Stop(stopAll func()) {
	if stopAll != nil {
		stopAll()
	}
	b.DrainInterventions()
	b.Publish(Event{Kind: KindStop})
}

// Close wakes any blocked Next call permanently. Queued events are
// discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}
