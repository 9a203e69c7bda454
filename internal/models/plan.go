package models

import "fmt"

// Plan is the decoded shape of the latest plan commit on a plan/<session>
// branch: the full task set plus the session metadata that introduced it.
type Plan struct {
	SessionName string
	Branch      string
	Version     int
	Goal        string
	DesignDoc   string
	TechStack   string
	Tasks       []Task

	UnknownSections []RawSection
}

// TaskByID returns the task with the given id, or false if absent.
func (p *Plan) TaskByID(id string) (Task, bool) {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// HasCyclicDependencies runs a DFS with three-color marking over the
// depends_on edges and reports whether a cycle exists.
func (p *Plan) HasCyclicDependencies() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(p.Tasks))
	byID := make(map[string]Task, len(p.Tasks))
	for _, t := range p.Tasks {
		color[t.ID] = white
		byID[t.ID] = t
	}

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, dep := range byID[id].DependsOn {
			if _, ok := byID[dep]; !ok {
				continue // dangling dependency, ignored by the cycle check
			}
			switch color[dep] {
			case gray:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, t := range p.Tasks {
		if color[t.ID] == white {
			if visit(t.ID) {
				return true
			}
		}
	}
	return false
}

// ProvidesFrontier is the accumulated, order-preserving, de-duplicated set
// of `## Provides` bullets surfaced by merge commits on flow so far.
type ProvidesFrontier struct {
	order []string
	seen  map[string]bool
}

// NewProvidesFrontier returns an empty frontier.
func NewProvidesFrontier() *ProvidesFrontier {
	return &ProvidesFrontier{seen: make(map[string]bool)}
}

// Add appends capability if it has not already been recorded. Mirrors the
// original get_provides.py dedup-while-preserving-order behavior.
func (f *ProvidesFrontier) Add(capability string) {
	if f.seen[capability] {
		return
	}
	f.seen[capability] = true
	f.order = append(f.order, capability)
}

// Has reports whether capability is present in the frontier.
func (f *ProvidesFrontier) Has(capability string) bool {
	return f.seen[capability]
}

// Snapshot returns the frontier contents in the order they were added.
func (f *ProvidesFrontier) Snapshot() []string {
	return append([]string(nil), f.order...)
}

// ReadySet returns the pending tasks whose depends_on are all in completed
// and whose preconditions (if any) are all satisfied by the frontier; a nil
// frontier skips the precondition check. The
// set is recomputed on demand rather than staged into one-shot waves,
// since replanning can grow the DAG mid-run.
func (p *Plan) ReadySet(completed map[string]bool, frontier *ProvidesFrontier) []Task {
	var ready []Task
	for _, t := range p.Tasks {
		if t.Status != StatusPending {
			continue
		}
		if !allSatisfied(t.DependsOn, completed) {
			continue
		}
		if frontier != nil && !allProvided(t.Preconditions, frontier) {
			continue
		}
		ready = append(ready, t)
	}
	return ready
}

func allSatisfied(deps []string, completed map[string]bool) bool {
	for _, d := range deps {
		if !completed[d] {
			return false
		}
	}
	return true
}

func allProvided(preconditions []string, frontier *ProvidesFrontier) bool {
	for _, p := range preconditions {
		if !frontier.Has(p) {
			return false
		}
	}
	return true
}

// ValidateFileOverlaps reports tasks in the same ready batch that declare
// overlapping KeyFiles, as a ValidationError. The scheduler logs it and
// dispatches only the first task of such a batch in that dispatch pass.
func ValidateFileOverlaps(tasks []Task) error {
	seen := make(map[string]string) // file -> owning task id
	for _, t := range tasks {
		for _, f := range t.KeyFiles {
			if owner, ok := seen[f]; ok {
				return &ValidationError{
					Message: fmt.Sprintf("tasks %s and %s both declare key file %q", owner, t.ID, f),
				}
			}
			seen[f] = t.ID
		}
	}
	return nil
}
