package scheduler

import (
	"sync"

	"github.com/nixos/hydra-evaluator/pkg/model"
)

// State is the single piece of shared memory the registry monitor,
// dispatcher, and reaper goroutines coordinate through. All three hold
// Mu while touching Jobsets or RunningEvals; the two condition
// variables are built on Mu so a Wait on either releases and
// reacquires the same lock.
type State struct {
	Mu sync.Mutex

	// MaybeDoWork is signalled whenever Jobsets or RunningEvals change
	// in a way that could make the dispatcher's next pass productive:
	// after a registry sync, and after a child is reaped.
	MaybeDoWork *sync.Cond

	// ChildStarted is signalled whenever the dispatcher launches a new
	// evaluation, so the reaper can re-scan for a process to wait on.
	ChildStarted *sync.Cond

	// MaxEvals bounds RunningEvals. Clamped to at least 1 by the
	// config loader.
	MaxEvals int

	// RunningEvals is the number of Jobsets currently holding a
	// non-nil Running handle. Kept as an explicit counter (rather than
	// re-scanning Jobsets each time) to match the source design's own
	// running counter.
	RunningEvals int

	// Jobsets is the full in-memory registry, keyed by project+name.
	Jobsets map[model.JobsetName]*model.Jobset
}

// NewState builds a State with its condition variables wired to its
// own mutex and maxEvals clamped to at least 1.
func NewState(maxEvals int) *State {
	if maxEvals < 1 {
		maxEvals = 1
	}
	s := &State{
		MaxEvals: maxEvals,
		Jobsets:  make(map[model.JobsetName]*model.Jobset),
	}
	s.MaybeDoWork = sync.NewCond(&s.Mu)
	s.ChildStarted = sync.NewCond(&s.Mu)
	return s
}
