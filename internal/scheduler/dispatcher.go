package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nixos/hydra-evaluator/internal/store"
	"github.com/nixos/hydra-evaluator/pkg/model"
)

// evaluatorCommand is the external program the dispatcher forks for
// every evaluation. It is a var, not a const, purely so tests can
// point it at a stub binary.
var evaluatorCommand = "hydra-eval-jobset"

// Dispatcher picks eligible jobsets, in priority order, and launches
// hydra-eval-jobset for each until either no more are eligible or
// State.MaxEvals is reached.
type Dispatcher struct {
	state  *State
	store  store.Store
	logger *slog.Logger

	// now is overridable in tests.
	now func() time.Time
}

// NewDispatcher builds a Dispatcher bound to s.
func NewDispatcher(s *State, st store.Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		state:  s,
		store:  st,
		logger: logger.With("component", "dispatcher"),
		now:    time.Now,
	}
}

// Run is the dispatcher's main loop. It holds State.Mu across sleep
// computation, the condition wait, and the dispatch pass itself —
// exactly the scope the original evaluator's loop() held its lock for
// — and recovers from any panic in a dispatch pass by logging and
// retrying after retryDelay, matching the outer try/catch + sleep(30)
// wrapper in the source evaluator's run(). launchLocked panics when
// the start-time write or the process start fails, so both end up on
// this retry path.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		d.safePass(ctx)
	}
}

func (d *Dispatcher) safePass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatcher pass panicked, retrying", "panic", r)
			time.Sleep(retryDelay)
		}
	}()
	d.pass(ctx)
}

// pass waits (if necessary) for work to become available or for the
// next due time to arrive, then dispatches every eligible jobset in
// priority order subject to MaxEvals.
func (d *Dispatcher) pass(ctx context.Context) {
	d.state.Mu.Lock()
	defer d.state.Mu.Unlock()

	for {
		if ctx.Err() != nil {
			return
		}
		candidates := d.eligibleLocked()
		if len(candidates) > 0 && d.state.RunningEvals < d.state.MaxEvals {
			break
		}
		wait := d.sleepDurationLocked()
		if wait <= 0 {
			break
		}
		d.condWaitWithTimeout(wait)
	}

	if ctx.Err() != nil {
		return
	}

	for _, js := range d.eligibleLocked() {
		if d.state.RunningEvals >= d.state.MaxEvals {
			break
		}
		d.launchLocked(ctx, js)
	}
}

// eligibleLocked returns the jobsets eligible to launch right now,
// ordered ascending by trigger time, then last-checked time, then
// name — the same three-key comparator as the source evaluator's
// startEvals().  Callers must hold State.Mu.
func (d *Dispatcher) eligibleLocked() []*model.Jobset {
	now := d.now()
	var out []*model.Jobset
	for _, js := range d.state.Jobsets {
		if !js.Eligible(now) {
			continue
		}
		if js.EvaluationStyle == model.StyleOneAtATime {
			unfinished, err := d.store.HasUnfinishedBuilds(context.Background(), js.Name)
			if err != nil {
				d.logger.Warn("one-at-a-time check failed, skipping", "jobset", js.Name.String(), "error", err)
				continue
			}
			if unfinished {
				d.logger.Debug("skipping one-at-a-time jobset with unfinished builds", "jobset", js.Name.String())
				continue
			}
		}
		out = append(out, js)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.TriggerTime.Equal(b.TriggerTime) {
			return a.TriggerTime.Before(b.TriggerTime)
		}
		if !a.LastCheckedTime.Equal(b.LastCheckedTime) {
			return a.LastCheckedTime.Before(b.LastCheckedTime)
		}
		if a.Name.Project != b.Name.Project {
			return a.Name.Project < b.Name.Project
		}
		return a.Name.Name < b.Name.Name
	})
	return out
}

// sleepDurationLocked computes how long the dispatcher should wait
// before re-checking eligibility: the time until the earliest
// scheduled jobset becomes due, capped at retryDelay so a registry
// sync is never stale for long. The result is never below one second,
// so a pass that can launch nothing (MaxEvals reached, or a due
// ONE_AT_A_TIME jobset still gated) waits instead of spinning.
// Callers must hold State.Mu.
func (d *Dispatcher) sleepDurationLocked() time.Duration {
	now := d.now()
	next := now.Add(retryDelay)
	for _, js := range d.state.Jobsets {
		if js.Running != nil {
			continue
		}
		if js.Triggered() {
			return time.Second
		}
		if js.CheckInterval <= 0 {
			continue
		}
		due := js.LastCheckedTime.Add(js.CheckInterval)
		if due.Before(next) {
			next = due
		}
	}
	remaining := next.Sub(now)
	if remaining < time.Second {
		return time.Second
	}
	return remaining
}

// condWaitWithTimeout waits on MaybeDoWork for at most timeout,
// releasing and reacquiring State.Mu the way sync.Cond.Wait always
// does. Go's sync.Cond has no native timed wait, so the timeout is
// implemented with a helper goroutine that broadcasts after the
// timeout elapses; this mirrors the source evaluator's
// wait_for(lock, sleepTime, pred) without needing a different
// synchronization primitive.
func (d *Dispatcher) condWaitWithTimeout(timeout time.Duration) {
	done := make(chan struct{})
	timer := time.AfterFunc(timeout, func() {
		close(done)
		d.state.Mu.Lock()
		d.state.MaybeDoWork.Broadcast()
		d.state.Mu.Unlock()
	})
	defer timer.Stop()
	d.state.MaybeDoWork.Wait()
	select {
	case <-done:
	default:
	}
}

// launchLocked starts a hydra-eval-jobset child for js and records it
// in State. Callers must hold State.Mu; the store write and the
// process start both happen under it, matching the source evaluator's
// own critical section (startEval() is itself called from within the
// locked loop). A failure of either panics, ending the pass so that
// Run logs it and retries after retryDelay.
func (d *Dispatcher) launchLocked(ctx context.Context, js *model.Jobset) {
	now := d.now()
	runID := uuid.New().String()
	log := d.logger.With("jobset", js.Name.String(), "run_id", runID)

	if err := d.store.MarkStarted(ctx, js.Name, now); err != nil {
		panic(fmt.Errorf("record start time for %s: %w", js.Name, err))
	}

	cmd := exec.Command(evaluatorCommand, js.Name.Project, js.Name.Name)
	if err := cmd.Start(); err != nil {
		panic(fmt.Errorf("start evaluator for %s: %w", js.Name, err))
	}

	js.Running = cmd
	js.TriggerTime = model.NotTriggered()
	js.LastCheckedTime = now
	d.state.RunningEvals++
	log.Info("launched evaluation", "pid", cmd.Process.Pid)
	d.state.ChildStarted.Broadcast()
}
