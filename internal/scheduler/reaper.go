package scheduler

import (
	"context"
	"log/slog"
	"os/exec"
	"time"

	"github.com/nixos/hydra-evaluator/internal/store"
	"github.com/nixos/hydra-evaluator/pkg/model"
)

// Reaper waits for launched evaluation children to exit and records
// their outcome. Go has no process-wide "wait for any child"
// primitive the way waitpid(-1, ...) gives the source evaluator's
// reaper(); instead each pass takes a snapshot of the currently
// running jobsets, races their Wait() calls, and reports whichever
// finishes first.
type Reaper struct {
	state  *State
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewReaper builds a Reaper bound to s.
func NewReaper(s *State, st store.Store, logger *slog.Logger) *Reaper {
	return &Reaper{
		state:  s,
		store:  st,
		logger: logger.With("component", "reaper"),
		now:    time.Now,
	}
}

// Run is the reaper's main loop: wait for at least one running
// evaluation, wait for the first of them to exit, record its outcome,
// and repeat. It returns only when ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		r.safePass(ctx)
	}
}

func (r *Reaper) safePass(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reaper pass panicked, retrying", "panic", rec)
			time.Sleep(retryDelay)
		}
	}()
	r.pass(ctx)
}

type runningChild struct {
	name    model.JobsetName
	running model.ProcessHandle
}

func (r *Reaper) pass(ctx context.Context) {
	children := r.waitForChildren(ctx)
	if children == nil {
		return
	}

	name, err := r.waitFirst(ctx, children)
	if ctx.Err() != nil {
		return
	}

	r.state.Mu.Lock()
	js, ok := r.state.Jobsets[name]
	if ok {
		js.Running = nil
		r.state.RunningEvals--
	}
	r.state.MaybeDoWork.Broadcast()
	r.state.Mu.Unlock()

	r.recordOutcome(ctx, name, err)
}

// waitForChildren blocks (on ChildStarted) until at least
// one jobset has a running evaluation, then returns a snapshot of all
// of them. Returns nil if ctx is cancelled first.
func (r *Reaper) waitForChildren(ctx context.Context) []runningChild {
	r.state.Mu.Lock()
	defer r.state.Mu.Unlock()

	for r.state.RunningEvals == 0 {
		if ctx.Err() != nil {
			return nil
		}
		r.state.ChildStarted.Wait()
	}

	var out []runningChild
	for name, js := range r.state.Jobsets {
		if js.Running != nil {
			out = append(out, runningChild{name: name, running: js.Running})
		}
	}
	return out
}

// waitFirst races Wait() on every candidate and returns the name and
// error of whichever exits first.
func (r *Reaper) waitFirst(ctx context.Context, children []runningChild) (model.JobsetName, error) {
	type outcome struct {
		name model.JobsetName
		err  error
	}
	results := make(chan outcome, len(children))
	for _, c := range children {
		c := c
		go func() {
			results <- outcome{name: c.name, err: c.running.Wait()}
		}()
	}
	select {
	case o := <-results:
		return o.name, o.err
	case <-ctx.Done():
		return model.JobsetName{}, ctx.Err()
	}
}

// recordOutcome interprets the exit condition exactly as the source
// evaluator's reaper() does: a clean exit 0 is success, exit 1 is a
// recoverable evaluator-reported failure (never persisted as an
// error), and anything else - other exit codes or signal death - is
// recorded as an error message.
func (r *Reaper) recordOutcome(ctx context.Context, name model.JobsetName, waitErr error) {
	errMsg := describeOutcome(waitErr)
	now := r.now()

	if err := r.store.RecordResult(ctx, name, now, errMsg); err != nil {
		r.logger.Error("failed to record evaluation result", "jobset", name.String(), "error", err)
		return
	}

	if errMsg == "" {
		r.logger.Info("evaluation finished", "jobset", name.String(), "status", "ok")
	} else {
		r.logger.Info("evaluation finished", "jobset", name.String(), "status", "error", "message", errMsg)
	}
}

// describeOutcome returns "" for a clean exit 0 or an eval-reported
// exit 1, and a human-readable description of the failure otherwise.
// Every non-empty result begins with "evaluation", per the errorMsg
// convention RecordResult persists it under.
func describeOutcome(waitErr error) string {
	if waitErr == nil {
		return ""
	}
	exitErr, ok := waitErr.(*exec.ExitError)
	if !ok {
		return "evaluation " + waitErr.Error()
	}
	code := exitErr.ExitCode()
	if code == 1 {
		return ""
	}
	if !exitErr.Exited() {
		return "evaluation terminated abnormally: " + exitErr.Error()
	}
	return "evaluation " + exitErr.Error()
}
