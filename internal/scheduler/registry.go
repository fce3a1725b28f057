package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nixos/hydra-evaluator/internal/store"
	"github.com/nixos/hydra-evaluator/pkg/model"
)

// retryDelay is the sleep between reconnect attempts after a registry
// sync or listen failure, matching the original evaluator's "sleep(30)"
// outer retry loop.
const retryDelay = 30 * time.Second

// Registry keeps State.Jobsets current with the jobsets/projects
// tables and wakes the dispatcher whenever something changes.
type Registry struct {
	state  *State
	store  store.Store
	logger *slog.Logger

	// newListener is overridable in tests to avoid a real Postgres
	// LISTEN connection.
	newListener func() (store.Notifier, error)
}

// NewRegistry builds a Registry. newListener is the listener
// constructor (production wires it to store.NewPQListener against the
// same DSN st talks to).
func NewRegistry(st store.Store, newListener func() (store.Notifier, error), logger *slog.Logger) *Registry {
	return &Registry{
		state:       nil, // set by Attach
		store:       st,
		logger:      logger.With("component", "registry"),
		newListener: newListener,
	}
}

// Attach binds the Registry to the shared State. Split from the
// constructor so State, Registry, Dispatcher, and Reaper can all be
// built before any of them capture pointers to each other.
func (r *Registry) Attach(s *State) { r.state = s }

// Sync performs one full read of the registry and reconciles it into
// State.Jobsets: new rows are inserted, existing rows have their
// scalar fields (style, last-checked time, check interval and trigger
// time) overwritten from the row while Running is preserved, and rows
// no longer present are removed unless they still have a running
// evaluation.
func (r *Registry) Sync(ctx context.Context) error {
	rows, err := r.store.ReadJobsets(ctx)
	if err != nil {
		return err
	}

	r.state.Mu.Lock()
	defer r.state.Mu.Unlock()

	seen := make(map[model.JobsetName]bool, len(rows))
	for _, row := range rows {
		seen[row.Name] = true
		js, ok := r.state.Jobsets[row.Name]
		if !ok {
			js = &model.Jobset{Name: row.Name}
			r.state.Jobsets[row.Name] = js
			r.logger.Info("jobset added", "jobset", row.Name.String())
		}
		js.EvaluationStyle = row.EvaluationStyle
		js.LastCheckedTime = row.LastCheckedTime
		js.CheckInterval = row.CheckInterval
		js.TriggerTime = row.TriggerTime
	}

	for name, js := range r.state.Jobsets {
		if seen[name] {
			continue
		}
		if js.Running != nil {
			// Deferred removal: an in-flight evaluation must be
			// reaped before its jobset disappears from the registry.
			continue
		}
		delete(r.state.Jobsets, name)
		r.logger.Info("jobset removed", "jobset", name.String())
	}

	r.state.MaybeDoWork.Broadcast()
	return nil
}

// Run drives the registry monitor goroutine: connect, subscribe,
// sync, notify, wait — forever, reconnecting with a fixed retry delay
// on any error. It returns only when ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	for {
		if err := ctx.Err(); err != nil {
			return
		}
		if err := r.runOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("registry monitor failed, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
		}
	}
}

func (r *Registry) runOnce(ctx context.Context) error {
	listener, err := r.newListener()
	if err != nil {
		return err
	}
	defer listener.Close()

	if err := r.Sync(ctx); err != nil {
		return err
	}

	notifications := listener.Notifications()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-notifications:
			if !ok {
				return errors.New("notification channel closed")
			}
			if err := r.Sync(ctx); err != nil {
				return err
			}
		}
	}
}
