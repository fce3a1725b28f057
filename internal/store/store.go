package store

import (
	"context"
	"time"

	"github.com/nixos/hydra-evaluator/pkg/model"
)

// JobsetRow is the flat projection read from the jobsets/projects
// join; Sync converts it into a model.Jobset.
type JobsetRow struct {
	Name            model.JobsetName
	EvaluationStyle model.EvaluationStyle
	LastCheckedTime time.Time
	TriggerTime     time.Time
	CheckInterval   time.Duration
}

// Store is the persistence layer the scheduler depends on. A real
// implementation talks to Postgres over database/sql; tests use an
// in-memory fake (see storetest).
type Store interface {
	// ReadJobsets returns every enabled jobset of every enabled
	// project, equivalent to the original evaluator's single join
	// query. Disabled jobsets and jobsets of disabled projects are
	// simply absent from the result.
	ReadJobsets(ctx context.Context) ([]JobsetRow, error)

	// MarkStarted records that an evaluation of name has begun. It is
	// called by the dispatcher immediately before the child process is
	// started.
	MarkStarted(ctx context.Context, name model.JobsetName, startTime time.Time) error

	// RecordResult clears the jobset's start marker, clears its trigger
	// when that trigger is not later than the run's start time, and,
	// when errMsg is non-empty, records it alongside errorTime. Called
	// by the reaper once a child has been collected.
	RecordResult(ctx context.Context, name model.JobsetName, now time.Time, errMsg string) error

	// HasUnfinishedBuilds reports whether the jobset's most recent
	// evaluation still has builds without a terminal outcome. Used
	// only for model.StyleOneAtATime jobsets.
	HasUnfinishedBuilds(ctx context.Context, name model.JobsetName) (bool, error)

	// Unlock clears every jobset's start-time marker. Run once at
	// daemon startup (recovering from a prior crash) and from the
	// standalone --unlock mode.
	Unlock(ctx context.Context) error

	// Close releases any held resources (connection pool, listener).
	Close() error
}

// Notifier delivers asynchronous change notifications, the Go
// analogue of a pqxx notification receiver. A real implementation
// wraps a *pq.Listener subscribed to jobsets_added, jobsets_deleted,
// and jobset_scheduling_changed.
type Notifier interface {
	// Notifications returns a channel receiving one value per
	// notification. It is closed when the underlying listener shuts
	// down; callers then reconnect and resubscribe. PQListener reports
	// a lost and re-established connection as one extra value (an
	// empty channel name) rather than by closing.
	Notifications() <-chan string

	Close() error
}
