package model

import "errors"

// Sentinel errors returned by the scheduler and store packages.
var (
	// ErrJobsetNotFound is returned by evalOne when the requested
	// project/jobset pair is absent from the enabled jobsets read from
	// the store.
	ErrJobsetNotFound = errors.New("jobset not found")

	// ErrNoConnection reports that a store operation could not obtain a
	// database connection from the pool. No Store implementation in this
	// module returns it; PostgresStore passes on database/sql's own
	// errors instead.
	ErrNoConnection = errors.New("no database connection available")
)
