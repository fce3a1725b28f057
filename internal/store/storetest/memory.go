// Package storetest provides an in-memory store.Store fake for
// scheduler unit tests, in the same spirit as the teacher's sqlite
// ":memory:" test stores but without any SQL engine at all: the
// scheduler only depends on the store.Store interface, so a plain map
// is enough to drive every test scenario.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/nixos/hydra-evaluator/internal/store"
	"github.com/nixos/hydra-evaluator/pkg/model"
)

// Memory is a goroutine-safe in-memory store.Store.
type Memory struct {
	mu               sync.Mutex
	rows             map[model.JobsetName]store.JobsetRow
	unfinishedBuilds map[model.JobsetName]bool
	started          map[model.JobsetName]time.Time
	results          []Result
	unlockCalls      int
	closeCalled      bool
}

// Result captures one RecordResult call, for assertions in tests.
type Result struct {
	Name   model.JobsetName
	Now    time.Time
	ErrMsg string
}

// New builds an empty Memory store.
func New() *Memory {
	return &Memory{
		rows:             make(map[model.JobsetName]store.JobsetRow),
		unfinishedBuilds: make(map[model.JobsetName]bool),
		started:          make(map[model.JobsetName]time.Time),
	}
}

// PutJobset inserts or replaces a jobset row, as if it were added by a
// test's fixture setup.
func (m *Memory) PutJobset(row store.JobsetRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[row.Name] = row
}

// RemoveJobset deletes a jobset row, simulating it becoming disabled
// or deleted between syncs.
func (m *Memory) RemoveJobset(name model.JobsetName) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, name)
}

// SetUnfinishedBuilds controls the result of HasUnfinishedBuilds for a
// given jobset.
func (m *Memory) SetUnfinishedBuilds(name model.JobsetName, unfinished bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unfinishedBuilds[name] = unfinished
}

func (m *Memory) ReadJobsets(ctx context.Context) ([]store.JobsetRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.JobsetRow, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	return out, nil
}

func (m *Memory) MarkStarted(ctx context.Context, name model.JobsetName, startTime time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started[name] = startTime
	return nil
}

func (m *Memory) RecordResult(ctx context.Context, name model.JobsetName, now time.Time, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, Result{Name: name, Now: now, ErrMsg: errMsg})
	if row, ok := m.rows[name]; ok {
		row.TriggerTime = model.NotTriggered()
		m.rows[name] = row
	}
	return nil
}

func (m *Memory) HasUnfinishedBuilds(ctx context.Context, name model.JobsetName) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unfinishedBuilds[name], nil
}

func (m *Memory) Unlock(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlockCalls++
	m.started = make(map[model.JobsetName]time.Time)
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalled = true
	return nil
}

// Results returns a copy of every RecordResult call observed so far.
func (m *Memory) Results() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Result, len(m.results))
	copy(out, m.results)
	return out
}

// UnlockCalls reports how many times Unlock was called.
func (m *Memory) UnlockCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlockCalls
}
