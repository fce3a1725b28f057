package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/nixos/hydra-evaluator/internal/store/storetest"
	"github.com/nixos/hydra-evaluator/pkg/model"
)

func TestRegistry_Sync_AddsAndRemoves(t *testing.T) {
	mem := storetest.New()
	a := model.JobsetName{Project: "p", Name: "a"}
	mem.PutJobset(jobsetRow(a))

	s := NewState(4)
	r := NewRegistry(mem, nil, testLogger(t))
	r.Attach(s)

	if err := r.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if _, ok := s.Jobsets[a]; !ok {
		t.Fatal("jobset a should have been added")
	}

	mem.RemoveJobset(a)
	if err := r.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if _, ok := s.Jobsets[a]; ok {
		t.Fatal("jobset a should have been removed once absent from the store")
	}
}

func TestRegistry_Sync_DeferRemovalWhileRunning(t *testing.T) {
	mem := storetest.New()
	a := model.JobsetName{Project: "p", Name: "a"}
	mem.PutJobset(jobsetRow(a))

	s := NewState(4)
	r := NewRegistry(mem, nil, testLogger(t))
	r.Attach(s)

	if err := r.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	s.Jobsets[a].Running = newStubHandle(nil)

	mem.RemoveJobset(a)
	if err := r.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if _, ok := s.Jobsets[a]; !ok {
		t.Fatal("a jobset with a running evaluation must not be removed until it is reaped")
	}
}

func TestRegistry_Sync_PreservesRunningAcrossRefresh(t *testing.T) {
	mem := storetest.New()
	a := model.JobsetName{Project: "p", Name: "a"}
	mem.PutJobset(jobsetRow(a))

	s := NewState(4)
	r := NewRegistry(mem, nil, testLogger(t))
	r.Attach(s)

	if err := r.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	s.Jobsets[a].Running = newStubHandle(nil)
	s.RunningEvals = 1

	row := jobsetRow(a)
	row.LastCheckedTime = time.Now()
	mem.PutJobset(row)
	if err := r.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if s.Jobsets[a].Running == nil {
		t.Fatal("syncing scalar fields must not clear an in-flight Running handle")
	}
}
