package scheduler

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nixos/hydra-evaluator/internal/store"
	"github.com/nixos/hydra-evaluator/internal/store/storetest"
	"github.com/nixos/hydra-evaluator/pkg/model"
)

type stubHandle struct {
	err  error
	done chan struct{}
}

func newStubHandle(err error) *stubHandle {
	h := &stubHandle{err: err, done: make(chan struct{})}
	close(h.done)
	return h
}

func (h *stubHandle) Wait() error {
	<-h.done
	return h.err
}

func TestReaper_RecordOutcome_SuccessNotPersistedAsError(t *testing.T) {
	mem := storetest.New()
	name := model.JobsetName{Project: "p", Name: "j"}
	mem.PutJobset(jobsetRow(name))

	s := NewState(4)
	s.Jobsets[name] = &model.Jobset{Name: name, Running: newStubHandle(nil)}
	s.RunningEvals = 1

	r := NewReaper(s, mem, testLogger(t))
	r.recordOutcome(context.Background(), name, nil)

	results := mem.Results()
	if len(results) != 1 {
		t.Fatalf("got %d RecordResult calls, want 1", len(results))
	}
	if results[0].ErrMsg != "" {
		t.Errorf("ErrMsg = %q, want empty for a clean exit", results[0].ErrMsg)
	}
}

func TestReaper_RecordOutcome_ExitOneNotPersistedAsError(t *testing.T) {
	mem := storetest.New()
	name := model.JobsetName{Project: "p", Name: "j"}
	mem.PutJobset(jobsetRow(name))

	exitErr := runAndCaptureExitError(t, 1)

	s := NewState(4)
	r := NewReaper(s, mem, testLogger(t))
	r.recordOutcome(context.Background(), name, exitErr)

	results := mem.Results()
	if len(results) != 1 {
		t.Fatalf("got %d RecordResult calls, want 1", len(results))
	}
	if results[0].ErrMsg != "" {
		t.Errorf("ErrMsg = %q, want empty: exit status 1 is a recoverable eval-reported failure", results[0].ErrMsg)
	}
}

func TestReaper_RecordOutcome_OtherExitIsPersistedAsError(t *testing.T) {
	mem := storetest.New()
	name := model.JobsetName{Project: "p", Name: "j"}
	mem.PutJobset(jobsetRow(name))

	exitErr := runAndCaptureExitError(t, 2)

	s := NewState(4)
	r := NewReaper(s, mem, testLogger(t))
	r.recordOutcome(context.Background(), name, exitErr)

	results := mem.Results()
	if len(results) != 1 {
		t.Fatalf("got %d RecordResult calls, want 1", len(results))
	}
	if results[0].ErrMsg == "" {
		t.Error("ErrMsg should be non-empty for an exit code other than 0 or 1")
	}
	if !strings.HasPrefix(results[0].ErrMsg, "evaluation") {
		t.Errorf("ErrMsg = %q, want it to begin with %q", results[0].ErrMsg, "evaluation")
	}
}

func jobsetRow(name model.JobsetName) store.JobsetRow {
	return store.JobsetRow{Name: name, TriggerTime: model.NotTriggered()}
}

// runAndCaptureExitError runs `sh -c "exit N"` and returns the
// resulting *exec.ExitError, giving tests a real ExitError without
// depending on a fixed binary beyond /bin/sh.
func runAndCaptureExitError(t *testing.T, code int) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "sh", "-c", "exit "+strconv.Itoa(code))
	err := cmd.Run()
	if err == nil {
		t.Fatalf("exit %d: expected a non-nil error", code)
	}
	return err
}
