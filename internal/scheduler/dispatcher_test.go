package scheduler

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/nixos/hydra-evaluator/internal/store"
	"github.com/nixos/hydra-evaluator/pkg/model"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

func TestDispatcher_EligibleLocked_Ordering(t *testing.T) {
	s := NewState(4)
	now := time.Now()

	late := model.JobsetName{Project: "p", Name: "late"}
	early := model.JobsetName{Project: "p", Name: "early"}
	s.Jobsets[late] = &model.Jobset{
		Name: late, EvaluationStyle: model.StyleSchedule,
		TriggerTime: now.Add(-1 * time.Minute), LastCheckedTime: now.Add(-time.Hour), CheckInterval: time.Minute,
	}
	s.Jobsets[early] = &model.Jobset{
		Name: early, EvaluationStyle: model.StyleSchedule,
		TriggerTime: now.Add(-2 * time.Minute), LastCheckedTime: now.Add(-time.Hour), CheckInterval: time.Minute,
	}

	d := NewDispatcher(s, store.Store(nil), testLogger(t))
	d.now = func() time.Time { return now }

	got := d.eligibleLocked()
	if len(got) != 2 {
		t.Fatalf("eligibleLocked() returned %d jobsets, want 2", len(got))
	}
	if got[0].Name != early {
		t.Errorf("first eligible jobset = %s, want %s (earlier trigger time sorts first)", got[0].Name, early)
	}
}

type fakeStore struct {
	store.Store
	unfinished map[model.JobsetName]bool
}

func (f fakeStore) HasUnfinishedBuilds(ctx context.Context, name model.JobsetName) (bool, error) {
	return f.unfinished[name], nil
}

func TestDispatcher_EligibleLocked_OneAtATimeGating(t *testing.T) {
	s := NewState(4)
	now := time.Now()
	name := model.JobsetName{Project: "p", Name: "oaat"}
	s.Jobsets[name] = &model.Jobset{
		Name: name, EvaluationStyle: model.StyleOneAtATime,
		TriggerTime: now, LastCheckedTime: now.Add(-time.Hour), CheckInterval: time.Minute,
	}

	fs := fakeStore{unfinished: map[model.JobsetName]bool{name: true}}
	d := NewDispatcher(s, fs, testLogger(t))
	d.now = func() time.Time { return now }

	if got := d.eligibleLocked(); len(got) != 0 {
		t.Fatalf("eligibleLocked() = %d jobsets, want 0 while builds are unfinished", len(got))
	}

	fs.unfinished[name] = false
	if got := d.eligibleLocked(); len(got) != 1 {
		t.Fatalf("eligibleLocked() = %d jobsets, want 1 once builds finish", len(got))
	}
}
