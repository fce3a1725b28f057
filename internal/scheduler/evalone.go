package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"

	"github.com/nixos/hydra-evaluator/internal/store"
	"github.com/nixos/hydra-evaluator/pkg/model"
)

// EvalOne runs a single hydra-eval-jobset invocation for name
// unconditionally, bypassing the eligibility checks entirely — the
// direct realization of the `<program> <project> <jobset>` CLI form. It
// first reads the enabled jobsets from the store once, so
// model.ErrJobsetNotFound is returned for a name the database does not
// list, matching the source evaluator's own one-shot-eval path (which
// reads the jobset table before forking). Once the child has run, any
// exit status counts as completion and nil is returned; an error is
// returned only when the child cannot be run or waited for.
func EvalOne(ctx context.Context, st store.Store, name model.JobsetName, logger *slog.Logger) error {
	rows, err := st.ReadJobsets(ctx)
	if err != nil {
		return fmt.Errorf("evalOne: sync: %w", err)
	}
	found := false
	for _, row := range rows {
		if row.Name == name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("evalOne %s: %w", name.String(), model.ErrJobsetNotFound)
	}

	logger.Info("running one-shot evaluation", "jobset", name.String())
	cmd := exec.CommandContext(ctx, evaluatorCommand, name.Project, name.Name)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("evalOne %s: %w", name.String(), err)
		}
		logger.Info("one-shot evaluation finished", "jobset", name.String(), "status", exitErr.Error())
	}
	return nil
}
