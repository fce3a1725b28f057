package scheduler

import (
	"context"

	"github.com/nixos/hydra-evaluator/internal/store"
)

// Unlock clears every jobset's start-time marker in one statement. It
// is run unconditionally at daemon startup, recovering from any
// evaluation left "running" by a prior crash, and is also exposed as
// the standalone --unlock CLI mode.
func Unlock(ctx context.Context, st store.Store) error {
	return st.Unlock(ctx)
}
