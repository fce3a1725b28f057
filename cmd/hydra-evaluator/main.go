// Command hydra-evaluator is the jobset evaluator-scheduler daemon:
// it watches the jobsets/projects tables for changes, launches
// hydra-eval-jobset for whichever jobsets become eligible, and reaps
// their results. See root.go for its three invocation shapes.
package main

import (
	"fmt"
	"os"

	"github.com/nixos/hydra-evaluator/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
