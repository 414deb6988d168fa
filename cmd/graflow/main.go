// Command graflow manages flow types, runs and shared memory of a graflow
// deployment from the command line.
package main

import (
	"os"

	"github.com/xraph/graflow/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
