// Command dashsim runs the simulated instrument cluster and its CAN tooling.
package main

import (
	"fmt"
	"os"

	"github.com/notnil/dashsim/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
