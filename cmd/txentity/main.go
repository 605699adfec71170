// Command txentity inspects transient entity wrapper stores, their dispatch
// tables and lifecycle scenarios.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/txentity/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
