// Command hswatch runs the health and safety watchdog.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/hswatch/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
