// Command roberto manages a notification history database.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/roberto/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
