// Command tttsync plays, journals and replays tic-tac-toe client sessions.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tttsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
