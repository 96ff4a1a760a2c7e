// Command runcollab runs the collaboration server and its clients.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/runcollab/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
