// Command pubsync mirrors a shared remote record store into a local
// database.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/pubsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pubsync:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
