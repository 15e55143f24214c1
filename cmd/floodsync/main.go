// Command floodsync coordinates flood rescues against a local SQLite cache
// and an optional Redis or Postgres remote.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/floodsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
