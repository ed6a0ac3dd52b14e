// Command xtsunit runs describe/it test scenarios against stubbed system APIs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/xtsunit/internal/cli"
	"github.com/roach88/xtsunit/internal/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return cli.ExitCommandError
	}

	cmd := cli.NewRootCommand(cfg)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
