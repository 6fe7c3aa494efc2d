// Command pbsched is the scheduling-core process entrypoint (spec §6.4):
// flag parsing, config load, the SIGHUP-reload / SIGTERM-drain signal loop,
// and the periodic RunCycle driver. Structured the way nomad's own
// cmd/nomad/main.go defers to its command package: main only builds the
// cli.CLI and exits with its status code, every flag/command concern lives
// under cmd/pbsched/command.
package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"

	"github.com/pbssched/core/cmd/pbsched/command"
)

// version is overridden at build time via -ldflags, matching nomad's
// version-stamping convention.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ui := &cli.BasicUi{Writer: os.Stdout, ErrorWriter: os.Stderr}

	c := cli.NewCLI("pbsched", version)
	c.Args = args
	c.Commands = map[string]cli.CommandFactory{
		"run": func() (cli.Command, error) {
			return &command.RunCommand{Ui: ui}, nil
		},
		"version": func() (cli.Command, error) {
			return &command.VersionCommand{Ui: ui, Version: version}, nil
		},
	}

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return exitCode
}
