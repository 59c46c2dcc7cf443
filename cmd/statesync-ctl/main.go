// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Statesync-ctl talks to a running statesync-agent over its service
// socket: it shows status and the current snapshot, forces a
// submission tick, and replays notification files for testing.
package main

import (
	"os"

	"github.com/bureau-foundation/statesync/cmd/statesync-ctl/cli"
	"github.com/bureau-foundation/statesync/lib/process"
	"github.com/bureau-foundation/statesync/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	return rootCommand().Execute(args)
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:        "statesync-ctl",
		Description: "Inspect and drive a running statesync agent.",
		Subcommands: []*cli.Command{
			statusCommand(),
			snapshotCommand(),
			syncCommand(),
			notifyCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					version.Print("statesync-ctl")
					return nil
				},
			},
		},
	}
}
