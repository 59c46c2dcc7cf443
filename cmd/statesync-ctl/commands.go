// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/statesync/cmd/statesync-ctl/cli"
	"github.com/bureau-foundation/statesync/lib/config"
	"github.com/bureau-foundation/statesync/lib/fieldwatch"
	"github.com/bureau-foundation/statesync/lib/schema/playerdata"
	"github.com/bureau-foundation/statesync/lib/service"
)

// callTimeout bounds a single socket call.
const callTimeout = 30 * time.Second

// stdout is swapped by tests.
var stdout io.Writer = os.Stdout

// connection holds the flags every subcommand shares.
type connection struct {
	socketPath string
	outputJSON bool
}

func (c *connection) flags(name string, withJSON bool) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.StringVar(&c.socketPath, "socket", "", "agent socket path (default: $STATESYNC_CONFIG's socket.path, else the built-in default)")
	if withJSON {
		flagSet.BoolVar(&c.outputJSON, "json", false, "output as JSON")
	}
	return flagSet
}

// call resolves the socket and performs one action.
func (c *connection) call(action string, fields, result any) error {
	socketPath := c.socketPath
	if socketPath == "" {
		socketPath = config.DefaultSocketPath()
		if os.Getenv("STATESYNC_CONFIG") != "" {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			socketPath = cfg.Socket.Path
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return service.NewClient(socketPath).Call(ctx, action, fields, result)
}

type sessionStatus struct {
	Identity       string `cbor:"identity"        json:"identity"`
	Mode           string `cbor:"mode"            json:"mode"`
	HasBaseline    bool   `cbor:"has_baseline"    json:"has_baseline"`
	BackoffCounter int    `cbor:"backoff_counter" json:"backoff_counter"`
	InFlight       bool   `cbor:"in_flight"       json:"in_flight"`
	Succeeded      uint64 `cbor:"succeeded"       json:"succeeded"`
	Failed         uint64 `cbor:"failed"          json:"failed"`
}

type agentStatus struct {
	UptimeSeconds     float64         `cbor:"uptime_seconds"          json:"uptime_seconds"`
	ManifestVersion   int             `cbor:"manifest_version"        json:"manifest_version"`
	PendingFields     int             `cbor:"pending_fields"          json:"pending_fields"`
	TrackedContainers int             `cbor:"tracked_containers"      json:"tracked_containers"`
	BitLogEntries     int             `cbor:"bitlog_entries"          json:"bitlog_entries"`
	QueryAddress      string          `cbor:"query_address,omitempty" json:"query_address,omitempty"`
	Sessions          []sessionStatus `cbor:"sessions"                json:"sessions"`
}

type agentSnapshot struct {
	ManifestVersion int             `cbor:"manifest_version"   json:"manifest_version"`
	Identity        string          `cbor:"identity,omitempty" json:"identity,omitempty"`
	Data            playerdata.Data `cbor:"data"               json:"data"`
}

func statusCommand() *cli.Command {
	var conn connection
	return &cli.Command{
		Name:    "status",
		Summary: "Show agent status and per-session sync state",
		Flags:   func() *pflag.FlagSet { return conn.flags("status", true) },
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			var status agentStatus
			if err := conn.call("status", nil, &status); err != nil {
				return err
			}
			if conn.outputJSON {
				return cli.WriteJSON(stdout, status)
			}
			printStatus(stdout, status)
			return nil
		},
	}
}

func printStatus(w io.Writer, status agentStatus) {
	manifestVersion := "none"
	if status.ManifestVersion >= 0 {
		manifestVersion = fmt.Sprint(status.ManifestVersion)
	}
	fmt.Fprintf(w, "uptime:             %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(w, "manifest version:   %s\n", manifestVersion)
	fmt.Fprintf(w, "pending fields:     %d\n", status.PendingFields)
	fmt.Fprintf(w, "tracked containers: %d\n", status.TrackedContainers)
	fmt.Fprintf(w, "bit-log entries:    %d\n", status.BitLogEntries)
	if status.QueryAddress != "" {
		fmt.Fprintf(w, "query service:      ws://%s/\n", status.QueryAddress)
	}
	if len(status.Sessions) == 0 {
		fmt.Fprintf(w, "\nno sessions yet\n")
		return
	}

	fmt.Fprintln(w)
	table := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintf(table, "IDENTITY\tMODE\tBASELINE\tBACKOFF\tIN FLIGHT\tOK\tFAILED\n")
	for _, session := range status.Sessions {
		fmt.Fprintf(table, "%s\t%s\t%t\t%d\t%t\t%d\t%d\n",
			session.Identity, session.Mode, session.HasBaseline, session.BackoffCounter,
			session.InFlight, session.Succeeded, session.Failed)
	}
	table.Flush()
}

func snapshotCommand() *cli.Command {
	var conn connection
	return &cli.Command{
		Name:        "snapshot",
		Summary:     "Print the full current snapshot as JSON",
		Description: "Print the snapshot the agent would submit as a full sync, in the\nsame JSON form the query service serves.",
		Flags:       func() *pflag.FlagSet { return conn.flags("snapshot", false) },
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			var snapshot agentSnapshot
			if err := conn.call("snapshot", nil, &snapshot); err != nil {
				return err
			}
			return cli.WriteJSON(stdout, snapshot)
		},
	}
}

func syncCommand() *cli.Command {
	var conn connection
	return &cli.Command{
		Name:        "sync",
		Summary:     "Run one submission tick now",
		Description: "Run one submission tick now and print its outcome. Exits 1 when the\ntick could not run (no session or no manifest).",
		Flags:       func() *pflag.FlagSet { return conn.flags("sync", true) },
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			var response struct {
				Outcome string `cbor:"outcome" json:"outcome"`
			}
			if err := conn.call("sync", nil, &response); err != nil {
				return err
			}
			if conn.outputJSON {
				if err := cli.WriteJSON(stdout, response); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(stdout, response.Outcome)
			}
			if response.Outcome == "no_session" || response.Outcome == "no_manifest" {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}

func notifyCommand() *cli.Command {
	var conn connection
	return &cli.Command{
		Name:        "notify",
		Summary:     "Send notifications from a JSONC file",
		Usage:       "statesync-ctl notify [flags] <file.jsonc>",
		Description: "Send a batch of host notifications read from a JSONC array. The batch\nis validated locally first and applied by the agent all or nothing.",
		Examples: []cli.Example{{
			Description: "Log in and change a tracked varp",
			Command:     "statesync-ctl notify login.jsonc",
		}},
		Flags: func() *pflag.FlagSet { return conn.flags("notify", false) },
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one notification file")
			}
			batch, err := fieldwatch.LoadWireFile(args[0])
			if err != nil {
				return err
			}
			var response struct {
				Applied int `cbor:"applied"`
			}
			if err := conn.call("notify", map[string]any{"notifications": batch}, &response); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "applied %d notifications\n", response.Applied)
			return nil
		},
	}
}
