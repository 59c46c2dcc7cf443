// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

// quietHelp discards help printed during Execute.
func quietHelp(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buffer bytes.Buffer
	previous := helpOutput
	helpOutput = &buffer
	t.Cleanup(func() { helpOutput = previous })
	return &buffer
}

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "statesync-ctl",
		Subcommands: []*Command{
			{Name: "status", Run: func(args []string) error { called = "status"; return nil }},
			{Name: "notify", Run: func(args []string) error {
				called = "notify"
				receivedArgs = args
				return nil
			}},
		},
	}

	if err := root.Execute([]string{"notify", "batch.jsonc"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "notify" {
		t.Errorf("dispatched to %q, want notify", called)
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "batch.jsonc" {
		t.Errorf("args = %v, want [batch.jsonc]", receivedArgs)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var socketPath string
	var remaining []string

	command := &Command{
		Name: "status",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flagSet.StringVar(&socketPath, "socket", "/default.sock", "socket path")
			return flagSet
		},
		Run: func(args []string) error {
			remaining = args
			return nil
		},
	}

	if err := command.Execute([]string{"--socket", "/run/agent.sock", "extra"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if socketPath != "/run/agent.sock" {
		t.Errorf("socket = %q", socketPath)
	}
	if len(remaining) != 1 || remaining[0] != "extra" {
		t.Errorf("remaining args = %v", remaining)
	}
}

func TestCommand_Execute_Suggestions(t *testing.T) {
	root := &Command{
		Name: "statesync-ctl",
		Subcommands: []*Command{
			{Name: "status", Run: func([]string) error { return nil }},
			{Name: "snapshot", Run: func([]string) error { return nil }},
			{
				Name: "sync",
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("sync", pflag.ContinueOnError)
					flagSet.String("socket", "", "socket path")
					return flagSet
				},
				Run: func([]string) error { return nil },
			},
		},
	}

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"command typo", []string{"stauts"}, `did you mean "status"`},
		{"no close command", []string{"teleport"}, `unknown command "teleport"`},
		{"flag typo", []string{"sync", "--sockt", "x"}, "did you mean --socket"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := root.Execute(test.args)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), test.wantErr) {
				t.Errorf("error %q does not contain %q", err, test.wantErr)
			}
		})
	}
}

func TestCommand_Execute_SubcommandRequired(t *testing.T) {
	help := quietHelp(t)
	root := &Command{
		Name:        "statesync-ctl",
		Subcommands: []*Command{{Name: "status", Run: func([]string) error { return nil }}},
	}
	err := root.Execute(nil)
	if err == nil || !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("Execute(nil) = %v, want subcommand required", err)
	}
	if !strings.Contains(help.String(), "Commands:") {
		t.Errorf("group help not printed:\n%s", help)
	}
}

func TestCommand_Execute_Help(t *testing.T) {
	ran := false
	root := &Command{
		Name: "statesync-ctl",
		Subcommands: []*Command{{
			Name:    "sync",
			Summary: "Run a submission tick now",
			Flags: func() *pflag.FlagSet {
				return pflag.NewFlagSet("sync", pflag.ContinueOnError)
			},
			Run: func([]string) error { ran = true; return nil },
		}},
	}

	for _, args := range [][]string{{"help"}, {"--help"}, {"sync", "-h"}, {"sync", "--help"}} {
		help := quietHelp(t)
		if err := root.Execute(args); err != nil {
			t.Errorf("Execute(%v) = %v", args, err)
		}
		if help.Len() == 0 {
			t.Errorf("Execute(%v) printed no help", args)
		}
	}
	if ran {
		t.Error("help request ran the command")
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	root := &Command{
		Name:        "statesync-ctl",
		Description: "Control a running statesync agent.",
		Subcommands: []*Command{
			{Name: "status", Summary: "Show agent status"},
			{
				Name:    "sync",
				Summary: "Run a submission tick now",
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("sync", pflag.ContinueOnError)
					flagSet.Bool("json", false, "output as JSON")
					return flagSet
				},
				Examples: []Example{{Description: "Force a tick", Command: "statesync-ctl sync"}},
			},
		},
	}

	var buffer bytes.Buffer
	root.PrintHelp(&buffer)
	help := buffer.String()
	for _, want := range []string{
		"Control a running statesync agent.",
		"statesync-ctl <command> [flags]",
		"status",
		"Run a submission tick now",
		"Run 'statesync-ctl <command> --help'",
	} {
		if !strings.Contains(help, want) {
			t.Errorf("root help missing %q:\n%s", want, help)
		}
	}

	sync := root.Subcommands[1]
	sync.parent = root
	buffer.Reset()
	sync.PrintHelp(&buffer)
	help = buffer.String()
	for _, want := range []string{"statesync-ctl sync [flags]", "--json", "# Force a tick"} {
		if !strings.Contains(help, want) {
			t.Errorf("sync help missing %q:\n%s", want, help)
		}
	}
}
