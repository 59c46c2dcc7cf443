// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// Command is one node of the command tree. A node either groups
// Subcommands or does work in Run.
type Command struct {
	Name string

	// Summary is the one-line description listed in the parent's help.
	Summary string

	// Description is the longer text at the top of the command's own
	// help. Summary is used when it is empty.
	Description string

	// Usage replaces the generated usage line.
	Usage string

	Examples []Example

	// Flags builds the command's flag set. It is called once per
	// parse and once per help rendering.
	Flags func() *pflag.FlagSet

	Subcommands []*Command

	// Run receives the positional arguments left after flag parsing.
	Run func(args []string) error

	parent *Command
}

// Example is one entry of a command's help examples.
type Example struct {
	Description string
	Command     string
}

// helpOutput receives help printed during Execute.
var helpOutput io.Writer = os.Stderr

// usageError is a command-line mistake. Its message ends with a pointer
// to the command's help.
type usageError struct {
	command *Command
	message string
}

func (e *usageError) Error() string {
	return fmt.Sprintf("%s\n\nRun '%s --help' for usage.", e.message, e.command.path())
}

// Execute resolves args against the tree and runs the selected command.
func (c *Command) Execute(args []string) error {
	target, rest, err := c.resolve(args)
	if err != nil {
		return err
	}
	return target.invoke(rest)
}

// resolve walks subcommand names from the front of args.
func (c *Command) resolve(args []string) (*Command, []string, error) {
	current := c
	for len(args) > 0 && len(current.Subcommands) > 0 && !strings.HasPrefix(args[0], "-") && !isHelpFlag(args[0]) {
		next := current.child(args[0])
		if next == nil {
			message := fmt.Sprintf("unknown command %q", args[0])
			if suggestion := suggestCommand(args[0], current.Subcommands); suggestion != "" {
				message += fmt.Sprintf(" (did you mean %q?)", suggestion)
			}
			return nil, nil, &usageError{command: current, message: message}
		}
		current, args = next, args[1:]
	}
	return current, args, nil
}

func (c *Command) child(name string) *Command {
	for _, sub := range c.Subcommands {
		if sub.Name == name {
			sub.parent = c
			return sub
		}
	}
	return nil
}

// invoke parses flags and calls Run.
func (c *Command) invoke(args []string) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.PrintHelp(helpOutput)
		return nil
	}
	if c.Run == nil {
		c.PrintHelp(helpOutput)
		if len(c.Subcommands) == 0 {
			return fmt.Errorf("command %q has nothing to run", c.path())
		}
		return &usageError{command: c, message: "subcommand required"}
	}
	if c.Flags == nil {
		return c.Run(args)
	}

	flagSet := c.Flags()
	flagSet.SetOutput(io.Discard)
	err := flagSet.Parse(args)
	switch {
	case errors.Is(err, pflag.ErrHelp):
		c.PrintHelp(helpOutput)
		return nil
	case err != nil:
		message := err.Error()
		if strings.HasPrefix(message, "unknown") {
			if suggestion := suggestFlag(args, c.Flags()); suggestion != "" {
				message += fmt.Sprintf(" (did you mean %s?)", suggestion)
			}
		}
		return &usageError{command: c, message: message}
	}
	return c.Run(flagSet.Args())
}

// PrintHelp writes the command's help text to w.
func (c *Command) PrintHelp(w io.Writer) {
	var help strings.Builder

	if text := c.Description; text != "" {
		fmt.Fprintf(&help, "%s\n\n", text)
	} else if c.Summary != "" {
		fmt.Fprintf(&help, "%s\n\n", c.Summary)
	}

	usage := c.Usage
	if usage == "" {
		usage = c.path() + " [flags]"
		if len(c.Subcommands) > 0 {
			usage = c.path() + " <command> [flags]"
		}
	}
	fmt.Fprintf(&help, "Usage:\n  %s\n", usage)

	if len(c.Subcommands) > 0 {
		help.WriteString("\nCommands:\n")
		table := tabwriter.NewWriter(&help, 2, 0, 3, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(table, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		table.Flush()
	}

	if c.Flags != nil {
		if defaults := c.Flags().FlagUsages(); defaults != "" {
			fmt.Fprintf(&help, "\nFlags:\n%s", defaults)
		}
	}

	if len(c.Examples) > 0 {
		help.WriteString("\nExamples:\n")
		for _, example := range c.Examples {
			if example.Description != "" {
				fmt.Fprintf(&help, "  # %s\n", example.Description)
			}
			fmt.Fprintf(&help, "  %s\n", example.Command)
		}
	}

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(&help, "\nRun '%s <command> --help' for more information on a command.\n", c.path())
	}
	io.WriteString(w, help.String())
}

// path is the command as typed from the root, e.g. "statesync-ctl status".
func (c *Command) path() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.path() + " " + c.Name
}

func isHelpFlag(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}
