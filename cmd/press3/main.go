package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"Press3/internal/logger"
)

// command is one press3 subcommand.
type command struct {
	name    string
	summary string
	flags   func() *pflag.FlagSet
	run     func(fs *pflag.FlagSet) error
}

// commands lists every subcommand in help order.
var commands = []*command{
	devnetCommand(),
	initCommand(),
	publishCommand(),
	saveCommand(),
	promoteCommand(),
	healthCommand(),
	retrieveCommand(),
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches args to the named subcommand.
func run(args []string) error {
	if len(args) == 0 || isHelp(args[0]) {
		printUsage(os.Stderr)
		return nil
	}

	cmd := lookup(args[0])
	if cmd == nil {
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}

	fs := cmd.flags()
	level := fs.String("log-level", "info", "log level (debug, info, warn, error)")

	if err := fs.Parse(args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	lvl, err := logger.ParseLevel(*level)
	if err != nil {
		return err
	}

	logger.InitWithLevel(lvl)

	return cmd.run(fs)
}

// lookup returns the subcommand called name, or nil.
func lookup(name string) *command {
	for _, c := range commands {
		if c.name == name {
			return c
		}
	}

	return nil
}

// isHelp reports whether arg asks for the command listing.
func isHelp(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}

// printUsage writes the command listing to w.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: press3 <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")

	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s\t%s\n", c.name, c.summary)
	}
	tw.Flush()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'press3 <command> --help' for command flags.")
}

// newFlagSet creates a flag set that reports errors instead of exiting.
func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet("press3 "+name, pflag.ContinueOnError)
	fs.SortFlags = false

	return fs
}
