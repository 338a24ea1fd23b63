// Package main is btdt, the cache client CLI: hash, restore, store,
// and clean subcommands over a local directory or a remote cache
// server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"btdt/internal/orchestrator"
)

func allCommands() []*Command {
	return []*Command{
		hashCommand(),
		restoreCommand(),
		storeCommand(),
		cleanCommand(),
	}
}

// run is the testable entry point: it never calls os.Exit itself.
func run(stdout, stderr io.Writer, args []string) int {
	commands := allCommands()
	byName := make(map[string]*Command, len(commands))
	for _, c := range commands {
		byName[c.Name()] = c
	}

	if len(args) < 2 {
		printUsage(stderr, commands)
		return orchestrator.ExitBadInvocation
	}

	cmd, ok := byName[args[1]]
	if !ok {
		fmt.Fprintln(stderr, "error: unknown command:", args[1])
		printUsage(stderr, commands)
		return orchestrator.ExitBadInvocation
	}

	return cmd.Run(context.Background(), stdout, stderr, args[2:])
}

func printUsage(w io.Writer, commands []*Command) {
	fmt.Fprintln(w, "btdt - content-addressed CI artifact cache client")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: btdt <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintln(w, c.HelpLine())
	}
}

func main() {
	os.Exit(run(os.Stdout, os.Stderr, os.Args))
}
