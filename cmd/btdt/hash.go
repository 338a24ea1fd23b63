package main

import (
	"context"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"btdt/internal/digest"
	"btdt/internal/orchestrator"
)

func hashCommand() *Command {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	return &Command{
		Flags: fs,
		Usage: "hash <path>",
		Short: "Print the content hash of a file",
		Exec: func(_ context.Context, stdout, stderr io.Writer, args []string) int {
			if len(args) != 1 {
				fmt.Fprintln(stderr, "error: hash requires exactly one <path> argument")
				return orchestrator.ExitBadInvocation
			}
			f, err := os.Open(args[0])
			if err != nil {
				return exitForErr(stderr, err)
			}
			defer f.Close()

			h, _, err := digest.Reader(f)
			if err != nil {
				return exitForErr(stderr, err)
			}
			fmt.Fprintln(stdout, h.String())
			return orchestrator.ExitSuccess
		},
	}
}
