package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	flag "github.com/spf13/pflag"

	"btdt/internal/cacheerr"
	"btdt/internal/orchestrator"
)

// Command defines a CLI subcommand with unified help generation,
// grounded on calvinalkan-agent-task/internal/cli's Command (same
// Usage/Short/Flags/Exec fields), adapted so Exec returns the
// process exit code directly instead of a bare error: this CLI's exit
// codes (0/1/2/3/4) carry meaning beyond success/failure.
type Command struct {
	Flags *flag.FlagSet
	Usage string
	Short string
	Exec  func(ctx context.Context, stdout, stderr io.Writer, args []string) int
}

func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")
	return name
}

func (c *Command) HelpLine() string {
	return fmt.Sprintf("  %-55s %s", c.Usage, c.Short)
}

// Run parses flags, maps flag errors to exit code 2 (bad invocation),
// and otherwise hands off to Exec.
func (c *Command) Run(ctx context.Context, stdout, stderr io.Writer, args []string) int {
	c.Flags.SetOutput(stderr)
	if err := c.Flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "error:", err)
		return orchestrator.ExitBadInvocation
	}
	return c.Exec(ctx, stdout, stderr, c.Flags.Args())
}

// exitForErr maps an unexpected error to exit 1, or to 2 when it's an
// invalid-input error raised during argument validation.
func exitForErr(stderr io.Writer, err error) int {
	if err == nil {
		return orchestrator.ExitSuccess
	}
	fmt.Fprintln(stderr, "error:", err)
	if cacheerr.Is(err, cacheerr.InvalidInput) {
		return orchestrator.ExitBadInvocation
	}
	return orchestrator.ExitGeneralError
}
