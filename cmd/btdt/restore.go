package main

import (
	"context"
	"fmt"
	"io"

	flag "github.com/spf13/pflag"

	"btdt/internal/orchestrator"
)

func restoreCommand() *Command {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	cacheLoc := fs.String("cache", "", "Cache location: a directory path or an http(s)://.../api/caches/<name> URL")
	keysCSV := fs.String("keys", "", "Comma-separated keys to try, in priority order")
	authTokenFile := fs.String("auth-token-file", "", "File containing a bearer token (remote caches only)")
	rootCert := fs.String("root-cert", "", "PEM file of root certificates to trust instead of the system store (remote caches only)")
	successOnAny := fs.Bool("success-rc-on-any-key", false, "Exit 0 on any successful key, not just the first")

	return &Command{
		Flags: fs,
		Usage: "restore --cache <loc> --keys <csv> [--auth-token-file f] [--root-cert f] [--success-rc-on-any-key] <dest>",
		Short: "Restore the first matching key's tree into <dest>",
		Exec: func(ctx context.Context, stdout, stderr io.Writer, args []string) int {
			if len(args) != 1 {
				fmt.Fprintln(stderr, "error: restore requires exactly one <dest> argument")
				return orchestrator.ExitBadInvocation
			}
			keys := splitKeys(*keysCSV)
			if len(keys) == 0 {
				fmt.Fprintln(stderr, "error: --keys is required")
				return orchestrator.ExitBadInvocation
			}

			cache, err := openCache(*cacheLoc, *authTokenFile, *rootCert)
			if err != nil {
				return exitForErr(stderr, err)
			}

			result, err := orchestrator.Restore(ctx, cache, keys, args[0], *successOnAny)
			if err != nil {
				return exitForErr(stderr, err)
			}
			if result.ExitCode == orchestrator.ExitNoKeyFound {
				fmt.Fprintln(stderr, "error: no key matched:", *keysCSV)
			} else {
				fmt.Fprintln(stdout, result.MatchedKey)
			}
			return result.ExitCode
		},
	}
}
