package main

import (
	"context"
	"fmt"
	"io"

	flag "github.com/spf13/pflag"

	"btdt/internal/orchestrator"
)

func storeCommand() *Command {
	fs := flag.NewFlagSet("store", flag.ContinueOnError)
	cacheLoc := fs.String("cache", "", "Cache location: a directory path or an http(s)://.../api/caches/<name> URL")
	keysCSV := fs.String("keys", "", "Comma-separated keys to store under")
	authTokenFile := fs.String("auth-token-file", "", "File containing a bearer token (remote caches only)")
	rootCert := fs.String("root-cert", "", "PEM file of root certificates to trust instead of the system store (remote caches only)")

	return &Command{
		Flags: fs,
		Usage: "store --cache <loc> --keys <csv> [--auth-token-file f] [--root-cert f] <src>",
		Short: "Encode <src> and store it under every listed key",
		Exec: func(ctx context.Context, stdout, stderr io.Writer, args []string) int {
			if len(args) != 1 {
				fmt.Fprintln(stderr, "error: store requires exactly one <src> argument")
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

			if err := orchestrator.Store(ctx, cache, keys, args[0]); err != nil {
				return exitForErr(stderr, err)
			}
			fmt.Fprintln(stdout, "stored")
			return orchestrator.ExitSuccess
		},
	}
}
