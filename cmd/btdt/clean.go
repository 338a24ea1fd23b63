package main

import (
	"context"
	"fmt"
	"io"
	"time"

	flag "github.com/spf13/pflag"

	"btdt/internal/config"
	"btdt/internal/orchestrator"
)

func cleanCommand() *Command {
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	cacheLoc := fs.String("cache", "", "Local cache directory to clean")
	maxAgeStr := fs.String("max-age", "", "Delete mappings older than this duration (e.g. 7days)")
	maxSizeStr := fs.String("max-size", "", "Evict oldest entries until the cache is at or below this size (e.g. 50GiB)")

	return &Command{
		Flags: fs,
		Usage: "clean --cache <loc> [--max-age D] [--max-size S]",
		Short: "Evict old or excess entries from a local cache",
		Exec: func(ctx context.Context, stdout, stderr io.Writer, args []string) int {
			c, err := openLocalCache(*cacheLoc)
			if err != nil {
				return exitForErr(stderr, err)
			}

			var maxAge *time.Duration
			if *maxAgeStr != "" {
				d, err := config.ParseDuration(*maxAgeStr)
				if err != nil {
					return exitForErr(stderr, err)
				}
				maxAge = &d
			}
			var maxSize *int64
			if *maxSizeStr != "" {
				sz, err := config.ParseByteSize(*maxSizeStr)
				if err != nil {
					return exitForErr(stderr, err)
				}
				maxSize = &sz
			}

			summary, err := orchestrator.Clean(ctx, c, maxAge, maxSize)
			if err != nil {
				return exitForErr(stderr, err)
			}
			fmt.Fprintf(stdout, "mappings deleted: %d, entries deleted: %d, bytes freed: %d\n",
				summary.MappingsDeleted, summary.EntriesDeleted, summary.BytesFreed)
			return orchestrator.ExitSuccess
		},
	}
}
