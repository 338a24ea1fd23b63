package main

import (
	"strings"

	"btdt/internal/cacheerr"
	"btdt/internal/localcache"
	"btdt/internal/orchestrator"
	"btdt/internal/remotecache"
	"btdt/internal/storage"
)

// openCache resolves <loc> into an orchestrator.Cache: a directory
// path becomes a local filesystem-backed cache, an http(s):// URL
// becomes a remote client. authTokenFile and rootCertPath are only
// meaningful for the remote case.
func openCache(loc, authTokenFile, rootCertPath string) (orchestrator.Cache, error) {
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		client, err := remotecache.New(loc, rootCertPath)
		if err != nil {
			return nil, err
		}
		if authTokenFile != "" {
			tok, err := remotecache.ReadTokenFile(authTokenFile)
			if err != nil {
				return nil, err
			}
			client.AuthToken = tok
		}
		return client, nil
	}

	if loc == "" {
		return nil, cacheerr.New(cacheerr.InvalidInput, "--cache is required")
	}
	backend, err := storage.NewFilesystemBackend(loc)
	if err != nil {
		return nil, err
	}
	return orchestrator.NewLocalCache(localcache.New(backend)), nil
}

// openLocalCache resolves <loc> the same way but refuses a remote URL,
// for commands (clean) that only make sense against a local cache.
func openLocalCache(loc string) (*localcache.Cache, error) {
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		return nil, cacheerr.New(cacheerr.InvalidInput, "clean only operates on a local cache directory, not a remote URL")
	}
	if loc == "" {
		return nil, cacheerr.New(cacheerr.InvalidInput, "--cache is required")
	}
	backend, err := storage.NewFilesystemBackend(loc)
	if err != nil {
		return nil, err
	}
	return localcache.New(backend), nil
}

func splitKeys(csv string) []string {
	if csv == "" {
		return nil
	}
	return strings.Split(csv, ",")
}
