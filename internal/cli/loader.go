package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tapedeck-io/tapedeck/internal/assemble"
	"github.com/tapedeck-io/tapedeck/internal/event"
	"github.com/tapedeck-io/tapedeck/internal/fetch"
	"github.com/tapedeck-io/tapedeck/internal/timeline"
)

// SourceOptions selects where recording chunks come from: a local
// export directory or the recording service, optionally wrapped in a
// SQLite chunk cache.
type SourceOptions struct {
	Dir       string
	URL       string
	SessionID string
	Token     string
	CachePath string
}

// addSourceFlags registers the shared chunk-source flags on a command.
func addSourceFlags(cmd *cobra.Command, opts *SourceOptions) {
	cmd.Flags().StringVar(&opts.Dir, "dir", "", "local chunk export directory")
	cmd.Flags().StringVar(&opts.URL, "url", "", "recording service base URL")
	cmd.Flags().StringVar(&opts.SessionID, "session", "", "session identifier (with --url)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "bearer token for the recording service")
	cmd.Flags().StringVar(&opts.CachePath, "cache", "", "SQLite chunk cache path")
	cmd.MarkFlagsMutuallyExclusive("dir", "url")
	cmd.MarkFlagsRequiredTogether("url", "session")
}

// buildFetcher constructs the fetcher stack from the source flags.
// The returned cleanup releases the cache database when one is open.
func buildFetcher(opts SourceOptions) (assemble.Fetcher, func(), error) {
	var fetcher assemble.Fetcher
	switch {
	case opts.Dir != "":
		fetcher = fetch.NewDir(opts.Dir)
	case opts.URL != "":
		var httpOpts []fetch.HTTPOption
		if opts.Token != "" {
			httpOpts = append(httpOpts, fetch.WithToken(opts.Token))
		}
		fetcher = fetch.NewHTTP(opts.URL, httpOpts...)
	default:
		return nil, nil, NewExitError(ExitCommandError, "a chunk source is required: --dir or --url with --session")
	}

	cleanup := func() {}
	if opts.CachePath != "" {
		cache, err := fetch.OpenCache(opts.CachePath, fetcher)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to open chunk cache", err)
		}
		fetcher = cache
		cleanup = func() {
			if err := cache.Close(); err != nil {
				slog.Error("error closing chunk cache", "error", err)
			}
		}
	}
	return fetcher, cleanup, nil
}

// loadEvents assembles the full event sequence from the configured
// source. Assembly failures map to ExitFailure; they describe the
// recording, not the command line.
func loadEvents(ctx context.Context, opts SourceOptions) ([]event.Event, error) {
	fetcher, cleanup, err := buildFetcher(opts)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	events, err := assemble.New(fetcher).AssembleSession(ctx, opts.SessionID)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to assemble recording", err)
	}
	return events, nil
}

// loadCallConfig reads a call-sync YAML file. Unknown fields are
// rejected to catch typos.
func loadCallConfig(path string) (timeline.CallConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return timeline.CallConfig{}, fmt.Errorf("failed to read call config: %w", err)
	}
	var cfg timeline.CallConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return timeline.CallConfig{}, fmt.Errorf("failed to parse call config: %w", err)
	}
	return cfg, nil
}
