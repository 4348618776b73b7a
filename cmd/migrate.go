package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/area51b/nvidia-digital-human-vss-bridge/internal/migrate"
)

const migrateUsage = `Usage:
  vss-bridge migrate --source-collections <a,b> --dest-collection <name> [flags]

Flags:
  --host string                Vector store host (default "localhost")
  --port int                   Vector store gRPC port (default 6334)
  --api-key string             Vector store API key (optional)
  --source-collections string  Comma-separated source collection names (required)
  --dest-collection string     Destination collection name (required)
  --filter-json string         JSON equality criteria, e.g. '{"source":"camera1"}' (default "{}")
  --batch-size int             Points per scroll/upsert batch (default 256)
  --output-log string          Also write migration logs to this file
  --verbose                    Log every copied batch`

func runMigrate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, migrateUsage)
	}

	var opts migrate.Options
	var sources string
	var outputLog string
	var verbose bool
	fs.StringVar(&opts.Host, "host", "localhost", "vector store host")
	fs.IntVar(&opts.Port, "port", 6334, "vector store gRPC port")
	fs.StringVar(&opts.APIKey, "api-key", "", "vector store API key")
	fs.StringVar(&sources, "source-collections", "", "comma-separated source collections")
	fs.StringVar(&opts.DestCollection, "dest-collection", "", "destination collection")
	fs.StringVar(&opts.FilterJSON, "filter-json", "{}", "JSON equality criteria")
	fs.IntVar(&opts.BatchSize, "batch-size", 256, "points per batch")
	fs.StringVar(&outputLog, "output-log", "", "also write migration logs to this file")
	fs.BoolVar(&verbose, "verbose", false, "log every copied batch")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse migrate flags: %w", err)
	}

	if strings.TrimSpace(sources) == "" {
		return errors.New("migrate command requires --source-collections")
	}
	if strings.TrimSpace(opts.DestCollection) == "" {
		return errors.New("migrate command requires --dest-collection")
	}
	opts.SourceCollections = strings.Split(sources, ",")

	closeLog, err := configureMigrateLogging(outputLog, verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	return migrate.Run(ctx, opts)
}

// configureMigrateLogging points the default logger at stderr, optionally
// teeing records into a log file, and returns a closer for that file.
func configureMigrateLogging(outputLog string, verbose bool) (func() error, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var sink io.Writer = os.Stderr
	closeFn := func() error { return nil }
	if outputLog != "" {
		f, err := os.OpenFile(outputLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open output log %q: %w", outputLog, err)
		}
		sink = io.MultiWriter(os.Stderr, f)
		closeFn = f.Close
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(sink, &slog.HandlerOptions{Level: level})))
	return closeFn, nil
}
