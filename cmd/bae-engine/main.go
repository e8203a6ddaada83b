// Command bae-engine is the thin host binary wiring the engine's shared
// resources — Catalog, ObjectStore, ChunkCache, ChunkCodec — into two
// entry points: "import" runs the import pipeline against a folder on
// disk, and "serve" exposes health and metrics endpoints for the engine
// as a long-running process. The UI, Subsonic API, and torrent client
// named in spec.md §1 as external collaborators are not implemented
// here; this binary only proves out the core's own surface.
//
// Grounded on the teacher's cmd/loadtest/main.go for flag-parsing and
// signal-handling shape, reworked onto spf13/cobra subcommands the way
// kluzzebass-gastrolog's cmd/gastrolog/cli package structures a
// multi-command tree.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bae-engine",
		Short: "Self-hosted music library engine: import, cache, and stream chunked encrypted audio",
	}

	cmd.PersistentFlags().String("config", "bae-engine.yaml", "path to the engine's YAML config file")
	cmd.PersistentFlags().String("key-file", "", "path to a raw 32-byte AES-256 key (overrides BAE_ENGINE_KEY env var)")
	cmd.PersistentFlags().Bool("verbose", false, "enable debug logging")

	cmd.AddCommand(newImportCmd(), newServeCmd())
	return cmd
}

func newLogger(cmd *cobra.Command) *logrus.Logger {
	logger := logrus.New()
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}
