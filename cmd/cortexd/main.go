// Package main is the cortexd command-line entry point: the serve
// command that runs the entity orchestration runtime, plus the
// export-memories, import-memories, migrate-entities, and
// benchmark-continuity utility commands.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cortexd/runtime/internal/apperrors"
	"github.com/cortexd/runtime/internal/observability"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "cortexd",
		Short:        "cortexd hosts and administers the entity orchestration runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildExportMemoriesCmd(),
		buildImportMemoriesCmd(),
		buildMigrateEntitiesCmd(),
		buildBenchmarkContinuityCmd(),
	)

	return rootCmd
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	startupLog := observability.NewLogger(observability.LogConfig{
		Level:  os.Getenv("CORTEXD_LOG_LEVEL"),
		Format: os.Getenv("CORTEXD_LOG_FORMAT"),
		Output: os.Stderr,
	})
	startupLog.Info(context.Background(), "cortexd invoked", "args", os.Args[1:], "version", version)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a returned error to the CLI's exit-code contract: 0
// success, 1 configuration error, 2 runtime error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if apperrors.Is(err, apperrors.Configuration) {
		return 1
	}
	return 2
}
