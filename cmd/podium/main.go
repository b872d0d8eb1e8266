// Package main provides the CLI entry point for the Podium presentation
// server.
//
// Podium mirrors a live document from the presenter's machine to viewers in
// the browser over websockets, with chat, polls, and presenter annotations
// on the side.
//
// # Basic Usage
//
// Present a file:
//
//	podium serve --file talk.md --pin 1234
//
// Share the session publicly through a quick tunnel:
//
//	podium serve --file talk.md --tunnel
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "podium",
		Short: "Podium - live document presentation server",
		Long: `Podium mirrors a document you are editing to an audience in real time.

Viewers follow your edits, cursor, and execution outputs over websockets,
and can chat and answer polls while you present.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Version: %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
