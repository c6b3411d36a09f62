package cmd

import (
	"context"
	"fmt"

	"github.com/newhook/kb/internal/logging"
	"github.com/newhook/kb/internal/project"
	cosignal "github.com/newhook/kb/internal/signal"
	"github.com/newhook/kb/internal/telemetry"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X github.com/newhook/kb/cmd.version=...".
var version = "dev"

var (
	// rootCtx holds the signal-cancellable context for the application
	rootCtx    context.Context
	rootCancel context.CancelFunc

	// flagProject overrides project auto-detection for every subcommand
	flagProject string
)

var rootCmd = &cobra.Command{
	Use:     "kb",
	Short:   "Kanban bulk editor - apply one change to many issues at once",
	Long:    `kb selects issues from a tracker, validates a bulk change, applies it in batches and keeps an undo/redo history.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Create a cancellable context with signal handling
		rootCtx, rootCancel = cosignal.WithSignalCancel(context.Background())
		if err := telemetry.Init(rootCtx, "kb", version); err != nil {
			logging.Warn("failed to initialize telemetry", "error", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		telemetry.Shutdown(context.Background())
		// Clean up the signal handler
		if rootCancel != nil {
			rootCancel()
		}
	},
	// Default to TUI when no subcommand is provided
	RunE: runTUI,
}

func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns the root context that is cancelled on SIGINT/SIGTERM.
// This should be used by all subcommands instead of context.Background().
func GetContext() context.Context {
	if rootCtx == nil {
		// Fallback if called before PersistentPreRun (shouldn't happen in normal use)
		return context.Background()
	}
	return rootCtx
}

// openProject finds the project named by --project or the current directory.
func openProject(ctx context.Context) (*project.Project, error) {
	proj, err := project.Find(ctx, flagProject)
	if err != nil {
		return nil, fmt.Errorf("not in a project directory: %w", err)
	}
	return proj, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagProject, "project", "", "project directory (default: auto-detect from cwd)")

	// Add subcommands
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(issuesCmd)
	rootCmd.AddCommand(bulkCmd)
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(redoCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(tuiCmd)
}
