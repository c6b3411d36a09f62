package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/newhook/kb/internal/bulk"
	"github.com/spf13/cobra"
)

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Revert the last bulk operation",
	Long:  `Revert the most recent applied bulk operation by restoring the values its issues held before it ran.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistoryStep(bulk.UndoLastOperation{})
	},
}

var redoCmd = &cobra.Command{
	Use:   "redo",
	Short: "Reapply the last undone bulk operation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistoryStep(bulk.RedoLastOperation{})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded bulk operations",
	Long: `List recorded bulk operations, oldest first. Applied entries can be
undone; entries after the cursor were undone and can be redone.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func runHistoryStep(ev bulk.Event) error {
	ctx := GetContext()
	proj, err := openProject(ctx)
	if err != nil {
		return err
	}
	defer proj.Close()

	tr, err := proj.Tracker()
	if err != nil {
		return err
	}
	c, err := proj.NewController(ctx, tr)
	if err != nil {
		return err
	}

	return withController(ctx, c, func(loopCtx context.Context, sub snapshots) error {
		snap, err := stepHistory(ctx, loopCtx, c, sub, ev, os.Stdout)
		if err != nil || snap.State != bulk.StateIdle {
			return err
		}
		return persistHistory(ctx, proj, snap)
	})
}

// stepHistory sends an undo or redo event and waits for it to settle. A
// step with nothing to act on reports so and leaves the controller idle.
func stepHistory(ctx, loopCtx context.Context, c *bulk.Controller, sub snapshots, ev bulk.Event, out io.Writer) (bulk.Snapshot, error) {
	verb, done := "Undid", "Nothing to undo"
	possible := c.CanUndo()
	if _, ok := ev.(bulk.RedoLastOperation); ok {
		verb, done = "Redid", "Nothing to redo"
		possible = c.CanRedo()
	}
	if !possible {
		fmt.Fprintln(out, done)
		return c.Snapshot(), nil
	}

	if err := c.Send(loopCtx, ev); err != nil {
		return bulk.Snapshot{}, err
	}
	snap, err := bulk.Await(ctx, sub, bulk.InState(bulk.StateIdle, bulk.StateError))
	if err != nil {
		return snap, err
	}
	printResult(out, verb, snap.Result)
	if snap.State == bulk.StateError {
		return snap, fmt.Errorf("%s", snap.Error)
	}
	return snap, nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	proj, err := openProject(ctx)
	if err != nil {
		return err
	}
	defer proj.Close()

	entries, index, err := proj.DB.LoadHistory(ctx)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	if len(entries) == 0 {
		fmt.Println("No bulk operations recorded")
		return nil
	}
	printHistory(os.Stdout, entries, index)
	return nil
}

// printHistory lists entries with a marker on the one the next undo reverts.
func printHistory(w io.Writer, entries []bulk.HistoryEntry, index int) {
	fmt.Fprintf(w, "  %-4s %-20s %-8s %-32s %s\n", "#", "WHEN", "STATE", "OPERATION", "RESULT")
	for i, entry := range entries {
		marker := " "
		if i == index-1 {
			marker = ">"
		}
		state := "applied"
		if i >= index {
			state = "undone"
		}
		result := fmt.Sprintf("%d ok", entry.Result.SuccessCount)
		if entry.Result.FailureCount > 0 {
			result += fmt.Sprintf(", %d failed", entry.Result.FailureCount)
		}
		fmt.Fprintf(w, "%s %-4d %-20s %-8s %-32s %s\n",
			marker, i+1, entry.Timestamp.Local().Format("2006-01-02 15:04:05"), state,
			entry.Operation.Describe(), result)
	}
}
