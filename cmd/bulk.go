package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/newhook/kb/internal/bulk"
	"github.com/spf13/cobra"
)

var (
	flagBulkIDs   string
	flagBulkAll   bool
	flagBulkWhere []string
	flagBulkMode  string
	flagBulkYes   bool
)

var (
	errNothingSelected  = errors.New("no issues match the selection")
	errValidationFailed = errors.New("operation rejected by validation")
)

var bulkCmd = &cobra.Command{
	Use:   "bulk <kind> [value...]",
	Short: "Apply one change to many issues",
	Long: `Apply a single change to a set of issues. The change is validated,
confirmed, then sent to the tracker in batches. The result is recorded in the
history so it can be undone with 'kb undo'.

Kinds: assign, status, priority, labels, sprint, estimate, component, version.

Example:
  kb bulk status done --ids 1,2,5-8
  kb bulk assign alice --where status=todo
  kb bulk labels urgent,backend --mode add --all --yes
  kb bulk estimate 3 --where label=spike`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBulk,
}

func init() {
	bulkCmd.Flags().StringVar(&flagBulkIDs, "ids", "", "issue ids and ranges to select, e.g. 1,4-6")
	bulkCmd.Flags().BoolVar(&flagBulkAll, "all", false, "select every issue")
	bulkCmd.Flags().StringArrayVar(&flagBulkWhere, "where", nil, "select issues matching field=value (repeatable)")
	bulkCmd.Flags().StringVar(&flagBulkMode, "mode", "", "label mode: add, remove or replace")
	bulkCmd.Flags().BoolVarP(&flagBulkYes, "yes", "y", false, "skip the confirmation prompt")
}

func runBulk(cmd *cobra.Command, args []string) error {
	ctx := GetContext()

	op, err := parseOperation(args[0], args[1:], flagBulkMode)
	if err != nil {
		return err
	}
	proj, err := openProject(ctx)
	if err != nil {
		return err
	}
	defer proj.Close()

	sel, err := selectionEvent(flagBulkIDs, flagBulkAll, flagBulkWhere, proj.Config.Bulk.GetMaxSelection())
	if err != nil {
		return err
	}

	tr, err := proj.Tracker()
	if err != nil {
		return err
	}
	issues, err := tr.ListIssues(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to load issues: %w", err)
	}
	c, err := proj.NewController(ctx, tr)
	if err != nil {
		return err
	}

	confirm := confirmPrompt
	if flagBulkYes {
		confirm = func(bulk.Snapshot) (bool, error) { return true, nil }
	}

	return withController(ctx, c, func(loopCtx context.Context, sub snapshots) error {
		snap, err := applyBulk(ctx, loopCtx, c, sub, bulkRequest{
			issues:    issues,
			selection: sel,
			op:        op,
			confirm:   confirm,
			out:       os.Stdout,
		})
		if snap.State == bulk.StateCompleted || snap.State == bulk.StateCancelled {
			if saveErr := persistHistory(ctx, proj, snap); saveErr != nil {
				return errors.Join(err, saveErr)
			}
		}
		return err
	})
}

// bulkRequest is one non-interactive pass through the workflow.
type bulkRequest struct {
	issues    []bulk.IssueSelection
	selection bulk.Event
	op        bulk.BulkOperation
	confirm   func(bulk.Snapshot) (bool, error)
	out       io.Writer
}

// applyBulk drives c from load through execution and returns the last
// snapshot seen. Cancelling ctx before confirmation aborts; cancelling it
// during execution stops after the batch in flight.
func applyBulk(ctx, loopCtx context.Context, c *bulk.Controller, sub snapshots, req bulkRequest) (bulk.Snapshot, error) {
	var snap bulk.Snapshot
	for _, ev := range []bulk.Event{bulk.LoadIssues{Issues: req.issues}, req.selection} {
		if err := c.Send(loopCtx, ev); err != nil {
			return snap, err
		}
		var err error
		if snap, err = nextSnapshot(ctx, sub); err != nil {
			return snap, err
		}
	}
	if len(snap.Selected) == 0 {
		return snap, errNothingSelected
	}

	if err := c.Send(loopCtx, bulk.SetOperation{Operation: req.op}); err != nil {
		return snap, err
	}
	snap, err := bulk.Await(ctx, sub, bulk.InState(bulk.StateConfirmed, bulk.StateValidationFailed, bulk.StateError))
	if err != nil {
		return snap, err
	}
	switch snap.State {
	case bulk.StateValidationFailed:
		fmt.Fprintln(req.out, "Validation failed:")
		printValidationErrors(req.out, snap.ValidationErrors)
		return snap, errValidationFailed
	case bulk.StateError:
		return snap, errors.New(snap.Error)
	}

	ok, err := req.confirm(snap)
	if err != nil || !ok {
		if sendErr := c.Send(loopCtx, bulk.Cancel{}); sendErr != nil {
			return snap, sendErr
		}
		if err == nil {
			fmt.Fprintln(req.out, "Cancelled")
		}
		return snap, err
	}
	if err := c.Send(loopCtx, bulk.Confirm{}); err != nil {
		return snap, err
	}

	interrupted := ctx.Done()
	lastProgress := 0
	for {
		select {
		case <-interrupted:
			interrupted = nil
			fmt.Fprintln(req.out, "Interrupted, stopping after the current batch...")
			if err := c.Send(loopCtx, bulk.CancelExecution{}); err != nil {
				return snap, err
			}
		case evt, ok := <-sub:
			if !ok {
				return snap, errors.New("controller stopped")
			}
			snap = evt.Payload
			switch snap.State {
			case bulk.StateExecutingBatched:
				if snap.Progress != lastProgress {
					lastProgress = snap.Progress
					fmt.Fprintf(req.out, "  batch %d/%d (%d%%)\n", snap.BatchIndex+1, snap.TotalBatches, snap.Progress)
				}
			case bulk.StateCompleted:
				printResult(req.out, "Updated", snap.Result)
				return snap, nil
			case bulk.StateCancelled:
				fmt.Fprintln(req.out, "Cancelled")
				printResult(req.out, "Updated", snap.Result)
				return snap, nil
			case bulk.StateError:
				return snap, fmt.Errorf("bulk operation failed: %s", snap.Error)
			}
		}
	}
}

// confirmPrompt asks the user to accept a validated operation.
func confirmPrompt(snap bulk.Snapshot) (bool, error) {
	if snap.Operation == nil {
		return false, nil
	}
	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Apply %s to %d issues?", snap.Operation.Describe(), len(snap.Selected))).
				Description(formatIDs(snap.Selected)).
				Affirmative("Apply").
				Negative("Cancel").
				Value(&ok),
		),
	).WithTheme(huh.ThemeDracula())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return ok, nil
}
