package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/muesli/reflow/wordwrap"
	"github.com/newhook/kb/internal/bulk"
	"github.com/newhook/kb/internal/project"
	"github.com/newhook/kb/internal/pubsub"
	"golang.org/x/sync/errgroup"
)

// snapshots is a subscription to controller state.
type snapshots = <-chan pubsub.Event[bulk.Snapshot]

// withController runs the controller loop alongside drive and stops it when
// drive returns. The loop is detached from ctx so an interrupt can still be
// delivered to it as an event; drive watches ctx itself and sends on loopCtx.
func withController(ctx context.Context, c *bulk.Controller, drive func(loopCtx context.Context, sub snapshots) error) error {
	loopCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	defer stop()

	sub := c.Subscribe(loopCtx)
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		return c.Run(gctx)
	})
	g.Go(func() error {
		defer stop()
		return drive(gctx, sub)
	})
	return g.Wait()
}

// nextSnapshot returns the snapshot published for the next processed event.
func nextSnapshot(ctx context.Context, sub snapshots) (bulk.Snapshot, error) {
	return bulk.Await(ctx, sub, func(bulk.Snapshot) bool { return true })
}

// persistHistory writes the controller's history back to the project
// database. It runs even after an interrupt so a finished operation stays
// undoable.
func persistHistory(ctx context.Context, proj *project.Project, snap bulk.Snapshot) error {
	if err := proj.SaveHistory(context.WithoutCancel(ctx), snap); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// printResult writes a summary of result followed by its per-issue errors.
func printResult(w io.Writer, verb string, result *bulk.BulkOperationResult) {
	if result == nil {
		return
	}
	fmt.Fprintf(w, "%s %d issues", verb, result.SuccessCount)
	if result.FailureCount > 0 {
		fmt.Fprintf(w, ", %d failed", result.FailureCount)
	}
	fmt.Fprintln(w)
	for _, e := range result.Errors {
		msg := wordwrap.String(e.Error, 72)
		fmt.Fprintf(w, "  #%-5d %s\n", e.IssueID, strings.ReplaceAll(msg, "\n", "\n         "))
	}
}

// printValidationErrors writes each validation error with its issue count.
func printValidationErrors(w io.Writer, errs []bulk.ValidationError) {
	for _, e := range errs {
		fmt.Fprintf(w, "  [%s] %s\n", e.Kind, wordwrap.String(e.Message, 72))
		if len(e.IssueIDs) > 0 {
			fmt.Fprintf(w, "         issues: %s\n", formatIDs(e.IssueIDs))
		}
	}
}

func formatIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("#%d", id)
	}
	return strings.Join(parts, " ")
}
