package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/newhook/kb/internal/bulk"
	"github.com/newhook/kb/internal/logging"
)

var _ bulk.Submitter = (*DB)(nil)

// SubmitBatch applies op to every issue in issueIDs inside one transaction.
// Unknown issues are reported as item errors and do not affect the others.
func (db *DB) SubmitBatch(ctx context.Context, issueIDs []int, op bulk.BulkOperation) (*bulk.BatchResponse, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	resp := &bulk.BatchResponse{}
	for _, id := range issueIDs {
		issue, err := getIssue(ctx, tx, id)
		if errors.Is(err, ErrNotFound) {
			resp.Errors = append(resp.Errors, bulk.ItemError{IssueID: id, Error: "issue not found"})
			continue
		}
		if err != nil {
			return nil, err
		}
		bulk.Apply(&issue, op)
		if err := writeIssue(ctx, tx, issue); err != nil {
			return nil, err
		}
		resp.SuccessCount++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}
	logging.DebugContext(ctx, "applied batch", "operation", op.ID, "kind", op.Kind, "issues", len(issueIDs), "errors", len(resp.Errors))
	return resp, nil
}
