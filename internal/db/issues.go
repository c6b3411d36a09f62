package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/newhook/kb/internal/bulk"
)

// IssueFilter narrows ListIssues. Zero fields match everything.
type IssueFilter struct {
	Status   string
	Assignee string
}

const issueColumns = `id, title, status, priority, assignee, labels, estimate, sprint, component, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (bulk.IssueSelection, error) {
	var (
		issue    bulk.IssueSelection
		labels   string
		estimate sql.NullFloat64
		sprint   sql.NullInt64
	)
	err := row.Scan(&issue.ID, &issue.Title, &issue.Status, &issue.Priority, &issue.Assignee,
		&labels, &estimate, &sprint, &issue.Component, &issue.Version)
	if err != nil {
		return issue, err
	}
	if labels != "" {
		var decoded []string
		if err := json.Unmarshal([]byte(labels), &decoded); err != nil {
			return issue, fmt.Errorf("failed to decode labels for issue %d: %w", issue.ID, err)
		}
		if len(decoded) > 0 {
			issue.Labels = decoded
		}
	}
	if estimate.Valid {
		issue.Estimate = &estimate.Float64
	}
	if sprint.Valid {
		v := int(sprint.Int64)
		issue.Sprint = &v
	}
	return issue, nil
}

// ListIssues returns issues ordered by id.
func (db *DB) ListIssues(ctx context.Context, filter IssueFilter) ([]bulk.IssueSelection, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE (? = '' OR status = ?) AND (? = '' OR assignee = ?) ORDER BY id`
	rows, err := db.QueryContext(ctx, query, filter.Status, filter.Status, filter.Assignee, filter.Assignee)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	defer rows.Close()

	var issues []bulk.IssueSelection
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// GetIssue returns a single issue or ErrNotFound.
func (db *DB) GetIssue(ctx context.Context, id int) (bulk.IssueSelection, error) {
	return getIssue(ctx, db.DB, id)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func getIssue(ctx context.Context, q querier, id int) (bulk.IssueSelection, error) {
	issue, err := scanIssue(q.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return issue, fmt.Errorf("issue %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return issue, fmt.Errorf("failed to get issue %d: %w", id, err)
	}
	return issue, nil
}

// UpsertIssues inserts or replaces issues in one transaction.
func (db *DB) UpsertIssues(ctx context.Context, issues []bulk.IssueSelection) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, issue := range issues {
		if err := writeIssue(ctx, tx, issue); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit issues: %w", err)
	}
	return nil
}

func writeIssue(ctx context.Context, q querier, issue bulk.IssueSelection) error {
	labels := issue.Labels
	if labels == nil {
		labels = []string{}
	}
	encoded, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("failed to encode labels for issue %d: %w", issue.ID, err)
	}
	var estimate sql.NullFloat64
	if issue.Estimate != nil {
		estimate = sql.NullFloat64{Float64: *issue.Estimate, Valid: true}
	}
	var sprint sql.NullInt64
	if issue.Sprint != nil {
		sprint = sql.NullInt64{Int64: int64(*issue.Sprint), Valid: true}
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO issues (`+issueColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			priority = excluded.priority,
			assignee = excluded.assignee,
			labels = excluded.labels,
			estimate = excluded.estimate,
			sprint = excluded.sprint,
			component = excluded.component,
			version = excluded.version,
			updated_at = CURRENT_TIMESTAMP
	`, issue.ID, issue.Title, issue.Status, issue.Priority, issue.Assignee,
		string(encoded), estimate, sprint, issue.Component, issue.Version)
	if err != nil {
		return fmt.Errorf("failed to write issue %d: %w", issue.ID, err)
	}
	return nil
}
