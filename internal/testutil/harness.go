package testutil

import (
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/newhook/kb/internal/bulk"
	"github.com/newhook/kb/internal/db"
	"github.com/newhook/kb/internal/project"
	"github.com/newhook/kb/internal/pubsub"
	"github.com/stretchr/testify/require"
)

// TestHarness provides a project backed by a temporary directory with a
// pre-wired Submitter mock for exercising the bulk workflow end to end.
type TestHarness struct {
	T         *testing.T
	Project   *project.Project
	DB        *db.DB
	Submitter *bulk.SubmitterMock
	Config    *project.Config
}

// NewTestHarness creates a project in a temporary directory. Batch delays are
// zeroed and the completed state lingers long enough that tests control
// when the controller returns to idle.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	proj, err := project.Create(context.Background(), t.TempDir(), "test-project")
	require.NoError(t, err, "failed to create test project")

	noDelay := 0
	lingers := int(time.Minute / time.Millisecond)
	proj.Config.Bulk.BatchDelayMS = &noDelay
	proj.Config.Bulk.CompletedDelayMS = &lingers

	h := &TestHarness{
		T:         t,
		Project:   proj,
		DB:        proj.DB,
		Submitter: &bulk.SubmitterMock{},
		Config:    proj.Config,
	}
	h.MockSubmitSucceeds()
	t.Cleanup(h.Cleanup)
	return h
}

// Cleanup releases resources used by the harness. It is registered with
// t.Cleanup and safe to call more than once.
func (h *TestHarness) Cleanup() {
	if h.Project == nil {
		return
	}
	if err := h.Project.Close(); err != nil {
		h.T.Logf("warning: failed to close project: %v", err)
	}
	h.Project = nil
}

// CreateIssue stores an issue with the given id and title in the "todo"
// status with "medium" priority.
func (h *TestHarness) CreateIssue(id int, title string) bulk.IssueSelection {
	h.T.Helper()
	issue := bulk.IssueSelection{ID: id, Title: title, Status: "todo", Priority: "medium"}
	require.NoError(h.T, h.DB.UpsertIssues(context.Background(), []bulk.IssueSelection{issue}))
	return issue
}

// SeedIssues stores issues 1..n and returns them.
func (h *TestHarness) SeedIssues(n int) []bulk.IssueSelection {
	h.T.Helper()
	issues := make([]bulk.IssueSelection, n)
	for i := range issues {
		issues[i] = h.CreateIssue(i+1, fmt.Sprintf("Issue %d", i+1))
	}
	return issues
}

// Issues returns every stored issue.
func (h *TestHarness) Issues() []bulk.IssueSelection {
	h.T.Helper()
	issues, err := h.DB.ListIssues(context.Background(), db.IssueFilter{})
	require.NoError(h.T, err)
	return issues
}

// Issue returns one stored issue.
func (h *TestHarness) Issue(id int) bulk.IssueSelection {
	h.T.Helper()
	issue, err := h.DB.GetIssue(context.Background(), id)
	require.NoError(h.T, err)
	return issue
}

// NewController builds a controller through the project, submitting via the
// harness mock and seeded with the persisted history.
func (h *TestHarness) NewController() *bulk.Controller {
	h.T.Helper()
	c, err := h.Project.NewController(context.Background(), h.Submitter)
	require.NoError(h.T, err)
	return c
}

// MockSubmitSucceeds makes every submission go through to the database.
func (h *TestHarness) MockSubmitSucceeds() {
	h.Submitter.SubmitBatchFunc = h.DB.SubmitBatch
}

// MockSubmitFailsFor rejects the given issues with a per-item error and
// applies the rest to the database.
func (h *TestHarness) MockSubmitFailsFor(ids ...int) {
	h.Submitter.SubmitBatchFunc = func(ctx context.Context, issueIDs []int, op bulk.BulkOperation) (*bulk.BatchResponse, error) {
		var (
			pass     []int
			rejected []bulk.ItemError
		)
		for _, id := range issueIDs {
			if slices.Contains(ids, id) {
				rejected = append(rejected, bulk.ItemError{IssueID: id, Error: "rejected by test"})
			} else {
				pass = append(pass, id)
			}
		}
		resp := &bulk.BatchResponse{}
		if len(pass) > 0 {
			applied, err := h.DB.SubmitBatch(ctx, pass, op)
			if err != nil {
				return nil, err
			}
			resp = applied
		}
		resp.Errors = append(resp.Errors, rejected...)
		return resp, nil
	}
}

// MockSubmitRequestFails fails every request as a whole.
func (h *TestHarness) MockSubmitRequestFails(err error) {
	h.Submitter.SubmitBatchFunc = func(ctx context.Context, issueIDs []int, op bulk.BulkOperation) (*bulk.BatchResponse, error) {
		return nil, err
	}
}

// Run runs c until the test ends and returns a subscription to its state.
func (h *TestHarness) Run(c *bulk.Controller) (context.Context, <-chan pubsub.Event[bulk.Snapshot]) {
	h.T.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	h.T.Cleanup(cancel)
	sub := c.Subscribe(ctx)
	go func() { _ = c.Run(ctx) }()
	return ctx, sub
}
