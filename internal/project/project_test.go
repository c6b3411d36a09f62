package project

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/newhook/kb/internal/bulk"
	"github.com/newhook/kb/internal/tracker"
	"github.com/stretchr/testify/require"
)

func createTestProject(t *testing.T) *Project {
	t.Helper()
	proj, err := Create(context.Background(), t.TempDir(), "demo")
	require.NoError(t, err)
	t.Cleanup(func() { _ = proj.Close() })
	return proj
}

func TestCreate(t *testing.T) {
	proj := createTestProject(t)

	require.Equal(t, "demo", proj.Config.Project.Name)
	require.FileExists(t, filepath.Join(proj.Root, ConfigDir, ConfigFile))
	require.FileExists(t, proj.DBPath())
	require.NotNil(t, proj.DB)

	_, err := Create(context.Background(), proj.Root, "")
	require.ErrorContains(t, err, "already exists")
}

func TestCreate_DefaultName(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "roadmap")
	proj, err := Create(context.Background(), dir, "")
	require.NoError(t, err)
	defer proj.Close()
	require.Equal(t, "roadmap", proj.Config.Project.Name)
}

func TestFind_WalksUp(t *testing.T) {
	proj := createTestProject(t)
	nested := filepath.Join(proj.Root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))

	found, err := Find(context.Background(), nested)
	require.NoError(t, err)
	defer found.Close()
	require.Equal(t, proj.Root, found.Root)
}

func TestFind_NoProject(t *testing.T) {
	_, err := Find(context.Background(), t.TempDir())
	require.ErrorIs(t, err, ErrNoProject)
}

func TestTracker_Backends(t *testing.T) {
	proj := createTestProject(t)

	local, err := proj.Tracker()
	require.NoError(t, err)
	_, ok := local.(localTracker)
	require.True(t, ok)

	proj.Config.Tracker = TrackerConfig{Backend: BackendHTTP}
	_, err = proj.Tracker()
	require.Error(t, err, "http backend needs an endpoint")

	proj.Config.Tracker.Endpoint = "http://localhost:1"
	remote, err := proj.Tracker()
	require.NoError(t, err)
	_, ok = remote.(*tracker.HTTPClient)
	require.True(t, ok)
}

func TestNewController_PersistsHistory(t *testing.T) {
	proj := createTestProject(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, proj.DB.UpsertIssues(ctx, []bulk.IssueSelection{
		{ID: 1, Title: "One", Status: "todo", Priority: "low"},
		{ID: 2, Title: "Two", Status: "todo", Priority: "low"},
	}))
	zero := 0
	proj.Config.Bulk.BatchDelayMS = &zero

	tr, err := proj.Tracker()
	require.NoError(t, err)
	issues, err := tr.ListIssues(ctx, "todo")
	require.NoError(t, err)
	require.Len(t, issues, 2)

	c, err := proj.NewController(ctx, tr)
	require.NoError(t, err)
	sub := c.Subscribe(ctx)
	go func() { _ = c.Run(ctx) }()

	require.NoError(t, c.Send(ctx, bulk.LoadIssues{Issues: issues}))
	require.NoError(t, c.Send(ctx, bulk.SelectAll{}))
	require.NoError(t, c.Send(ctx, bulk.SetOperation{Operation: bulk.BulkOperation{Kind: bulk.KindStatus, Value: bulk.TextValue("done")}}))
	_, err = bulk.Await(ctx, sub, bulk.InState(bulk.StateConfirmed))
	require.NoError(t, err)
	require.NoError(t, c.Send(ctx, bulk.Confirm{}))
	snap, err := bulk.Await(ctx, sub, bulk.InState(bulk.StateCompleted))
	require.NoError(t, err)
	require.NoError(t, proj.SaveHistory(ctx, snap))

	done, err := tr.ListIssues(ctx, "done")
	require.NoError(t, err)
	require.Len(t, done, 2)

	h, err := proj.DB.LoadBulkHistory(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, h.Len())
	require.True(t, h.Undoable())

	c2, err := proj.NewController(ctx, tr)
	require.NoError(t, err)
	require.True(t, c2.CanUndo(), "history is restored into new controllers")
}
