package bulk

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/newhook/kb/internal/pubsub"
	"github.com/stretchr/testify/require"
)

type harness struct {
	t    *testing.T
	ctx  context.Context
	c    *Controller
	sub  <-chan pubsub.Event[Snapshot]
	mock *SubmitterMock
}

func newHarness(t *testing.T, mock *SubmitterMock, opts ...ControllerOption) *harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	c := NewController(NewExecutor(mock, WithBatchDelay(0)), opts...)
	sub := c.Subscribe(ctx)
	go func() { _ = c.Run(ctx) }()
	return &harness{t: t, ctx: ctx, c: c, sub: sub, mock: mock}
}

func (h *harness) send(events ...Event) {
	h.t.Helper()
	for _, ev := range events {
		require.NoError(h.t, h.c.Send(h.ctx, ev))
	}
}

func (h *harness) await(states ...State) Snapshot {
	h.t.Helper()
	snap, err := Await(h.ctx, h.sub, InState(states...))
	require.NoError(h.t, err, "waiting for %v", states)
	return snap
}

func (h *harness) awaitSelected(want []int) Snapshot {
	h.t.Helper()
	snap, err := Await(h.ctx, h.sub, func(s Snapshot) bool { return slices.Equal(s.Selected, want) })
	require.NoError(h.t, err)
	return snap
}

func findIssue(t *testing.T, snap Snapshot, id int) IssueSelection {
	t.Helper()
	for _, issue := range snap.Issues {
		if issue.ID == id {
			return issue
		}
	}
	require.Failf(t, "issue not found", "id %d", id)
	return IssueSelection{}
}

func TestController_InitialState(t *testing.T) {
	c := NewController(NewExecutor(succeedAll()))
	snap := c.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.False(t, c.CanUndo())
	require.False(t, c.CanRedo())
}

func TestController_PriorityScenario(t *testing.T) {
	h := newHarness(t, succeedAll())
	h.send(LoadIssues{Issues: testIssues(5)}, ToggleSelection{ID: 1}, ToggleSelection{ID: 3})
	h.awaitSelected([]int{1, 3})

	h.send(SetOperation{Operation: BulkOperation{Kind: KindPriority, Value: TextValue("high")}})
	snap := h.await(StateConfirmed)
	require.True(t, snap.ShowConfirmation)
	require.NotEmpty(t, snap.Operation.ID)

	h.send(Confirm{})
	snap = h.await(StateExecuting)
	require.False(t, snap.ShowConfirmation)
	require.Equal(t, 1, snap.TotalBatches)
	require.Equal(t, "high", findIssue(t, snap, 1).Priority, "optimistic update applied on entry")

	snap = h.await(StateCompleted)
	require.Equal(t, 2, snap.Result.SuccessCount)
	require.Equal(t, 0, snap.Result.FailureCount)
	require.Empty(t, snap.Result.Errors)
	require.Equal(t, []int{1, 3}, snap.Result.AffectedIssues)
	require.Len(t, snap.History, 1)
	require.Empty(t, snap.Selected)
	require.True(t, snap.CanUndo)
	require.Equal(t, "high", findIssue(t, snap, 3).Priority)
	require.Equal(t, "medium", findIssue(t, snap, 2).Priority)
	require.Equal(t, TextValue("medium"), snap.History[0].Operation.Previous[1])
}

func TestController_PartialFailureStillCompletes(t *testing.T) {
	mock := &SubmitterMock{
		SubmitBatchFunc: func(ctx context.Context, issueIDs []int, op BulkOperation) (*BatchResponse, error) {
			return &BatchResponse{SuccessCount: 1, Errors: []ItemError{{IssueID: 3, Error: "conflict"}}}, nil
		},
	}
	h := newHarness(t, mock)
	h.send(LoadIssues{Issues: testIssues(5)}, ToggleSelection{ID: 1}, ToggleSelection{ID: 3})
	h.awaitSelected([]int{1, 3})
	h.send(SetOperation{Operation: BulkOperation{Kind: KindPriority, Value: TextValue("high")}})
	h.await(StateConfirmed)
	h.send(Confirm{})

	snap := h.await(StateCompleted, StateError)
	require.Equal(t, StateCompleted, snap.State)
	require.Equal(t, 1, snap.Result.FailureCount)
	require.Equal(t, []int{1}, snap.Result.AffectedIssues)
	require.Equal(t, "high", findIssue(t, snap, 1).Priority)
	require.Equal(t, "medium", findIssue(t, snap, 3).Priority, "failed issue rolled back")
}

func TestController_LargeSelectionRunsBatched(t *testing.T) {
	h := newHarness(t, succeedAll())
	h.send(LoadIssues{Issues: testIssues(30)}, SelectAll{})
	h.awaitSelected(ids(30))
	h.send(SetOperation{Operation: BulkOperation{Kind: KindStatus, Value: TextValue("done")}})
	h.await(StateConfirmed)
	h.send(Confirm{})

	snap := h.await(StateExecutingBatched)
	require.Equal(t, 2, snap.TotalBatches)

	var progress []int
	snap, err := Await(h.ctx, h.sub, func(s Snapshot) bool {
		if s.Executing() && s.Progress > 0 && !slices.Contains(progress, s.Progress) {
			progress = append(progress, s.Progress)
		}
		return s.State == StateCompleted
	})
	require.NoError(t, err)
	require.Equal(t, []int{50, 100}, progress)
	require.Equal(t, 30, snap.Result.SuccessCount)
	require.Len(t, h.mock.SubmitBatchCalls(), 2)
}

func TestController_UndoWithEmptyHistoryIsNoop(t *testing.T) {
	h := newHarness(t, succeedAll())
	require.False(t, h.c.CanUndo())
	h.send(LoadIssues{Issues: testIssues(2)}, UndoLastOperation{}, RedoLastOperation{}, ToggleSelection{ID: 2})
	snap := h.awaitSelected([]int{2})
	require.Equal(t, StateIdle, snap.State)
	require.Empty(t, h.mock.SubmitBatchCalls())
}

func TestController_SetOperationRequiresSelection(t *testing.T) {
	h := newHarness(t, succeedAll())
	h.send(LoadIssues{Issues: testIssues(2)}, SetOperation{Operation: BulkOperation{Kind: KindStatus, Value: TextValue("done")}}, ToggleSelection{ID: 1})
	snap := h.awaitSelected([]int{1})
	require.Equal(t, StateIdle, snap.State)
	require.Nil(t, snap.Operation)
}

func TestController_ValidationFailedThenRetry(t *testing.T) {
	h := newHarness(t, succeedAll())
	h.send(LoadIssues{Issues: testIssues(3)}, SelectAll{})
	h.awaitSelected([]int{1, 2, 3})

	h.send(SetOperation{Operation: BulkOperation{Kind: KindAssign}})
	snap := h.await(StateValidationFailed)
	require.Len(t, snap.ValidationErrors, 1)
	require.Equal(t, []int{1, 2, 3}, snap.ValidationErrors[0].IssueIDs)

	h.send(SetOperation{Operation: BulkOperation{Kind: KindAssign, Value: TextValue("dana")}})
	snap = h.await(StateConfirmed)
	require.Empty(t, snap.ValidationErrors)

	h.send(Cancel{})
	snap = h.await(StateIdle)
	require.Nil(t, snap.Operation)
	require.False(t, snap.ShowConfirmation)
	require.Equal(t, []int{1, 2, 3}, snap.Selected)
}

func TestController_ValidatorErrorMovesToError(t *testing.T) {
	validator := &ValidatorMock{
		ValidateFunc: func(ctx context.Context, op BulkOperation, selected []int) ([]ValidationError, error) {
			return nil, errors.New("permissions service unavailable")
		},
	}
	h := newHarness(t, succeedAll(), WithValidator(validator))
	h.send(LoadIssues{Issues: testIssues(1)}, SelectAll{})
	h.awaitSelected([]int{1})
	h.send(SetOperation{Operation: BulkOperation{Kind: KindStatus, Value: TextValue("done")}})

	snap := h.await(StateError)
	require.Contains(t, snap.Error, "permissions service unavailable")
	require.False(t, snap.Loading)

	h.send(Retry{})
	snap = h.await(StateIdle)
	require.Equal(t, []int{1}, snap.Selected)
}

func TestController_ExecutorPanicRollsBack(t *testing.T) {
	mock := &SubmitterMock{
		SubmitBatchFunc: func(ctx context.Context, issueIDs []int, op BulkOperation) (*BatchResponse, error) {
			panic("boom")
		},
	}
	h := newHarness(t, mock)
	h.send(LoadIssues{Issues: testIssues(2)}, SelectAll{})
	h.awaitSelected([]int{1, 2})
	h.send(SetOperation{Operation: BulkOperation{Kind: KindStatus, Value: TextValue("done")}})
	h.await(StateConfirmed)
	h.send(Confirm{})

	snap := h.await(StateError)
	require.Contains(t, snap.Error, "boom")
	require.Equal(t, "todo", findIssue(t, snap, 1).Status)
	require.Equal(t, "todo", findIssue(t, snap, 2).Status)
	require.False(t, snap.CanUndo)

	h.send(ResetSelection{})
	snap = h.await(StateIdle)
	require.Empty(t, snap.Selected)
	require.Nil(t, snap.Operation)
}

func TestController_UndoRedo(t *testing.T) {
	h := newHarness(t, succeedAll())
	issues := testIssues(3)
	issues[1].Status = "in_progress"
	h.send(LoadIssues{Issues: issues}, SelectAll{})
	h.awaitSelected([]int{1, 2, 3})
	h.send(SetOperation{Operation: BulkOperation{Kind: KindStatus, Value: TextValue("done")}})
	h.await(StateConfirmed)
	h.send(Confirm{})
	h.await(StateCompleted)
	h.send(ResetSelection{})
	h.await(StateIdle)

	h.send(UndoLastOperation{})
	h.await(StateUndoing)
	snap := h.await(StateIdle)
	require.Equal(t, "todo", findIssue(t, snap, 1).Status)
	require.Equal(t, "in_progress", findIssue(t, snap, 2).Status)
	require.False(t, snap.CanUndo)
	require.True(t, snap.CanRedo)
	require.Equal(t, 0, snap.HistoryIndex)
	// One call for the original operation and one per distinct previous value.
	require.Len(t, h.mock.SubmitBatchCalls(), 3)

	h.send(RedoLastOperation{})
	h.await(StateRedoing)
	snap = h.await(StateIdle)
	require.Equal(t, "done", findIssue(t, snap, 2).Status)
	require.True(t, snap.CanUndo)
	require.False(t, snap.CanRedo)
	require.Equal(t, 1, snap.HistoryIndex)
}

func TestController_UndoFailureKeepsHistoryIndex(t *testing.T) {
	calls := 0
	mock := &SubmitterMock{
		SubmitBatchFunc: func(ctx context.Context, issueIDs []int, op BulkOperation) (*BatchResponse, error) {
			calls++
			if calls > 1 {
				return nil, errors.New("offline")
			}
			return &BatchResponse{SuccessCount: len(issueIDs)}, nil
		},
	}
	h := newHarness(t, mock)
	h.send(LoadIssues{Issues: testIssues(2)}, SelectAll{})
	h.awaitSelected([]int{1, 2})
	h.send(SetOperation{Operation: BulkOperation{Kind: KindPriority, Value: TextValue("low")}})
	h.await(StateConfirmed)
	h.send(Confirm{})
	h.await(StateCompleted)

	h.send(UndoLastOperation{})
	snap := h.await(StateError)
	require.Contains(t, snap.Error, "undo failed")
	require.Equal(t, 1, snap.HistoryIndex)
	require.True(t, snap.CanUndo)
}

func TestController_CompletedReturnsToIdleAfterDelay(t *testing.T) {
	h := newHarness(t, succeedAll(), WithCompletedDelay(10*time.Millisecond))
	h.send(LoadIssues{Issues: testIssues(1)}, SelectAll{})
	h.awaitSelected([]int{1})
	h.send(SetOperation{Operation: BulkOperation{Kind: KindStatus, Value: TextValue("done")}})
	h.await(StateConfirmed)
	h.send(Confirm{})
	h.await(StateCompleted)

	snap := h.await(StateIdle)
	require.Nil(t, snap.Operation)
	require.NotNil(t, snap.Result, "last result stays visible in idle")
}

func TestController_CancelExecutionBetweenBatches(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	first := true
	mock := &SubmitterMock{
		SubmitBatchFunc: func(ctx context.Context, issueIDs []int, op BulkOperation) (*BatchResponse, error) {
			if first {
				first = false
				close(started)
				<-release
			}
			return &BatchResponse{SuccessCount: len(issueIDs)}, nil
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := NewController(NewExecutor(mock, WithBatchSize(2), WithBatchDelay(0)))
	sub := c.Subscribe(ctx)
	go func() { _ = c.Run(ctx) }()
	h := &harness{t: t, ctx: ctx, c: c, sub: sub, mock: mock}

	h.send(LoadIssues{Issues: testIssues(5)}, SelectAll{})
	h.awaitSelected([]int{1, 2, 3, 4, 5})
	h.send(SetOperation{Operation: BulkOperation{Kind: KindStatus, Value: TextValue("done")}})
	h.await(StateConfirmed)
	h.send(Confirm{})
	h.await(StateExecuting)
	<-started

	h.send(CancelExecution{})
	<-sub // snapshot published after the cancel request is handled
	close(release)

	snap := h.await(StateCancelled)
	require.Equal(t, []int{1, 2}, snap.Result.AffectedIssues)
	require.Equal(t, 3, snap.Result.FailureCount)
	require.Equal(t, "done", findIssue(t, snap, 1).Status)
	require.Equal(t, "todo", findIssue(t, snap, 5).Status, "unsent issues rolled back")
	require.True(t, snap.CanUndo)
	require.Len(t, mock.SubmitBatchCalls(), 1)

	h.send(Retry{})
	h.await(StateIdle)
}

func TestController_FailFromAnyState(t *testing.T) {
	h := newHarness(t, succeedAll())
	h.send(LoadIssues{Issues: testIssues(1)}, SelectAll{})
	h.awaitSelected([]int{1})
	h.send(SetOperation{Operation: BulkOperation{Kind: KindStatus, Value: TextValue("done")}})
	h.await(StateConfirmed)

	h.send(Fail{Err: errors.New("socket closed")})
	snap := h.await(StateError)
	require.Equal(t, "socket closed", snap.Error)
	require.False(t, snap.ShowConfirmation)

	h.send(Confirm{})
	h.send(ResetSelection{})
	snap = h.await(StateIdle)
	require.Empty(t, snap.Selected)
	require.Empty(t, h.mock.SubmitBatchCalls())
}

func TestController_LoadIgnoredOutsideIdle(t *testing.T) {
	h := newHarness(t, succeedAll())
	h.send(LoadIssues{Issues: testIssues(2)}, SelectAll{})
	h.awaitSelected([]int{1, 2})
	h.send(SetOperation{Operation: BulkOperation{Kind: KindStatus, Value: TextValue("done")}})
	h.await(StateConfirmed)

	h.send(LoadIssues{Issues: testIssues(9)}, Cancel{})
	snap := h.await(StateIdle)
	require.Len(t, snap.Issues, 2)
}

func TestController_HistoryRunsGetFreshOperationIDs(t *testing.T) {
	h := newHarness(t, succeedAll())
	h.send(LoadIssues{Issues: testIssues(2)}, SelectAll{})
	h.awaitSelected([]int{1, 2})
	h.send(SetOperation{Operation: BulkOperation{Kind: KindStatus, Value: TextValue("done")}})
	h.await(StateConfirmed)
	h.send(Confirm{})
	h.await(StateCompleted)

	for _, ev := range []Event{UndoLastOperation{}, RedoLastOperation{}, UndoLastOperation{}} {
		h.send(ev)
		h.await(StateUndoing, StateRedoing)
		h.await(StateIdle)
	}

	calls := h.mock.SubmitBatchCalls()
	require.Len(t, calls, 4)
	seen := make(map[string]bool)
	for _, call := range calls {
		require.NotEmpty(t, call.Op.ID)
		require.False(t, seen[call.Op.ID], "operation id %s reused", call.Op.ID)
		seen[call.Op.ID] = true
	}
	require.Equal(t, 0, h.c.Snapshot().HistoryIndex)
}

// blockingSubmitter holds the first submission until release is closed.
func blockingSubmitter(started, release chan struct{}) *SubmitterMock {
	var once sync.Once
	return &SubmitterMock{
		SubmitBatchFunc: func(ctx context.Context, issueIDs []int, op BulkOperation) (*BatchResponse, error) {
			first := false
			once.Do(func() { first = true })
			if first {
				close(started)
				<-release
			}
			return &BatchResponse{SuccessCount: len(issueIDs)}, nil
		},
	}
}

func TestController_FailDuringExecutionKeepsAppliedWork(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	mock := blockingSubmitter(started, release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c := NewController(NewExecutor(mock, WithBatchSize(2), WithBatchDelay(0)))
	sub := c.Subscribe(ctx)
	go func() { _ = c.Run(ctx) }()
	h := &harness{t: t, ctx: ctx, c: c, sub: sub, mock: mock}

	h.send(LoadIssues{Issues: testIssues(5)}, SelectAll{})
	h.awaitSelected([]int{1, 2, 3, 4, 5})
	h.send(SetOperation{Operation: BulkOperation{Kind: KindStatus, Value: TextValue("done")}})
	h.await(StateConfirmed)
	h.send(Confirm{})
	h.await(StateExecuting)
	<-started

	h.send(Fail{Err: errors.New("socket closed")})
	snap := <-sub
	require.Equal(t, StateExecuting, snap.Payload.State, "waits for the chunk in flight")
	close(release)

	snap2 := h.await(StateError)
	require.Equal(t, "socket closed", snap2.Error)
	require.NotNil(t, snap2.Result)
	require.Equal(t, []int{1, 2}, snap2.Result.AffectedIssues)
	require.Equal(t, "done", findIssue(t, snap2, 1).Status)
	require.Equal(t, "done", findIssue(t, snap2, 2).Status)
	require.Equal(t, "todo", findIssue(t, snap2, 3).Status, "unsent issues rolled back")
	require.Equal(t, 1, snap2.HistoryIndex)
	require.True(t, snap2.CanUndo)
	require.Len(t, mock.SubmitBatchCalls(), 1)
}

func TestController_FailDuringUndoSettlesFirst(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	mock := &SubmitterMock{
		SubmitBatchFunc: func(ctx context.Context, issueIDs []int, op BulkOperation) (*BatchResponse, error) {
			calls++
			if calls == 2 {
				close(started)
				<-release
			}
			return &BatchResponse{SuccessCount: len(issueIDs)}, nil
		},
	}
	h := newHarness(t, mock, WithCompletedDelay(time.Minute))
	h.send(LoadIssues{Issues: testIssues(2)}, SelectAll{})
	h.awaitSelected([]int{1, 2})
	h.send(SetOperation{Operation: BulkOperation{Kind: KindPriority, Value: TextValue("high")}})
	h.await(StateConfirmed)
	h.send(Confirm{})
	h.await(StateCompleted)

	h.send(UndoLastOperation{})
	h.await(StateUndoing)
	<-started
	h.send(Fail{Err: errors.New("socket closed")})
	close(release)

	snap := h.await(StateError)
	require.Equal(t, "socket closed", snap.Error)
	require.Equal(t, "medium", findIssue(t, snap, 1).Priority, "undo that reached the tracker is reflected")
	require.Equal(t, 0, snap.HistoryIndex)
	require.True(t, snap.CanRedo)
}

func TestController_CancelFromValidationFailed(t *testing.T) {
	h := newHarness(t, succeedAll())
	h.send(LoadIssues{Issues: testIssues(2)}, SelectAll{})
	h.awaitSelected([]int{1, 2})
	h.send(SetOperation{Operation: BulkOperation{Kind: KindAssign}})
	snap := h.await(StateValidationFailed)
	require.NotEmpty(t, snap.ValidationErrors)

	h.send(Cancel{})
	snap = h.await(StateIdle)
	require.Nil(t, snap.Operation)
	require.Empty(t, snap.ValidationErrors)
	require.Equal(t, []int{1, 2}, snap.Selected)
	require.Empty(t, h.mock.SubmitBatchCalls())
}

func TestController_FailInterrupts(t *testing.T) {
	tests := []struct {
		name  string
		reach func(h *harness)
	}{
		{
			name: "validating",
			reach: func(h *harness) {
				h.send(SetOperation{Operation: BulkOperation{Kind: KindStatus, Value: TextValue("done")}})
				h.await(StateValidating)
			},
		},
		{
			name: "validation failed",
			reach: func(h *harness) {
				h.send(SetOperation{Operation: BulkOperation{Kind: KindAssign}})
				h.await(StateValidationFailed)
			},
		},
		{
			name: "completed",
			reach: func(h *harness) {
				h.send(SetOperation{Operation: BulkOperation{Kind: KindStatus, Value: TextValue("done")}})
				h.await(StateConfirmed)
				h.send(Confirm{})
				h.await(StateCompleted)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			release := make(chan struct{})
			t.Cleanup(func() { close(release) })
			validator := &ValidatorMock{
				ValidateFunc: func(ctx context.Context, op BulkOperation, selected []int) ([]ValidationError, error) {
					if op.Kind == KindAssign {
						return NewRuleValidator().Validate(ctx, op, selected)
					}
					if tt.name == "validating" {
						select {
						case <-release:
						case <-ctx.Done():
						}
					}
					return nil, nil
				},
			}
			h := newHarness(t, succeedAll(), WithValidator(validator), WithCompletedDelay(time.Minute))
			h.send(LoadIssues{Issues: testIssues(2)}, SelectAll{})
			h.awaitSelected([]int{1, 2})
			tt.reach(h)

			h.send(Fail{Err: errors.New("socket closed")})
			snap := h.await(StateError)
			require.Equal(t, "socket closed", snap.Error)
			require.False(t, snap.Loading)

			h.send(Retry{})
			h.await(StateIdle)
		})
	}
}
