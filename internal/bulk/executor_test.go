package bulk

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func succeedAll() *SubmitterMock {
	return &SubmitterMock{
		SubmitBatchFunc: func(ctx context.Context, issueIDs []int, op BulkOperation) (*BatchResponse, error) {
			return &BatchResponse{SuccessCount: len(issueIDs)}, nil
		},
	}
}

func TestPartition(t *testing.T) {
	require.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, Partition([]int{1, 2, 3, 4, 5}, 2))
	require.Nil(t, Partition(nil, 3))
	require.Len(t, Partition(ids(30), 0), 2, "non-positive size falls back to the default")
}

func TestExecutor_AllSucceed(t *testing.T) {
	sub := succeedAll()
	e := NewExecutor(sub, WithBatchSize(2), WithBatchDelay(0))
	op := BulkOperation{ID: "op", Kind: KindPriority, Value: TextValue("high")}

	result, err := e.Execute(context.Background(), op, []int{1, 3, 5}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, result.SuccessCount)
	require.Equal(t, 0, result.FailureCount)
	require.Equal(t, []int{1, 3, 5}, result.AffectedIssues)
	require.Empty(t, result.Errors)

	calls := sub.SubmitBatchCalls()
	require.Len(t, calls, 2)
	require.Equal(t, []int{1, 3}, calls[0].IssueIDs)
	require.Equal(t, []int{5}, calls[1].IssueIDs)
}

func TestExecutor_ItemErrorsExcludedFromAffected(t *testing.T) {
	sub := &SubmitterMock{
		SubmitBatchFunc: func(ctx context.Context, issueIDs []int, op BulkOperation) (*BatchResponse, error) {
			return &BatchResponse{
				SuccessCount: 1,
				Errors: []ItemError{
					{IssueID: 3, Error: "conflict"},
					{IssueID: 3, Error: "duplicate report"},
					{IssueID: 99, Error: "not in chunk"},
				},
			}, nil
		},
	}
	e := NewExecutor(sub, WithBatchDelay(0))

	result, err := e.Execute(context.Background(), BulkOperation{Kind: KindStatus, Value: TextValue("done")}, []int{1, 3}, nil)
	require.NoError(t, err)
	require.Equal(t, []int{1}, result.AffectedIssues)
	require.Equal(t, []ItemError{{IssueID: 3, Error: "conflict"}}, result.Errors)
	require.Equal(t, 1, result.SuccessCount)
	require.Equal(t, 1, result.FailureCount)
}

func TestExecutor_RequestFailureFailsWholeChunkOnly(t *testing.T) {
	call := 0
	sub := &SubmitterMock{
		SubmitBatchFunc: func(ctx context.Context, issueIDs []int, op BulkOperation) (*BatchResponse, error) {
			call++
			if call == 1 {
				return nil, errors.New("HTTP error 500")
			}
			return &BatchResponse{SuccessCount: len(issueIDs)}, nil
		},
	}
	e := NewExecutor(sub, WithBatchSize(2), WithBatchDelay(0))

	result, err := e.Execute(context.Background(), BulkOperation{Kind: KindStatus, Value: TextValue("done")}, []int{1, 2, 3}, nil)
	require.NoError(t, err)
	require.Equal(t, []int{3}, result.AffectedIssues)
	require.Equal(t, []int{1, 2}, result.FailedIDs())
	for _, e := range result.Errors {
		require.Equal(t, "batch request failed: HTTP error 500", e.Error)
	}
	require.Equal(t, 2, result.FailureCount)
}

func TestExecutor_NilResponseIsFailure(t *testing.T) {
	e := NewExecutor(&SubmitterMock{}, WithBatchDelay(0))
	result, err := e.Execute(context.Background(), BulkOperation{Kind: KindStatus}, []int{1}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.FailureCount)
}

func TestExecutor_ProgressCallbacks(t *testing.T) {
	e := NewExecutor(succeedAll(), WithBatchSize(25), WithBatchDelay(0))
	var percents, indexes []int
	_, err := e.Execute(context.Background(), BulkOperation{Kind: KindStatus}, ids(30), func(p, i int) {
		percents = append(percents, p)
		indexes = append(indexes, i)
	})
	require.NoError(t, err)
	require.Equal(t, []int{50, 100}, percents)
	require.Equal(t, []int{0, 1}, indexes)
}

func TestExecutor_ProgressProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 200).Draw(t, "n")
		b := rapid.IntRange(1, 40).Draw(t, "batch")
		e := NewExecutor(succeedAll(), WithBatchSize(b), WithBatchDelay(0))

		var percents []int
		result, err := e.Execute(context.Background(), BulkOperation{Kind: KindStatus}, ids(n), func(p, _ int) {
			percents = append(percents, p)
		})
		require.NoError(t, err)
		require.Len(t, percents, (n+b-1)/b)
		require.Equal(t, 100, percents[len(percents)-1])
		require.Equal(t, n, result.SuccessCount+result.FailureCount)
	})
}

func TestExecutor_CancelBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &SubmitterMock{
		SubmitBatchFunc: func(c context.Context, issueIDs []int, op BulkOperation) (*BatchResponse, error) {
			// Cancelling mid-chunk must not abort the chunk in flight.
			cancel()
			require.NoError(t, c.Err())
			return &BatchResponse{SuccessCount: len(issueIDs)}, nil
		},
	}
	e := NewExecutor(sub, WithBatchSize(2), WithBatchDelay(0))

	result, err := e.Execute(ctx, BulkOperation{Kind: KindStatus}, []int{1, 2, 3, 4, 5}, nil)
	require.ErrorIs(t, err, ErrExecutionCancelled)
	require.Len(t, sub.SubmitBatchCalls(), 1)
	require.Equal(t, []int{1, 2}, result.AffectedIssues)
	require.Equal(t, []int{3, 4, 5}, result.FailedIDs())
	require.Equal(t, 3, result.FailureCount)
}

func TestExecutor_BatchCount(t *testing.T) {
	e := NewExecutor(succeedAll(), WithBatchSize(25))
	require.Equal(t, 0, e.BatchCount(0))
	require.Equal(t, 1, e.BatchCount(25))
	require.Equal(t, 2, e.BatchCount(26))
}
