package bulk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/newhook/kb/internal/logging"
	cosignal "github.com/newhook/kb/internal/signal"
	"github.com/newhook/kb/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultBatchSize is the number of issues sent per batch request.
	DefaultBatchSize = 25
	// DefaultBatchDelay is the pause between consecutive batch requests.
	DefaultBatchDelay = 100 * time.Millisecond
)

// ErrExecutionCancelled is returned by Execute when the context is cancelled
// between batches. The accompanying result covers the batches already sent.
var ErrExecutionCancelled = errors.New("execution cancelled")

// cancelledMessage is recorded for issues never submitted because execution
// was cancelled.
const cancelledMessage = "cancelled before submission"

// ProgressFunc receives the completion percentage and the zero-based index
// of the batch that just finished.
type ProgressFunc func(percent, batchIndex int)

// Executor applies an operation to a list of issues batch by batch.
// Batches are sent strictly one after another.
type Executor struct {
	submitter Submitter
	batchSize int
	delay     time.Duration
	metrics   *telemetry.BulkMetrics
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBatchSize sets the batch size. Non-positive values are ignored.
func WithBatchSize(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithBatchDelay sets the pause between batches.
func WithBatchDelay(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d >= 0 {
			e.delay = d
		}
	}
}

// WithMetrics records batch metrics on m.
func WithMetrics(m *telemetry.BulkMetrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor creates an executor that submits through s.
func NewExecutor(s Submitter, opts ...ExecutorOption) *Executor {
	e := &Executor{
		submitter: s,
		batchSize: DefaultBatchSize,
		delay:     DefaultBatchDelay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BatchSize returns the configured batch size.
func (e *Executor) BatchSize() int { return e.batchSize }

// BatchCount returns how many batches n issues will be split into.
func (e *Executor) BatchCount(n int) int {
	return (n + e.batchSize - 1) / e.batchSize
}

// Partition splits ids into consecutive chunks of at most size, keeping order.
func Partition(ids []int, size int) [][]int {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var chunks [][]int
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, slices.Clone(ids[start:end]))
	}
	return chunks
}

// Execute applies op to ids. Request failures mark the whole chunk failed and
// do not stop later chunks. Cancellation of ctx is only observed between
// chunks; a chunk already in flight always runs to completion. On
// cancellation the unsent issues are reported as failures and
// ErrExecutionCancelled is returned with the result.
func (e *Executor) Execute(ctx context.Context, op BulkOperation, ids []int, onProgress ProgressFunc) (BulkOperationResult, error) {
	chunks := Partition(ids, e.batchSize)
	result := BulkOperationResult{Errors: []ItemError{}, AffectedIssues: []int{}}

	ctx, span := telemetry.Tracer(tracerName).Start(ctx, "bulk.execute",
		trace.WithAttributes(
			attribute.String("bulk.operation.id", op.ID),
			attribute.String("bulk.operation.kind", string(op.Kind)),
			attribute.Int("bulk.issues", len(ids)),
			attribute.Int("bulk.batches", len(chunks)),
		))
	defer span.End()

	// Submissions must not be torn down mid-chunk by the caller's
	// cancellation; only the gaps between chunks observe it.
	submitCtx := context.WithoutCancel(ctx)

	for i, chunk := range chunks {
		if i > 0 && e.delay > 0 {
			timer := time.NewTimer(e.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			e.cancelRemaining(&result, chunks[i:])
			span.SetStatus(codes.Error, "cancelled")
			logging.InfoContext(ctx, "bulk execution cancelled", "operation", op.ID, "batch", i, "batches", len(chunks))
			return result, ErrExecutionCancelled
		}

		chunkResult := e.runChunk(submitCtx, op, i, chunk)
		result.merge(chunkResult)

		if onProgress != nil {
			percent := int(math.Round(100 * float64(i+1) / float64(len(chunks))))
			onProgress(percent, i)
		}
	}

	span.SetAttributes(
		attribute.Int("bulk.success", result.SuccessCount),
		attribute.Int("bulk.failure", result.FailureCount),
	)
	return result, nil
}

func (e *Executor) runChunk(ctx context.Context, op BulkOperation, index int, chunk []int) BulkOperationResult {
	start := time.Now()
	var (
		resp *BatchResponse
		err  error
	)
	cosignal.Critical(func() {
		resp, err = e.submitter.SubmitBatch(ctx, chunk, op)
	})

	var out BulkOperationResult
	if err == nil && resp == nil {
		err = fmt.Errorf("empty response")
	}
	if err != nil {
		logging.WarnContext(ctx, "bulk batch failed", "operation", op.ID, "batch", index, "size", len(chunk), "error", err)
		msg := fmt.Sprintf("batch request failed: %v", err)
		for _, id := range chunk {
			out.Errors = append(out.Errors, ItemError{IssueID: id, Error: msg})
		}
		out.FailureCount = len(chunk)
		e.metrics.RecordBatch(ctx, string(op.Kind), 0, len(chunk), time.Since(start), true)
		return out
	}

	inChunk := make(map[int]bool, len(chunk))
	for _, id := range chunk {
		inChunk[id] = true
	}
	failed := make(map[int]bool)
	for _, itemErr := range resp.Errors {
		if !inChunk[itemErr.IssueID] {
			logging.WarnContext(ctx, "ignoring batch error for issue outside chunk", "operation", op.ID, "issue", itemErr.IssueID)
			continue
		}
		if failed[itemErr.IssueID] {
			continue
		}
		failed[itemErr.IssueID] = true
		out.Errors = append(out.Errors, itemErr)
	}
	for _, id := range chunk {
		if !failed[id] {
			out.AffectedIssues = append(out.AffectedIssues, id)
		}
	}
	out.SuccessCount = len(out.AffectedIssues)
	out.FailureCount = len(out.Errors)
	if resp.SuccessCount != out.SuccessCount {
		logging.WarnContext(ctx, "batch success count disagrees with item errors",
			"operation", op.ID, "batch", index, "reported", resp.SuccessCount, "derived", out.SuccessCount)
	}
	e.metrics.RecordBatch(ctx, string(op.Kind), out.SuccessCount, out.FailureCount, time.Since(start), false)
	return out
}

func (e *Executor) cancelRemaining(result *BulkOperationResult, remaining [][]int) {
	for _, chunk := range remaining {
		for _, id := range chunk {
			result.Errors = append(result.Errors, ItemError{IssueID: id, Error: cancelledMessage})
			result.FailureCount++
		}
	}
}

const tracerName = "github.com/newhook/kb/internal/bulk"
