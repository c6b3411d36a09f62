package bulk

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newhook/kb/internal/logging"
	"github.com/newhook/kb/internal/pubsub"
)

// State is a state of the bulk workflow.
type State string

const (
	StateIdle             State = "idle"
	StateValidating       State = "validating"
	StateValidationFailed State = "validation_failed"
	StateConfirmed        State = "confirmed"
	StateExecuting        State = "executing"
	StateExecutingBatched State = "executing_batched"
	StateCompleted        State = "completed"
	StateCancelled        State = "cancelled"
	StateUndoing          State = "undoing"
	StateRedoing          State = "redoing"
	StateError            State = "error"
)

const (
	// DefaultLargeThreshold is the selection size above which execution is
	// reported as batched.
	DefaultLargeThreshold = 20
	// DefaultCompletedDelay is how long the completed state lingers.
	DefaultCompletedDelay = 3 * time.Second

	eventQueueSize = 64
)

// Snapshot is an immutable view of the controller. Every transition produces
// a new snapshot; slices in it are never shared with the controller.
type Snapshot struct {
	State            State
	Issues           []IssueSelection
	Selected         []int
	AllSelected      bool
	Operation        *BulkOperation
	ValidationErrors []ValidationError
	Result           *BulkOperationResult
	Progress         int
	BatchIndex       int
	TotalBatches     int
	Loading          bool
	ShowConfirmation bool
	Error            string
	CanUndo          bool
	CanRedo          bool
	HistoryIndex     int
	History          []HistoryEntry
}

// Executing reports whether an operation is running.
func (s Snapshot) Executing() bool {
	return s.State == StateExecuting || s.State == StateExecutingBatched
}

// Controller is the bulk workflow state machine. All state is owned by the
// goroutine running Run; other goroutines interact through Send and read
// through Snapshot or Subscribe.
type Controller struct {
	executor       *Executor
	validator      Validator
	history        *History
	largeThreshold int
	completedDelay time.Duration
	broker         *pubsub.Broker[Snapshot]
	events         chan Event

	// Owned by the Run goroutine.
	state            State
	selection        *Selection
	operation        *BulkOperation
	validationErrors []ValidationError
	result           *BulkOperationResult
	progress         int
	batchIndex       int
	totalBatches     int
	loading          bool
	showConfirmation bool
	errMsg           string
	preimage         map[int]Value
	seq              uint64
	cancelActor      context.CancelFunc
	// pendingErr is a failure reported while an actor was mutating the
	// tracker; it is entered once the actor has settled.
	pendingErr       error
	completedTimer   *time.Timer
	done             <-chan struct{}

	mu   sync.RWMutex
	snap Snapshot
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithValidator replaces the default RuleValidator.
func WithValidator(v Validator) ControllerOption {
	return func(c *Controller) { c.validator = v }
}

// WithHistory seeds the controller with an existing history.
func WithHistory(h *History) ControllerOption {
	return func(c *Controller) { c.history = h }
}

// WithLargeThreshold sets the selection size above which execution runs in
// the executing_batched state.
func WithLargeThreshold(n int) ControllerOption {
	return func(c *Controller) {
		if n > 0 {
			c.largeThreshold = n
		}
	}
}

// WithCompletedDelay sets how long the completed state lasts before the
// controller returns to idle.
func WithCompletedDelay(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d >= 0 {
			c.completedDelay = d
		}
	}
}

// NewController creates a controller in the idle state.
func NewController(executor *Executor, opts ...ControllerOption) *Controller {
	c := &Controller{
		executor:       executor,
		validator:      NewRuleValidator(),
		history:        NewHistory(),
		largeThreshold: DefaultLargeThreshold,
		completedDelay: DefaultCompletedDelay,
		broker:         pubsub.NewBroker[Snapshot](),
		events:         make(chan Event, eventQueueSize),
		state:          StateIdle,
		selection:      NewSelection(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.snap = c.buildSnapshot()
	return c
}

// Subscribe returns a channel receiving a snapshot after every transition.
func (c *Controller) Subscribe(ctx context.Context) <-chan pubsub.Event[Snapshot] {
	return c.broker.Subscribe(ctx)
}

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// CanUndo reports whether an undo is currently possible.
func (c *Controller) CanUndo() bool { return c.Snapshot().CanUndo }

// CanRedo reports whether a redo is currently possible.
func (c *Controller) CanRedo() bool { return c.Snapshot().CanRedo }

// Send queues an event for processing.
func (c *Controller) Send(ctx context.Context, ev Event) error {
	select {
	case c.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx is done. Only one Run may be active.
func (c *Controller) Run(ctx context.Context) error {
	c.done = ctx.Done()
	defer c.shutdown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

func (c *Controller) shutdown() {
	if c.cancelActor != nil {
		c.cancelActor()
		c.cancelActor = nil
	}
	c.stopCompletedTimer()
	c.broker.Shutdown()
}

// post delivers an actor completion, giving up once Run has stopped.
func (c *Controller) post(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *Controller) handle(ctx context.Context, ev Event) {
	from := c.state

	// The error event is accepted in every state.
	if f, ok := ev.(Fail); ok {
		c.fail(f.Err)
	} else {
		switch c.state {
		case StateIdle:
			c.onIdle(ctx, ev)
		case StateValidating:
			c.onValidating(ev)
		case StateValidationFailed:
			c.onValidationFailed(ctx, ev)
		case StateConfirmed:
			c.onConfirmed(ctx, ev)
		case StateExecuting, StateExecutingBatched:
			c.onExecuting(ev)
		case StateCompleted:
			c.onCompleted(ctx, ev)
		case StateUndoing, StateRedoing:
			c.onHistory(ev)
		case StateCancelled:
			c.onCancelled(ev)
		case StateError:
			c.onError(ev)
		}
	}

	if from != c.state {
		logging.Debug("bulk transition", "from", from, "to", c.state, "event", fmt.Sprintf("%T", ev))
	}
	c.publish()
}

func (c *Controller) onIdle(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case LoadIssues:
		c.selection.Load(e.Issues)
	case ToggleSelection:
		c.selection.Toggle(e.ID)
	case SelectAll:
		c.selection.SelectAll()
	case SelectNone:
		c.selection.SelectNone()
	case SelectFiltered:
		if e.Predicate == nil {
			c.selection.SelectNone()
		} else {
			c.selection.SelectWhere(e.Predicate)
		}
	case SetOperation:
		if c.selection.Len() > 0 {
			c.enterValidating(ctx, e.Operation)
		}
	case UndoLastOperation:
		if c.history.Undoable() {
			c.enterUndoing(ctx)
		}
	case RedoLastOperation:
		if c.history.Redoable() {
			c.enterRedoing(ctx)
		}
	case ResetSelection:
		c.selection.SelectNone()
		c.operation = nil
	}
}

func (c *Controller) onValidating(ev Event) {
	e, ok := ev.(validationDone)
	if !ok || e.seq != c.seq {
		return
	}
	c.loading = false
	switch {
	case e.err != nil:
		c.enterError(fmt.Errorf("validation failed: %w", e.err))
	case len(e.errors) == 0:
		c.state = StateConfirmed
		c.showConfirmation = true
	default:
		c.validationErrors = e.errors
		c.state = StateValidationFailed
	}
}

func (c *Controller) onValidationFailed(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case SetOperation:
		if c.selection.Len() > 0 {
			c.enterValidating(ctx, e.Operation)
		}
	case Cancel:
		c.enterIdle()
	}
}

func (c *Controller) onConfirmed(ctx context.Context, ev Event) {
	switch ev.(type) {
	case Confirm:
		c.enterExecuting(ctx)
	case Cancel:
		c.enterIdle()
	}
}

func (c *Controller) onExecuting(ev Event) {
	switch e := ev.(type) {
	case CancelExecution:
		if c.cancelActor != nil {
			c.cancelActor()
		}
	case progressed:
		if e.seq == c.seq {
			c.progress = e.percent
			c.batchIndex = e.batchIndex
		}
	case executionDone:
		if e.seq == c.seq {
			c.finishExecution(e)
			c.settlePending()
		}
	}
}

func (c *Controller) onCompleted(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case completedElapsed:
		if e.seq == c.seq {
			c.enterIdle()
		}
	case ResetSelection:
		c.enterIdle()
	case UndoLastOperation:
		if c.history.Undoable() {
			c.stopCompletedTimer()
			c.enterUndoing(ctx)
		}
	}
}

func (c *Controller) onHistory(ev Event) {
	e, ok := ev.(historyDone)
	if !ok || e.seq != c.seq {
		return
	}
	c.cancelActor = nil
	c.loading = false

	// Issues that were reverted or replayed reflect their new values even
	// when some of the batch failed.
	for _, step := range e.applied {
		for _, id := range step.IssueIDs {
			c.selection.update(id, func(issue *IssueSelection) { Apply(issue, step.Operation) })
		}
	}
	result := e.result
	c.result = &result

	if e.err != nil {
		c.enterError(e.err)
		c.settlePending()
		return
	}
	if c.state == StateUndoing {
		c.history.CommitUndo()
	} else {
		c.history.CommitRedo()
	}
	c.enterIdle()
	c.settlePending()
}

func (c *Controller) onCancelled(ev Event) {
	switch ev.(type) {
	case Retry:
		c.enterIdle()
	case ResetSelection:
		c.enterIdle()
		c.selection.SelectNone()
	}
}

func (c *Controller) onError(ev Event) {
	switch ev.(type) {
	case Retry:
		c.enterIdle()
	case ResetSelection:
		c.enterIdle()
		c.selection.SelectNone()
	}
}

func (c *Controller) enterIdle() {
	c.stopCompletedTimer()
	c.state = StateIdle
	c.operation = nil
	c.validationErrors = nil
	c.showConfirmation = false
	c.loading = false
	c.errMsg = ""
}

// fail handles the global error event. Chunks already submitted by a
// running executor or undo/redo actor may have been applied by the tracker,
// so the actor is stopped between batches and the error is entered once its
// partial result has been reconciled.
func (c *Controller) fail(err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	switch c.state {
	case StateExecuting, StateExecutingBatched, StateUndoing, StateRedoing:
		if c.cancelActor != nil {
			c.pendingErr = err
			c.cancelActor()
			return
		}
	}
	c.enterError(err)
}

func (c *Controller) settlePending() {
	if c.pendingErr == nil {
		return
	}
	err := c.pendingErr
	c.pendingErr = nil
	c.enterError(err)
}

func (c *Controller) enterError(err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	if c.cancelActor != nil {
		c.cancelActor()
		c.cancelActor = nil
	}
	if c.state == StateValidating {
		// The validator has no side effects; drop its late result.
		c.seq++
	}
	c.stopCompletedTimer()
	c.state = StateError
	c.loading = false
	c.showConfirmation = false
	c.errMsg = err.Error()
	logging.Warn("bulk workflow error", "error", err)
}

func (c *Controller) enterValidating(ctx context.Context, op BulkOperation) {
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	op.Previous = nil
	c.operation = &op
	c.validationErrors = nil
	c.result = nil
	c.loading = true
	c.state = StateValidating

	c.seq++
	seq := c.seq
	selected := c.selection.IDs()
	go func() {
		var ev validationDone
		ev.seq = seq
		defer func() {
			if r := recover(); r != nil {
				ev.errors, ev.err = nil, fmt.Errorf("validator panicked: %v", r)
			}
			c.post(ev)
		}()
		ev.errors, ev.err = c.validator.Validate(ctx, op, selected)
	}()
}

func (c *Controller) enterExecuting(ctx context.Context) {
	ids := c.selection.IDs()
	op := *c.operation

	c.showConfirmation = false
	c.loading = true
	c.progress = 0
	c.batchIndex = 0
	c.totalBatches = c.executor.BatchCount(len(ids))
	if len(ids) > c.largeThreshold {
		c.state = StateExecutingBatched
	} else {
		c.state = StateExecuting
	}

	// Keep a pre-image of the mutated field so any failure can be undone
	// exactly, then apply the change optimistically.
	c.preimage = make(map[int]Value, len(ids))
	for _, id := range ids {
		issue, ok := c.selection.Issue(id)
		if !ok {
			continue
		}
		c.preimage[id] = Capture(issue, op.Kind)
		c.selection.update(id, func(issue *IssueSelection) { Apply(issue, op) })
	}
	op.Previous = make(map[int]Value, len(c.preimage))
	for id, v := range c.preimage {
		op.Previous[id] = v
	}
	c.operation = &op

	c.seq++
	seq := c.seq
	actx, cancel := context.WithCancel(ctx)
	c.cancelActor = cancel
	go func() {
		var ev executionDone
		ev.seq = seq
		defer func() {
			if r := recover(); r != nil {
				ev.err = fmt.Errorf("executor panicked: %v", r)
			}
			c.post(ev)
		}()
		ev.result, ev.err = c.executor.Execute(actx, op, ids, func(percent, batchIndex int) {
			c.post(progressed{seq: seq, percent: percent, batchIndex: batchIndex})
		})
	}()
}

func (c *Controller) finishExecution(e executionDone) {
	if c.cancelActor != nil {
		c.cancelActor()
		c.cancelActor = nil
	}
	c.loading = false
	op := *c.operation

	switch {
	case e.err == nil:
		c.rollback(e.result.FailedIDs())
		c.preimage = nil
		c.recordResult(op, e.result)
		c.state = StateCompleted
		c.startCompletedTimer()
	case errors.Is(e.err, ErrExecutionCancelled):
		c.rollback(e.result.FailedIDs())
		c.preimage = nil
		if len(e.result.AffectedIssues) > 0 {
			c.recordResult(op, e.result)
		} else {
			result := e.result.clone()
			c.result = &result
		}
		c.state = StateCancelled
	default:
		c.rollback(nil)
		c.preimage = nil
		c.enterError(fmt.Errorf("execution failed: %w", e.err))
	}
}

func (c *Controller) recordResult(op BulkOperation, result BulkOperationResult) {
	entry := c.history.Record(op, result)
	r := entry.Result.clone()
	c.result = &r
	c.selection.SelectNone()
	logging.Info("bulk operation recorded",
		"operation", op.ID, "kind", op.Kind, "success", result.SuccessCount, "failure", result.FailureCount)
}

// rollback restores the pre-image for ids, or for every captured issue when
// ids is nil.
func (c *Controller) rollback(ids []int) {
	if c.operation == nil {
		return
	}
	kind := c.operation.Kind
	restore := func(id int) {
		prev, ok := c.preimage[id]
		if !ok {
			return
		}
		c.selection.update(id, func(issue *IssueSelection) { Restore(issue, kind, prev) })
	}
	if ids == nil {
		for id := range c.preimage {
			restore(id)
		}
		return
	}
	for _, id := range ids {
		restore(id)
	}
}

func (c *Controller) enterUndoing(ctx context.Context) {
	entry, _ := c.history.PeekUndo()
	c.state = StateUndoing
	c.runHistoryActor(ctx, Inverse(entry))
}

func (c *Controller) enterRedoing(ctx context.Context) {
	entry, _ := c.history.PeekRedo()
	c.state = StateRedoing
	c.runHistoryActor(ctx, []InverseStep{Replay(entry)})
}

// runHistoryActor executes steps through the normal executor path. The
// history index only moves once every step succeeded.
func (c *Controller) runHistoryActor(ctx context.Context, steps []InverseStep) {
	c.loading = true
	c.operation = nil
	c.result = nil
	c.seq++
	seq := c.seq
	actx, cancel := context.WithCancel(ctx)
	c.cancelActor = cancel
	verb := "undo"
	if c.state == StateRedoing {
		verb = "redo"
	}

	// Each run is a new mutation as far as the tracker is concerned, so it
	// must not share idempotency keys with the entry or an earlier run.
	runs := make([]InverseStep, len(steps))
	for i, step := range steps {
		step.Operation.ID = uuid.New().String()
		runs[i] = step
		logging.Debug("bulk history step", "verb", verb, "operation", step.Operation.ID, "issues", len(step.IssueIDs))
	}

	go func() {
		ev := historyDone{seq: seq, result: BulkOperationResult{Errors: []ItemError{}, AffectedIssues: []int{}}}
		defer func() {
			if r := recover(); r != nil {
				ev.err = fmt.Errorf("%s panicked: %v", verb, r)
			}
			c.post(ev)
		}()
		for _, step := range runs {
			res, err := c.executor.Execute(actx, step.Operation, step.IssueIDs, nil)
			ev.result.merge(res)
			if len(res.AffectedIssues) > 0 {
				ev.applied = append(ev.applied, InverseStep{Operation: step.Operation, IssueIDs: res.AffectedIssues})
			}
			if err != nil {
				ev.err = fmt.Errorf("%s failed: %w", verb, err)
				return
			}
		}
		if ev.result.FailureCount > 0 {
			ev.err = fmt.Errorf("%s failed for %d issues", verb, ev.result.FailureCount)
		}
	}()
}

func (c *Controller) startCompletedTimer() {
	c.stopCompletedTimer()
	seq := c.seq
	c.completedTimer = time.AfterFunc(c.completedDelay, func() {
		c.post(completedElapsed{seq: seq})
	})
}

func (c *Controller) stopCompletedTimer() {
	if c.completedTimer != nil {
		c.completedTimer.Stop()
		c.completedTimer = nil
	}
}

func (c *Controller) publish() {
	snap := c.buildSnapshot()
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	c.broker.Publish(pubsub.UpdatedEvent, snap)
}

func (c *Controller) buildSnapshot() Snapshot {
	snap := Snapshot{
		State:            c.state,
		Issues:           c.selection.Available(),
		Selected:         c.selection.IDs(),
		AllSelected:      c.selection.AllSelected(),
		ValidationErrors: slices.Clone(c.validationErrors),
		Progress:         c.progress,
		BatchIndex:       c.batchIndex,
		TotalBatches:     c.totalBatches,
		Loading:          c.loading,
		ShowConfirmation: c.showConfirmation,
		Error:            c.errMsg,
		CanUndo:          c.history.Undoable(),
		CanRedo:          c.history.Redoable(),
		HistoryIndex:     c.history.Index(),
		History:          c.history.Entries(),
	}
	if c.operation != nil {
		op := *c.operation
		snap.Operation = &op
	}
	if c.result != nil {
		r := c.result.clone()
		snap.Result = &r
	}
	return snap
}

// Await reads snapshots from sub until one matches pred.
func Await(ctx context.Context, sub <-chan pubsub.Event[Snapshot], pred func(Snapshot) bool) (Snapshot, error) {
	for {
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case evt, ok := <-sub:
			if !ok {
				return Snapshot{}, errors.New("controller stopped")
			}
			if pred(evt.Payload) {
				return evt.Payload, nil
			}
		}
	}
}

// InState returns a predicate matching any of states.
func InState(states ...State) func(Snapshot) bool {
	return func(s Snapshot) bool { return slices.Contains(states, s.State) }
}
