package bulk

// Event is anything the controller reacts to. Events not handled by the
// current state are ignored.
type Event interface {
	event()
}

// LoadIssues replaces the available issues and clears the selection.
type LoadIssues struct{ Issues []IssueSelection }

// ToggleSelection flips the selection of one issue.
type ToggleSelection struct{ ID int }

// SelectAll selects every available issue.
type SelectAll struct{}

// SelectNone clears the selection.
type SelectNone struct{}

// SelectFiltered selects exactly the issues matching Predicate.
type SelectFiltered struct {
	Predicate func(IssueSelection) bool
}

// SetOperation proposes an operation for the selected issues.
type SetOperation struct{ Operation BulkOperation }

// Confirm accepts a validated operation.
type Confirm struct{}

// Cancel abandons a proposed operation before execution.
type Cancel struct{}

// CancelExecution asks a running execution to stop after the current batch.
type CancelExecution struct{}

// UndoLastOperation reverts the most recent applied operation.
type UndoLastOperation struct{}

// RedoLastOperation reapplies the most recently undone operation.
type RedoLastOperation struct{}

// Retry leaves the error or cancelled state keeping the selection.
type Retry struct{}

// ResetSelection returns to idle, clearing the operation and the selection.
type ResetSelection struct{}

// Fail moves the controller to the error state from any state.
type Fail struct{ Err error }

func (LoadIssues) event()        {}
func (ToggleSelection) event()   {}
func (SelectAll) event()         {}
func (SelectNone) event()        {}
func (SelectFiltered) event()    {}
func (SetOperation) event()      {}
func (Confirm) event()           {}
func (Cancel) event()            {}
func (CancelExecution) event()   {}
func (UndoLastOperation) event() {}
func (RedoLastOperation) event() {}
func (Retry) event()             {}
func (ResetSelection) event()    {}
func (Fail) event()              {}

// Completion events posted by actors. seq ties them to the actor that
// produced them so stale completions can be dropped.
type (
	validationDone struct {
		seq    uint64
		errors []ValidationError
		err    error
	}
	progressed struct {
		seq        uint64
		percent    int
		batchIndex int
	}
	executionDone struct {
		seq    uint64
		result BulkOperationResult
		err    error
	}
	historyDone struct {
		seq     uint64
		applied []InverseStep // steps narrowed to the issues that succeeded
		result  BulkOperationResult
		err     error
	}
	completedElapsed struct{ seq uint64 }
)

func (validationDone) event()   {}
func (progressed) event()       {}
func (executionDone) event()    {}
func (historyDone) event()      {}
func (completedElapsed) event() {}
