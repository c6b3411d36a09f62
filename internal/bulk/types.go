// Package bulk implements the bulk issue-operation workflow: selecting issues,
// validating a proposed batch mutation, executing it in bounded batches, and
// keeping an undo/redo log. The Controller ties these together as a single
// event-driven state machine.
package bulk

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// IssueSelection is the projection of an issue used for selection and
// optimistic updates.
type IssueSelection struct {
	ID        int      `json:"id" yaml:"id"`
	Title     string   `json:"title" yaml:"title"`
	Status    string   `json:"status" yaml:"status"`
	Priority  string   `json:"priority" yaml:"priority"`
	Assignee  string   `json:"assignee,omitempty" yaml:"assignee,omitempty"` // "" when unassigned
	Labels    []string `json:"labels,omitempty" yaml:"labels,omitempty"`
	Estimate  *float64 `json:"estimate,omitempty" yaml:"estimate,omitempty"`
	Sprint    *int     `json:"sprint,omitempty" yaml:"sprint,omitempty"`
	Component string   `json:"component,omitempty" yaml:"component,omitempty"`
	Version   string   `json:"version,omitempty" yaml:"version,omitempty"`
}

// Clone returns a deep copy of the issue.
func (i IssueSelection) Clone() IssueSelection {
	c := i
	c.Labels = slices.Clone(i.Labels)
	if i.Estimate != nil {
		v := *i.Estimate
		c.Estimate = &v
	}
	if i.Sprint != nil {
		v := *i.Sprint
		c.Sprint = &v
	}
	return c
}

// Kind identifies which issue field a bulk operation mutates.
type Kind string

const (
	KindAssign    Kind = "assign"
	KindStatus    Kind = "status"
	KindLabels    Kind = "labels"
	KindPriority  Kind = "priority"
	KindSprint    Kind = "sprint"
	KindEstimate  Kind = "estimate"
	KindComponent Kind = "component"
	KindVersion   Kind = "version"
)

// Kinds lists every supported operation kind.
var Kinds = []Kind{KindAssign, KindStatus, KindLabels, KindPriority, KindSprint, KindEstimate, KindComponent, KindVersion}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// LabelMode qualifies a labels operation.
type LabelMode string

const (
	LabelsAdd     LabelMode = "add"
	LabelsRemove  LabelMode = "remove"
	LabelsReplace LabelMode = "replace"
)

// Valid reports whether m is a known label mode. The empty mode means add.
func (m LabelMode) Valid() bool {
	switch m {
	case "", LabelsAdd, LabelsRemove, LabelsReplace:
		return true
	}
	return false
}

// Value is the payload of an operation. Which member is meaningful depends
// on the operation kind: Text for assign, status, priority, component and
// version; Labels for labels; Number for estimate; Ref for sprint.
type Value struct {
	Text   string   `json:"text,omitempty"`
	Labels []string `json:"labels,omitempty"`
	Number *float64 `json:"number,omitempty"`
	Ref    *int     `json:"ref,omitempty"`
}

// TextValue returns a Value carrying s.
func TextValue(s string) Value { return Value{Text: s} }

// LabelsValue returns a Value carrying labels.
func LabelsValue(labels ...string) Value { return Value{Labels: labels} }

// NumberValue returns a Value carrying n.
func NumberValue(n float64) Value { return Value{Number: &n} }

// RefValue returns a Value carrying the reference id.
func RefValue(id int) Value { return Value{Ref: &id} }

// IsZero reports whether no member of v is set.
func (v Value) IsZero() bool {
	return v.Text == "" && len(v.Labels) == 0 && v.Number == nil && v.Ref == nil
}

// Equal reports whether two values carry the same payload.
func (v Value) Equal(o Value) bool {
	if v.Text != o.Text || !slices.Equal(v.Labels, o.Labels) {
		return false
	}
	if (v.Number == nil) != (o.Number == nil) || (v.Number != nil && *v.Number != *o.Number) {
		return false
	}
	if (v.Ref == nil) != (o.Ref == nil) || (v.Ref != nil && *v.Ref != *o.Ref) {
		return false
	}
	return true
}

func (v Value) String() string {
	switch {
	case len(v.Labels) > 0:
		return fmt.Sprintf("%v", v.Labels)
	case v.Number != nil:
		return fmt.Sprintf("%g", *v.Number)
	case v.Ref != nil:
		return fmt.Sprintf("#%d", *v.Ref)
	case v.Text != "":
		return v.Text
	}
	return "<none>"
}

// BulkOperation describes one batch mutation. Previous maps issue ids to the
// field value they held before the operation ran and is filled in by the
// controller, not by the caller.
type BulkOperation struct {
	ID       string        `json:"id"`
	Kind     Kind          `json:"kind"`
	Field    LabelMode     `json:"field,omitempty"`
	Value    Value         `json:"value"`
	Previous map[int]Value `json:"previous,omitempty"`
}

// Describe returns a short human readable description.
func (op BulkOperation) Describe() string {
	if op.Kind == KindLabels {
		mode := op.Field
		if mode == "" {
			mode = LabelsAdd
		}
		return fmt.Sprintf("labels %s %s", mode, op.Value)
	}
	return fmt.Sprintf("%s = %s", op.Kind, op.Value)
}

// ErrorKind classifies a validation error.
type ErrorKind string

const (
	ErrorPermission ErrorKind = "permission"
	ErrorConflict   ErrorKind = "conflict"
	ErrorValidation ErrorKind = "validation"
)

// ValidationError blocks execution of an operation.
type ValidationError struct {
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	IssueIDs []int     `json:"issueIds"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (%d issues)", e.Kind, e.Message, len(e.IssueIDs))
}

// ItemError is a per-issue failure inside a batch.
type ItemError struct {
	IssueID int    `json:"issueId"`
	Error   string `json:"error"`
}

// BulkOperationResult is the outcome of one executed operation.
type BulkOperationResult struct {
	SuccessCount   int         `json:"successCount"`
	FailureCount   int         `json:"failureCount"`
	Errors         []ItemError `json:"errors"`
	AffectedIssues []int       `json:"affectedIssues"`
}

func (r BulkOperationResult) clone() BulkOperationResult {
	r.Errors = slices.Clone(r.Errors)
	r.AffectedIssues = slices.Clone(r.AffectedIssues)
	return r
}

// merge folds o into r.
func (r *BulkOperationResult) merge(o BulkOperationResult) {
	r.SuccessCount += o.SuccessCount
	r.FailureCount += o.FailureCount
	r.Errors = append(r.Errors, o.Errors...)
	r.AffectedIssues = append(r.AffectedIssues, o.AffectedIssues...)
}

// FailedIDs returns the issue ids recorded in the result's errors.
func (r BulkOperationResult) FailedIDs() []int {
	ids := make([]int, 0, len(r.Errors))
	for _, e := range r.Errors {
		ids = append(ids, e.IssueID)
	}
	return ids
}

// HistoryEntry records one executed operation.
type HistoryEntry struct {
	Operation BulkOperation       `json:"operation"`
	Timestamp time.Time           `json:"timestamp"`
	Result    BulkOperationResult `json:"result"`
}

// BatchResponse is what the batch-mutation endpoint returns for one chunk.
type BatchResponse struct {
	SuccessCount int         `json:"successCount"`
	Errors       []ItemError `json:"errors,omitempty"`
}

//go:generate moq -stub -out submitter_mock.go . Submitter:SubmitterMock Validator:ValidatorMock

// Submitter applies one batch mutation. A returned error means the whole
// chunk failed.
type Submitter interface {
	SubmitBatch(ctx context.Context, issueIDs []int, op BulkOperation) (*BatchResponse, error)
}
