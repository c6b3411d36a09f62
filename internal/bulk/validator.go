package bulk

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// DefaultMaxSelection is the largest selection a single operation may target.
const DefaultMaxSelection = 100

// Validator decides whether an operation is safe to execute against the
// selected issues. A non-nil error means the check itself failed; rule
// violations are reported through the returned slice.
type Validator interface {
	Validate(ctx context.Context, op BulkOperation, selected []int) ([]ValidationError, error)
}

// RuleValidator applies a fixed set of independent rules. Every rule is
// evaluated so the caller sees all violations at once.
type RuleValidator struct {
	// MaxSelection caps the selection size. Zero means DefaultMaxSelection.
	MaxSelection int
	// AllowedStatuses restricts status operations. Empty allows any value.
	AllowedStatuses []string
	// AllowedPriorities restricts priority operations. Empty allows any value.
	AllowedPriorities []string
}

// NewRuleValidator returns a RuleValidator with default limits.
func NewRuleValidator() *RuleValidator {
	return &RuleValidator{MaxSelection: DefaultMaxSelection}
}

type rule func(op BulkOperation, selected []int) *ValidationError

// Validate implements Validator. It never mutates its inputs.
func (v *RuleValidator) Validate(ctx context.Context, op BulkOperation, selected []int) ([]ValidationError, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rules := []rule{
		v.checkKind,
		v.checkAssignee,
		v.checkSelectionSize,
		v.checkLabels,
		v.checkEstimate,
		v.checkSprint,
		v.checkAllowed,
	}

	var errs []ValidationError
	for _, r := range rules {
		if e := r(op, selected); e != nil {
			errs = append(errs, *e)
		}
	}
	return errs, nil
}

func invalid(selected []int, format string, args ...any) *ValidationError {
	return &ValidationError{
		Kind:     ErrorValidation,
		Message:  fmt.Sprintf(format, args...),
		IssueIDs: slices.Clone(selected),
	}
}

func (v *RuleValidator) checkKind(op BulkOperation, selected []int) *ValidationError {
	if op.Kind.Valid() {
		return nil
	}
	return invalid(selected, "unknown operation kind %q", op.Kind)
}

func (v *RuleValidator) checkAssignee(op BulkOperation, selected []int) *ValidationError {
	if op.Kind != KindAssign || strings.TrimSpace(op.Value.Text) != "" {
		return nil
	}
	return invalid(selected, "assignee is required")
}

func (v *RuleValidator) checkSelectionSize(op BulkOperation, selected []int) *ValidationError {
	limit := v.MaxSelection
	if limit <= 0 {
		limit = DefaultMaxSelection
	}
	if len(selected) <= limit {
		return nil
	}
	return invalid(selected, "cannot update more than %d issues at once (%d selected)", limit, len(selected))
}

func (v *RuleValidator) checkLabels(op BulkOperation, selected []int) *ValidationError {
	if op.Kind != KindLabels {
		return nil
	}
	if !op.Field.Valid() {
		return invalid(selected, "unknown label mode %q", op.Field)
	}
	// Replacing with an empty set clears labels; add and remove need labels.
	if op.Field != LabelsReplace && len(op.Value.Labels) == 0 {
		return invalid(selected, "at least one label is required")
	}
	return nil
}

func (v *RuleValidator) checkEstimate(op BulkOperation, selected []int) *ValidationError {
	if op.Kind != KindEstimate || op.Value.Number == nil || *op.Value.Number >= 0 {
		return nil
	}
	return invalid(selected, "estimate cannot be negative")
}

func (v *RuleValidator) checkSprint(op BulkOperation, selected []int) *ValidationError {
	if op.Kind != KindSprint || op.Value.Ref != nil {
		return nil
	}
	return invalid(selected, "sprint is required")
}

func (v *RuleValidator) checkAllowed(op BulkOperation, selected []int) *ValidationError {
	var allowed []string
	switch op.Kind {
	case KindStatus:
		allowed = v.AllowedStatuses
	case KindPriority:
		allowed = v.AllowedPriorities
	default:
		return nil
	}
	if op.Value.Text == "" {
		return invalid(selected, "%s is required", op.Kind)
	}
	if len(allowed) == 0 || slices.Contains(allowed, op.Value.Text) {
		return nil
	}
	return invalid(selected, "%s %q is not one of %s", op.Kind, op.Value.Text, strings.Join(allowed, ", "))
}
