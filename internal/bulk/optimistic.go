package bulk

import (
	"fmt"
	"slices"
	"strings"
)

// Apply writes the operation's value into the matching field of issue.
// The change is derived from the operation alone.
func Apply(issue *IssueSelection, op BulkOperation) {
	v := op.Value
	switch op.Kind {
	case KindStatus:
		issue.Status = v.Text
	case KindPriority:
		issue.Priority = v.Text
	case KindAssign:
		issue.Assignee = v.Text
	case KindComponent:
		issue.Component = v.Text
	case KindVersion:
		issue.Version = v.Text
	case KindEstimate:
		issue.Estimate = clonePtr(v.Number)
	case KindSprint:
		issue.Sprint = clonePtr(v.Ref)
	case KindLabels:
		issue.Labels = applyLabels(issue.Labels, op.Field, v.Labels)
	}
}

func applyLabels(current []string, mode LabelMode, labels []string) []string {
	switch mode {
	case LabelsReplace:
		return slices.Clone(labels)
	case LabelsRemove:
		return slices.DeleteFunc(slices.Clone(current), func(l string) bool {
			return slices.Contains(labels, l)
		})
	default:
		out := slices.Clone(current)
		for _, l := range labels {
			if !slices.Contains(out, l) {
				out = append(out, l)
			}
		}
		return out
	}
}

// Capture returns the current value of the field kind mutates.
func Capture(issue IssueSelection, kind Kind) Value {
	switch kind {
	case KindStatus:
		return TextValue(issue.Status)
	case KindPriority:
		return TextValue(issue.Priority)
	case KindAssign:
		return TextValue(issue.Assignee)
	case KindComponent:
		return TextValue(issue.Component)
	case KindVersion:
		return TextValue(issue.Version)
	case KindEstimate:
		return Value{Number: clonePtr(issue.Estimate)}
	case KindSprint:
		return Value{Ref: clonePtr(issue.Sprint)}
	case KindLabels:
		return Value{Labels: slices.Clone(issue.Labels)}
	}
	return Value{}
}

// Restore writes a captured value back into issue.
func Restore(issue *IssueSelection, kind Kind, prev Value) {
	Apply(issue, restoreOp(kind, prev))
}

// restoreOp is the operation that sets kind's field to exactly prev.
func restoreOp(kind Kind, prev Value) BulkOperation {
	op := BulkOperation{Kind: kind, Value: prev}
	if kind == KindLabels {
		op.Field = LabelsReplace
		op.Value = Value{Labels: slices.Clone(prev.Labels)}
	}
	return op
}

// InverseStep is one operation needed to revert part of a history entry,
// together with the issues it applies to.
type InverseStep struct {
	Operation BulkOperation
	IssueIDs  []int
}

// Inverse returns the steps that revert entry. Affected issues are grouped by
// the value they held before the operation so each distinct previous value
// becomes one batch operation. Issues with no recorded previous value are
// skipped.
func Inverse(entry HistoryEntry) []InverseStep {
	var steps []InverseStep
	byKey := make(map[string]int)
	for _, id := range entry.Result.AffectedIssues {
		prev, ok := entry.Operation.Previous[id]
		if !ok {
			continue
		}
		key := valueKey(prev)
		if pos, ok := byKey[key]; ok {
			steps[pos].IssueIDs = append(steps[pos].IssueIDs, id)
			continue
		}
		op := restoreOp(entry.Operation.Kind, prev)
		op.ID = entry.Operation.ID + "-undo-" + fmt.Sprint(len(steps))
		byKey[key] = len(steps)
		steps = append(steps, InverseStep{Operation: op, IssueIDs: []int{id}})
	}
	return steps
}

// Replay returns the step that reapplies entry to the issues it originally
// affected.
func Replay(entry HistoryEntry) InverseStep {
	op := entry.Operation
	op.Previous = nil
	return InverseStep{Operation: op, IssueIDs: slices.Clone(entry.Result.AffectedIssues)}
}

func valueKey(v Value) string {
	var b strings.Builder
	b.WriteString("t:" + v.Text)
	b.WriteString("|l:" + strings.Join(v.Labels, "\x00"))
	if v.Number != nil {
		fmt.Fprintf(&b, "|n:%v", *v.Number)
	}
	if v.Ref != nil {
		fmt.Fprintf(&b, "|r:%d", *v.Ref)
	}
	return b.String()
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
