package cmd

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/newhook/kb/internal/bulk"
)

// parseOperation builds an operation from a kind name and its value
// arguments. mode only applies to labels.
func parseOperation(kind string, args []string, mode string) (bulk.BulkOperation, error) {
	k := bulk.Kind(strings.ToLower(kind))
	if !k.Valid() {
		names := make([]string, len(bulk.Kinds))
		for i, known := range bulk.Kinds {
			names[i] = string(known)
		}
		return bulk.BulkOperation{}, fmt.Errorf("unknown operation %q (expected one of %s)", kind, strings.Join(names, ", "))
	}
	op := bulk.BulkOperation{Kind: k}

	if k == bulk.KindLabels {
		labelMode := bulk.LabelMode(strings.ToLower(mode))
		if labelMode == "" {
			labelMode = bulk.LabelsAdd
		}
		if !labelMode.Valid() {
			return op, fmt.Errorf("unknown label mode %q (expected add, remove or replace)", mode)
		}
		op.Field = labelMode
		op.Value = bulk.Value{Labels: splitLabels(args)}
		return op, nil
	}
	if mode != "" {
		return op, fmt.Errorf("--mode only applies to labels")
	}

	if len(args) != 1 {
		return op, fmt.Errorf("%s takes exactly one value", k)
	}
	raw := strings.TrimSpace(args[0])
	switch k {
	case bulk.KindEstimate:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return op, fmt.Errorf("invalid estimate %q: %w", raw, err)
		}
		op.Value = bulk.NumberValue(n)
	case bulk.KindSprint:
		id, err := strconv.Atoi(strings.TrimPrefix(raw, "#"))
		if err != nil {
			return op, fmt.Errorf("invalid sprint %q: %w", raw, err)
		}
		op.Value = bulk.RefValue(id)
	default:
		op.Value = bulk.TextValue(raw)
	}
	return op, nil
}

// splitLabels accepts labels as separate arguments, comma separated, or both.
func splitLabels(args []string) []string {
	var labels []string
	for _, arg := range args {
		for _, l := range strings.Split(arg, ",") {
			l = strings.TrimSpace(l)
			if l != "" && !slices.Contains(labels, l) {
				labels = append(labels, l)
			}
		}
	}
	return labels
}

// parseLabelInput interprets the TUI labels prompt: a leading "-" removes,
// a leading "=" replaces, anything else adds.
func parseLabelInput(input string) (mode string, labels []string) {
	input = strings.TrimSpace(input)
	switch {
	case strings.HasPrefix(input, "-"):
		return string(bulk.LabelsRemove), splitLabels([]string{input[1:]})
	case strings.HasPrefix(input, "="):
		return string(bulk.LabelsReplace), splitLabels([]string{input[1:]})
	default:
		return string(bulk.LabelsAdd), splitLabels([]string{strings.TrimPrefix(input, "+")})
	}
}

// parseIDs parses a comma separated list of ids and ranges such as "1,4-6".
// At most limit distinct ids are accepted so a mistyped range fails fast.
func parseIDs(list string, limit int) ([]int, error) {
	var ids []int
	seen := make(map[int]bool)
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid issue id %q", part)
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil || end < start {
				return nil, fmt.Errorf("invalid issue range %q", part)
			}
		}
		if end-start >= limit {
			return nil, fmt.Errorf("too many issue ids in %q (limit %d)", part, limit)
		}
		for id := start; id <= end; id++ {
			if seen[id] {
				continue
			}
			if len(ids) == limit {
				return nil, fmt.Errorf("too many issue ids (limit %d)", limit)
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no issue ids given")
	}
	return ids, nil
}

// parseWhere turns field=value filters into one predicate. All filters must
// match. The label field matches when the issue carries the label.
func parseWhere(filters []string) (func(bulk.IssueSelection) bool, error) {
	type clause struct{ field, value string }
	clauses := make([]clause, 0, len(filters))
	for _, f := range filters {
		field, value, ok := strings.Cut(f, "=")
		field = strings.ToLower(strings.TrimSpace(field))
		if !ok || field == "" {
			return nil, fmt.Errorf("invalid filter %q (expected field=value)", f)
		}
		switch field {
		case "status", "priority", "assignee", "component", "version", "label":
		default:
			return nil, fmt.Errorf("cannot filter on %q", field)
		}
		clauses = append(clauses, clause{field, strings.TrimSpace(value)})
	}

	return func(issue bulk.IssueSelection) bool {
		for _, c := range clauses {
			if !matchField(issue, c.field, c.value) {
				return false
			}
		}
		return true
	}, nil
}

func matchField(issue bulk.IssueSelection, field, value string) bool {
	switch field {
	case "status":
		return issue.Status == value
	case "priority":
		return issue.Priority == value
	case "assignee":
		return issue.Assignee == value
	case "component":
		return issue.Component == value
	case "version":
		return issue.Version == value
	case "label":
		return slices.Contains(issue.Labels, value)
	}
	return false
}

// selectionEvent returns the event that selects the issues named by the
// --ids, --all and --where flags. Exactly one of them must be set.
func selectionEvent(idSpec string, all bool, where []string, maxIDs int) (bulk.Event, error) {
	set := 0
	for _, given := range []bool{idSpec != "", all, len(where) > 0} {
		if given {
			set++
		}
	}
	if set != 1 {
		return nil, fmt.Errorf("choose issues with exactly one of --ids, --all or --where")
	}

	switch {
	case all:
		return bulk.SelectAll{}, nil
	case idSpec != "":
		ids, err := parseIDs(idSpec, maxIDs)
		if err != nil {
			return nil, err
		}
		return bulk.SelectFiltered{Predicate: func(issue bulk.IssueSelection) bool {
			return slices.Contains(ids, issue.ID)
		}}, nil
	default:
		pred, err := parseWhere(where)
		if err != nil {
			return nil, err
		}
		return bulk.SelectFiltered{Predicate: pred}, nil
	}
}
