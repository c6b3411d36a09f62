package bulk

import (
	"slices"
)

// Selection tracks which of the available issues are chosen for a batch
// action. The selected set is always a subset of the available ids.
type Selection struct {
	available   []IssueSelection
	index       map[int]int // issue id -> position in available
	selected    map[int]struct{}
	allSelected bool
}

// NewSelection returns a selection over issues with nothing selected.
func NewSelection(issues []IssueSelection) *Selection {
	s := &Selection{}
	s.Load(issues)
	return s
}

// Load replaces the available issues and clears the selection.
func (s *Selection) Load(issues []IssueSelection) {
	s.available = make([]IssueSelection, 0, len(issues))
	s.index = make(map[int]int, len(issues))
	for _, issue := range issues {
		if _, dup := s.index[issue.ID]; dup {
			continue
		}
		s.index[issue.ID] = len(s.available)
		s.available = append(s.available, issue.Clone())
	}
	s.selected = make(map[int]struct{})
	s.recompute()
}

// Toggle flips membership of id. Unknown ids are ignored.
func (s *Selection) Toggle(id int) {
	if _, ok := s.index[id]; !ok {
		return
	}
	if _, ok := s.selected[id]; ok {
		delete(s.selected, id)
	} else {
		s.selected[id] = struct{}{}
	}
	s.recompute()
}

// SelectAll selects every available issue.
func (s *Selection) SelectAll() {
	for id := range s.index {
		s.selected[id] = struct{}{}
	}
	s.recompute()
}

// SelectNone empties the selection.
func (s *Selection) SelectNone() {
	clear(s.selected)
	s.recompute()
}

// SelectWhere replaces the selection with the issues matching pred.
func (s *Selection) SelectWhere(pred func(IssueSelection) bool) {
	clear(s.selected)
	for _, issue := range s.available {
		if pred(issue) {
			s.selected[issue.ID] = struct{}{}
		}
	}
	s.recompute()
}

func (s *Selection) recompute() {
	s.allSelected = len(s.available) > 0 && len(s.selected) == len(s.available)
}

// AllSelected reports whether every available issue is selected.
func (s *Selection) AllSelected() bool { return s.allSelected }

// Len returns the number of selected issues.
func (s *Selection) Len() int { return len(s.selected) }

// Contains reports whether id is selected.
func (s *Selection) Contains(id int) bool {
	_, ok := s.selected[id]
	return ok
}

// IDs returns the selected ids in ascending order.
func (s *Selection) IDs() []int {
	ids := make([]int, 0, len(s.selected))
	for id := range s.selected {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Available returns a copy of the available issues in load order.
func (s *Selection) Available() []IssueSelection {
	out := make([]IssueSelection, len(s.available))
	for i, issue := range s.available {
		out[i] = issue.Clone()
	}
	return out
}

// Issue returns the available issue with the given id.
func (s *Selection) Issue(id int) (IssueSelection, bool) {
	pos, ok := s.index[id]
	if !ok {
		return IssueSelection{}, false
	}
	return s.available[pos].Clone(), true
}

// update rewrites one available issue in place. Only the controller mutates
// issue fields, and only through optimistic apply and rollback.
func (s *Selection) update(id int, fn func(*IssueSelection)) {
	if pos, ok := s.index[id]; ok {
		fn(&s.available[pos])
	}
}
