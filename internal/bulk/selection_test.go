package bulk

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testIssues(n int) []IssueSelection {
	issues := make([]IssueSelection, n)
	for i := range issues {
		issues[i] = IssueSelection{
			ID:       i + 1,
			Title:    "Issue",
			Status:   "todo",
			Priority: "medium",
		}
	}
	return issues
}

func TestSelection_ToggleUnknownIDIsNoop(t *testing.T) {
	s := NewSelection(testIssues(3))
	s.Toggle(42)
	require.Equal(t, 0, s.Len())
	require.False(t, s.AllSelected())
}

func TestSelection_ToggleFlipsMembership(t *testing.T) {
	s := NewSelection(testIssues(3))
	s.Toggle(2)
	require.True(t, s.Contains(2))
	s.Toggle(2)
	require.False(t, s.Contains(2))
}

func TestSelection_SelectAllThenNone(t *testing.T) {
	s := NewSelection(testIssues(4))
	s.SelectAll()
	require.True(t, s.AllSelected())
	require.Equal(t, []int{1, 2, 3, 4}, s.IDs())

	s.SelectNone()
	require.Empty(t, s.IDs())
	require.False(t, s.AllSelected())
}

func TestSelection_SelectWhere(t *testing.T) {
	issues := testIssues(5)
	issues[1].Status = "done"
	issues[3].Status = "done"
	s := NewSelection(issues)
	s.Toggle(1)

	s.SelectWhere(func(i IssueSelection) bool { return i.Status == "done" })
	require.Equal(t, []int{2, 4}, s.IDs())
}

func TestSelection_LoadClearsSelection(t *testing.T) {
	s := NewSelection(testIssues(3))
	s.SelectAll()
	s.Load(testIssues(2))
	require.Equal(t, 0, s.Len())
	require.Len(t, s.Available(), 2)
}

func TestSelection_EmptyIsNotAllSelected(t *testing.T) {
	s := NewSelection(nil)
	s.SelectAll()
	require.False(t, s.AllSelected())
}

func TestSelection_AvailableIsACopy(t *testing.T) {
	s := NewSelection([]IssueSelection{{ID: 1, Labels: []string{"a"}}})
	got := s.Available()
	got[0].Labels[0] = "mutated"
	issue, ok := s.Issue(1)
	require.True(t, ok)
	require.Equal(t, []string{"a"}, issue.Labels)
}

func TestSelection_SubsetProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "issues")
		s := NewSelection(testIssues(n))
		available := make(map[int]bool, n)
		for i := 1; i <= n; i++ {
			available[i] = true
		}

		steps := rapid.IntRange(0, 50).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 3).Draw(t, "action") {
			case 0:
				s.Toggle(rapid.IntRange(-5, n+5).Draw(t, "id"))
			case 1:
				s.SelectAll()
			case 2:
				s.SelectNone()
			case 3:
				mod := rapid.IntRange(1, 4).Draw(t, "mod")
				s.SelectWhere(func(i IssueSelection) bool { return i.ID%mod == 0 })
			}

			for _, id := range s.IDs() {
				require.True(t, available[id], "selected id %d not available", id)
			}
			require.Equal(t, n > 0 && s.Len() == n, s.AllSelected())
		}
	})
}
