package cmd

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/newhook/kb/internal/bulk"
)

// TUI-specific styles
var (
	tuiTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	tuiHotkeyStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214")) // Orange for hotkeys

	tuiPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	tuiSelectedStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("255")).
				Background(lipgloss.Color("62"))

	tuiSelectedCheckStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("42"))

	tuiLabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("247"))

	tuiValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255"))

	tuiDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	tuiErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	tuiSuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	tuiStatusBarStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("236")).
				Padding(0, 1)

	tuiDialogStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	// Status indicator styles
	statusPending = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	statusProcessing = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214")).
				Bold(true)

	statusCompleted = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	statusFailed = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	// Issue line styles
	issueIDStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("117")) // Light blue

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("213"))
)

// statusIcon returns the icon for an issue status
func statusIcon(status string) string {
	switch strings.ToLower(status) {
	case "in_progress", "in-progress", "doing", "review":
		return statusProcessing.Render("●")
	case "blocked":
		return statusFailed.Render("◐")
	case "done", "closed":
		return statusCompleted.Render("✓")
	default:
		return statusPending.Render("○")
	}
}

// stateStyle returns the badge style for a workflow state
func stateStyle(state bulk.State) lipgloss.Style {
	switch state {
	case bulk.StateValidating, bulk.StateExecuting, bulk.StateExecutingBatched, bulk.StateUndoing, bulk.StateRedoing:
		return statusProcessing
	case bulk.StateCompleted, bulk.StateConfirmed:
		return statusCompleted
	case bulk.StateValidationFailed, bulk.StateError, bulk.StateCancelled:
		return statusFailed
	default:
		return statusPending
	}
}

// renderHotkeys renders "[k]Label" pairs separated by spaces
func renderHotkeys(keys ...string) string {
	var b strings.Builder
	for i := 0; i+1 < len(keys); i += 2 {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(tuiHotkeyStyle.Render("[" + keys[i] + "]"))
		b.WriteString(keys[i+1])
	}
	return b.String()
}
