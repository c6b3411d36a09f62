package cmd

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/reflow/wordwrap"
	"github.com/newhook/kb/internal/bulk"
)

// chromeLines is the space taken by the header, panel and status bar.
const chromeLines = 12

func (m *bulkModel) View() string {
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.renderIssues())
	b.WriteString("\n")
	if panel := m.renderWorkflowPanel(); panel != "" {
		b.WriteString(panel)
		b.WriteString("\n")
	}
	b.WriteString(m.renderStatusBar())
	return b.String()
}

func (m *bulkModel) renderHeader() string {
	state := stateStyle(m.snap.State).Render(string(m.snap.State))
	counts := tuiLabelStyle.Render(fmt.Sprintf("%d/%d selected", len(m.snap.Selected), len(m.snap.Issues)))
	history := tuiDimStyle.Render(fmt.Sprintf("history %d/%d", m.snap.HistoryIndex, len(m.snap.History)))
	return fmt.Sprintf("%s  %s  %s  %s", tuiTitleStyle.Render(m.title), state, counts, history)
}

// visibleRange returns the slice of issues that fits on screen around the
// cursor.
func (m *bulkModel) visibleRange() (start, end int) {
	rows := max(3, m.height-chromeLines)
	n := len(m.snap.Issues)
	if n <= rows {
		return 0, n
	}
	start = max(0, m.cursor-rows/2)
	end = min(n, start+rows)
	start = max(0, end-rows)
	return start, end
}

func (m *bulkModel) renderIssues() string {
	if len(m.snap.Issues) == 0 {
		return tuiDimStyle.Render("  No issues loaded. Import some with 'kb import <file>'.") + "\n"
	}

	var b strings.Builder
	start, end := m.visibleRange()
	if start > 0 {
		b.WriteString(tuiDimStyle.Render(fmt.Sprintf("  ↑ %d more", start)) + "\n")
	}
	for i := start; i < end; i++ {
		b.WriteString(m.renderIssueLine(m.snap.Issues[i], i == m.cursor))
		b.WriteString("\n")
	}
	if end < len(m.snap.Issues) {
		b.WriteString(tuiDimStyle.Render(fmt.Sprintf("  ↓ %d more", len(m.snap.Issues)-end)) + "\n")
	}
	return b.String()
}

func (m *bulkModel) renderIssueLine(issue bulk.IssueSelection, atCursor bool) string {
	check := "[ ]"
	if slices.Contains(m.snap.Selected, issue.ID) {
		check = "[x]"
	}
	assignee := issue.Assignee
	if assignee == "" {
		assignee = "-"
	}
	titleWidth := max(10, m.width-60)
	title := ansi.Truncate(issue.Title, titleWidth, "...")
	labels := strings.Join(issue.Labels, ",")

	if atCursor {
		plain := fmt.Sprintf("> %s #%-5d %-12s %-8s %-10s %-*s %s",
			check, issue.ID, issue.Status, issue.Priority, ansi.Truncate(assignee, 10, "…"), titleWidth, title, labels)
		return tuiSelectedStyle.Render(plain)
	}

	if check == "[x]" {
		check = tuiSelectedCheckStyle.Render(check)
	}
	return fmt.Sprintf("  %s %s %s %-10s %-8s %-10s %-*s %s",
		check,
		issueIDStyle.Render(fmt.Sprintf("#%-5d", issue.ID)),
		statusIcon(issue.Status),
		issue.Status,
		issue.Priority,
		ansi.Truncate(assignee, 10, "…"),
		titleWidth, title,
		labelStyle.Render(labels))
}

// renderWorkflowPanel shows what the controller is doing.
func (m *bulkModel) renderWorkflowPanel() string {
	snap := m.snap
	wrap := max(20, m.width-8)
	describe := ""
	if snap.Operation != nil {
		describe = snap.Operation.Describe()
	}

	if m.mode == modePrompt {
		content := tuiLabelStyle.Render(fmt.Sprintf("Set %s for %d issues", m.promptKind, len(snap.Selected))) + "\n" +
			m.input.View() + "\n" +
			renderHotkeys("enter", "Apply", "esc", "Cancel")
		return tuiDialogStyle.Render(content)
	}

	switch snap.State {
	case bulk.StateValidating:
		return tuiPanelStyle.Render(fmt.Sprintf("%s Validating %s...", m.spinner.View(), describe))

	case bulk.StateValidationFailed:
		var lines []string
		lines = append(lines, tuiErrorStyle.Render("Cannot apply "+describe))
		for _, e := range snap.ValidationErrors {
			lines = append(lines, tuiErrorStyle.Render(wordwrap.String(fmt.Sprintf("• [%s] %s", e.Kind, e.Message), wrap)))
		}
		lines = append(lines, renderHotkeys("s/p/l/e/A", "Change", "esc", "Cancel"))
		return tuiPanelStyle.Render(strings.Join(lines, "\n"))

	case bulk.StateConfirmed:
		content := tuiValueStyle.Render(fmt.Sprintf("Apply %s to %d issues?", describe, len(snap.Selected))) + "\n" +
			renderHotkeys("enter", "Apply", "esc", "Cancel")
		return tuiDialogStyle.Render(content)

	case bulk.StateExecuting:
		return tuiPanelStyle.Render(fmt.Sprintf("%s Applying %s... %s", m.spinner.View(), describe, renderHotkeys("x", "Stop")))

	case bulk.StateExecutingBatched:
		bar := m.progress.ViewAs(float64(snap.Progress) / 100)
		batch := tuiLabelStyle.Render(fmt.Sprintf("batch %d/%d", min(snap.BatchIndex+1, snap.TotalBatches), snap.TotalBatches))
		if snap.Progress == 0 {
			batch = tuiLabelStyle.Render(fmt.Sprintf("0/%d batches", snap.TotalBatches))
		}
		return tuiPanelStyle.Render(fmt.Sprintf("%s Applying %s\n%s %s %s", m.spinner.View(), describe, bar, batch, renderHotkeys("x", "Stop")))

	case bulk.StateUndoing, bulk.StateRedoing:
		verb := "Undoing"
		if snap.State == bulk.StateRedoing {
			verb = "Redoing"
		}
		return tuiPanelStyle.Render(fmt.Sprintf("%s %s...", m.spinner.View(), verb))

	case bulk.StateCompleted:
		return tuiPanelStyle.Render(renderResult(tuiSuccessStyle.Render("Applied "+describe), snap.Result, wrap))

	case bulk.StateCancelled:
		return tuiPanelStyle.Render(renderResult(tuiErrorStyle.Render("Stopped "+describe), snap.Result, wrap) +
			"\n" + renderHotkeys("esc", "Back"))

	case bulk.StateError:
		content := tuiErrorStyle.Render(wordwrap.String("Error: "+snap.Error, wrap))
		if snap.Result != nil && len(snap.Result.Errors) > 0 {
			content = renderResult(content, snap.Result, wrap)
		}
		return tuiPanelStyle.Render(content + "\n" + renderHotkeys("esc", "Retry"))
	}
	return ""
}

// renderResult renders a heading, the success and failure counts and the
// first few item errors.
func renderResult(heading string, result *bulk.BulkOperationResult, wrap int) string {
	if result == nil {
		return heading
	}
	lines := []string{heading, fmt.Sprintf("%s updated  %s failed",
		tuiSuccessStyle.Render(fmt.Sprint(result.SuccessCount)),
		tuiErrorStyle.Render(fmt.Sprint(result.FailureCount)))}

	const maxErrors = 5
	for i, e := range result.Errors {
		if i == maxErrors {
			lines = append(lines, tuiDimStyle.Render(fmt.Sprintf("... and %d more", len(result.Errors)-maxErrors)))
			break
		}
		lines = append(lines, wordwrap.String(fmt.Sprintf("%s %s", issueIDStyle.Render(fmt.Sprintf("#%d", e.IssueID)), e.Error), wrap))
	}
	return strings.Join(lines, "\n")
}

func (m *bulkModel) renderStatusBar() string {
	var keys string
	switch {
	case m.snap.Executing():
		keys = renderHotkeys("x", "Stop", "q", "Quit")
	default:
		keys = renderHotkeys(
			"space", "Toggle", "a", "All", "n", "None",
			"s", "Status", "p", "Priority", "l", "Labels", "e", "Estimate", "A", "Assign",
			"u", "Undo", "r", "Redo", "q", "Quit")
	}
	bar := keys
	if m.statusMsg != "" {
		style := tuiLabelStyle
		if m.statusErr {
			style = tuiErrorStyle
		}
		bar = style.Render(m.statusMsg) + "  " + keys
	}
	return tuiStatusBarStyle.Width(m.width).Render(lipgloss.NewStyle().MaxWidth(m.width).Render(bar))
}
