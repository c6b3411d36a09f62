package cmd

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/newhook/kb/internal/bulk"
	"github.com/newhook/kb/internal/logging"
	"github.com/newhook/kb/internal/project"
	"github.com/newhook/kb/internal/pubsub"
	"github.com/newhook/kb/internal/watcher"
	"github.com/spf13/cobra"
)

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Interactive bulk editor",
	Long: `Select issues and apply bulk changes interactively. The issue list
reloads when the local tracker database changes.`,
	Args: cobra.NoArgs,
	RunE: runTUI,
}

func runTUI(cmd *cobra.Command, args []string) error {
	ctx := GetContext()
	proj, err := openProject(ctx)
	if err != nil {
		return err
	}
	defer proj.Close()

	tr, err := proj.Tracker()
	if err != nil {
		return err
	}
	c, err := proj.NewController(ctx, tr)
	if err != nil {
		return err
	}

	// Only the local backend has a database file to watch.
	var w *watcher.Watcher
	if proj.Config.Tracker.GetBackend() == project.BackendLocal {
		w, err = watcher.New(watcher.DefaultConfig(proj.DBPath()))
		if err == nil {
			err = w.Start()
		}
		if err != nil {
			logging.Warn("failed to start database watcher, reload with R", "error", err)
			w = nil
		}
	}

	return withController(ctx, c, func(loopCtx context.Context, sub snapshots) error {
		load := func(ctx context.Context) ([]bulk.IssueSelection, error) {
			return tr.ListIssues(ctx, "")
		}
		m := newBulkModel(loopCtx, c, sub, load, proj.SaveHistory)
		m.title = proj.Config.Project.Name
		m.watcher = w
		defer m.cleanup()

		p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("error running TUI: %w", err)
		}
		return nil
	})
}

// tuiMode is what keystrokes currently drive
type tuiMode int

const (
	modeNormal tuiMode = iota
	modePrompt         // editing the value of a new operation
)

// Messages
type (
	snapshotMsg             bulk.Snapshot
	trackingWatcherEventMsg watcher.WatcherEvent
	issuesLoadedMsg         struct {
		issues []bulk.IssueSelection
		err    error
	}
	historySavedMsg struct{ err error }
	sendErrMsg      struct{ err error }
)

// bulkModel renders the controller state and turns keys into events.
type bulkModel struct {
	ctx   context.Context
	c     *bulk.Controller
	sub   snapshots
	snap  bulk.Snapshot
	title string

	load func(context.Context) ([]bulk.IssueSelection, error)
	save func(context.Context, bulk.Snapshot) error

	width  int
	height int
	cursor int

	mode       tuiMode
	promptKind bulk.Kind
	input      textinput.Model
	spinner    spinner.Model
	progress   progress.Model

	// Watcher for the tracker database
	watcher  *watcher.Watcher
	watchSub <-chan pubsub.Event[watcher.WatcherEvent]

	savedIndex int
	savedLen   int

	statusMsg string
	statusErr bool
}

func newBulkModel(ctx context.Context, c *bulk.Controller, sub snapshots,
	load func(context.Context) ([]bulk.IssueSelection, error),
	save func(context.Context, bulk.Snapshot) error,
) *bulkModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	ti := textinput.New()
	ti.CharLimit = 100
	ti.Width = 40

	snap := c.Snapshot()
	return &bulkModel{
		ctx:        ctx,
		c:          c,
		sub:        sub,
		snap:       snap,
		title:      "kb",
		load:       load,
		save:       save,
		width:      100,
		height:     30,
		input:      ti,
		spinner:    s,
		progress:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		savedIndex: snap.HistoryIndex,
		savedLen:   len(snap.History),
	}
}

func (m *bulkModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.waitForSnapshot(), m.loadIssues()}
	if m.watcher != nil {
		m.watchSub = m.watcher.Broker().Subscribe(m.ctx)
		cmds = append(cmds, m.waitForWatcherEvent())
	}
	return tea.Batch(cmds...)
}

// waitForSnapshot waits for the next controller state and returns it as a tea.Msg
func (m *bulkModel) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-m.sub
		if !ok {
			return nil
		}
		return snapshotMsg(evt.Payload)
	}
}

// waitForWatcherEvent waits for a watcher event and returns it as a tea.Msg
func (m *bulkModel) waitForWatcherEvent() tea.Cmd {
	if m.watchSub == nil {
		return nil
	}
	return func() tea.Msg {
		evt, ok := <-m.watchSub
		if !ok {
			return nil
		}
		return trackingWatcherEventMsg(evt.Payload)
	}
}

func (m *bulkModel) loadIssues() tea.Cmd {
	return func() tea.Msg {
		issues, err := m.load(m.ctx)
		return issuesLoadedMsg{issues: issues, err: err}
	}
}

// send delivers events to the controller in order.
func (m *bulkModel) send(events ...bulk.Event) tea.Cmd {
	return func() tea.Msg {
		for _, ev := range events {
			if err := m.c.Send(m.ctx, ev); err != nil {
				return sendErrMsg{err}
			}
		}
		return nil
	}
}

func (m *bulkModel) saveHistory(snap bulk.Snapshot) tea.Cmd {
	if m.save == nil {
		return nil
	}
	return func() tea.Msg {
		return historySavedMsg{err: m.save(m.ctx, snap)}
	}
}

// cleanup releases resources when the TUI exits
func (m *bulkModel) cleanup() {
	if m.watcher != nil {
		_ = m.watcher.Stop()
	}
}

func (m *bulkModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = max(10, min(60, msg.Width-20))
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case snapshotMsg:
		return m, tea.Batch(m.applySnapshot(bulk.Snapshot(msg)), m.waitForSnapshot())

	case trackingWatcherEventMsg:
		return m, tea.Batch(m.loadIssues(), m.waitForWatcherEvent())

	case issuesLoadedMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("Failed to load issues: %v", msg.err), true)
			return m, nil
		}
		return m, m.reload(msg.issues)

	case historySavedMsg:
		if msg.err != nil {
			m.setStatus(fmt.Sprintf("Failed to save history: %v", msg.err), true)
		}
		return m, nil

	case sendErrMsg:
		m.setStatus(msg.err.Error(), true)
		return m, nil

	case tea.KeyMsg:
		if m.mode == modePrompt {
			return m.updatePrompt(msg)
		}
		return m.updateNormal(msg)
	}
	return m, nil
}

// applySnapshot takes a new controller state and persists history when it
// moved.
func (m *bulkModel) applySnapshot(snap bulk.Snapshot) tea.Cmd {
	m.snap = snap
	m.cursor = max(0, min(m.cursor, len(snap.Issues)-1))

	settled := !snap.Executing() && snap.State != bulk.StateUndoing && snap.State != bulk.StateRedoing
	if settled && (snap.HistoryIndex != m.savedIndex || len(snap.History) != m.savedLen) {
		m.savedIndex = snap.HistoryIndex
		m.savedLen = len(snap.History)
		return m.saveHistory(snap)
	}
	return nil
}

// reload replaces the issue list while keeping still-present issues selected.
// The controller ignores reloads outside idle.
func (m *bulkModel) reload(issues []bulk.IssueSelection) tea.Cmd {
	events := []bulk.Event{bulk.LoadIssues{Issues: issues}}
	if selected := slices.Clone(m.snap.Selected); len(selected) > 0 && m.snap.State == bulk.StateIdle {
		events = append(events, bulk.SelectFiltered{Predicate: func(issue bulk.IssueSelection) bool {
			return slices.Contains(selected, issue.ID)
		}})
	}
	return m.send(events...)
}

func (m *bulkModel) setStatus(msg string, isErr bool) {
	m.statusMsg = msg
	m.statusErr = isErr
}

// promptKeys maps keys to the operation they start.
var promptKeys = map[string]bulk.Kind{
	"s": bulk.KindStatus,
	"p": bulk.KindPriority,
	"l": bulk.KindLabels,
	"e": bulk.KindEstimate,
	"A": bulk.KindAssign,
	"c": bulk.KindComponent,
	"v": bulk.KindVersion,
	"t": bulk.KindSprint,
}

func (m *bulkModel) updateNormal(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if kind, ok := promptKeys[key]; ok {
		return m, m.openPrompt(kind)
	}

	state := m.snap.State
	switch key {
	case "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.snap.Issues)-1 {
			m.cursor++
		}
	case " ":
		if m.cursor < len(m.snap.Issues) {
			return m, m.send(bulk.ToggleSelection{ID: m.snap.Issues[m.cursor].ID})
		}
	case "a":
		return m, m.send(bulk.SelectAll{})
	case "n":
		return m, m.send(bulk.SelectNone{})
	case "R":
		m.setStatus("Reloading...", false)
		return m, m.loadIssues()
	case "enter":
		if state == bulk.StateConfirmed {
			return m, m.send(bulk.Confirm{})
		}
	case "esc":
		switch state {
		case bulk.StateConfirmed, bulk.StateValidationFailed:
			return m, m.send(bulk.Cancel{})
		case bulk.StateError, bulk.StateCancelled:
			return m, m.send(bulk.Retry{})
		case bulk.StateIdle, bulk.StateCompleted:
			return m, m.send(bulk.ResetSelection{})
		}
	case "x":
		if m.snap.Executing() {
			m.setStatus("Stopping after the current batch...", false)
			return m, m.send(bulk.CancelExecution{})
		}
	case "u":
		if !m.snap.CanUndo {
			m.setStatus("Nothing to undo", false)
			return m, nil
		}
		m.setStatus("", false)
		return m, m.send(bulk.UndoLastOperation{})
	case "r":
		if !m.snap.CanRedo {
			m.setStatus("Nothing to redo", false)
			return m, nil
		}
		m.setStatus("", false)
		return m, m.send(bulk.RedoLastOperation{})
	}
	return m, nil
}

// openPrompt starts editing an operation of kind for the selection.
func (m *bulkModel) openPrompt(kind bulk.Kind) tea.Cmd {
	if m.snap.State != bulk.StateIdle && m.snap.State != bulk.StateValidationFailed {
		return nil
	}
	if len(m.snap.Selected) == 0 {
		m.setStatus("Select issues first", true)
		return nil
	}
	m.mode = modePrompt
	m.promptKind = kind
	m.input.Reset()
	m.input.Placeholder = promptPlaceholder(kind)
	m.setStatus("", false)
	return m.input.Focus()
}

func promptPlaceholder(kind bulk.Kind) string {
	switch kind {
	case bulk.KindLabels:
		return "bug,ui  (-bug removes, =bug replaces)"
	case bulk.KindEstimate:
		return "story points, e.g. 3"
	case bulk.KindSprint:
		return "sprint id, e.g. 12"
	case bulk.KindAssign:
		return "username"
	}
	return string(kind)
}

func (m *bulkModel) updatePrompt(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.closePrompt()
		return m, nil
	case "enter":
		var (
			op  bulk.BulkOperation
			err error
		)
		if m.promptKind == bulk.KindLabels {
			mode, labels := parseLabelInput(m.input.Value())
			op, err = parseOperation(string(m.promptKind), labels, mode)
		} else {
			op, err = parseOperation(string(m.promptKind), []string{m.input.Value()}, "")
		}
		if err != nil {
			m.setStatus(err.Error(), true)
			return m, nil
		}
		m.closePrompt()
		return m, m.send(bulk.SetOperation{Operation: op})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *bulkModel) closePrompt() {
	m.mode = modeNormal
	m.input.Blur()
}
