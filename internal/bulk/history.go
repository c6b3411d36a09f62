package bulk

import (
	"time"
)

// History is a linear undo/redo log. Entries before the index have been
// applied; entries at or after it can be redone. History only tracks
// positions, it never performs mutations itself.
type History struct {
	entries []HistoryEntry
	index   int
	now     func() time.Time
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{now: time.Now}
}

// NewHistoryFrom restores a history from persisted entries. The index is
// clamped to [0, len(entries)].
func NewHistoryFrom(entries []HistoryEntry, index int) *History {
	h := NewHistory()
	h.entries = append(h.entries, entries...)
	h.index = max(0, min(index, len(h.entries)))
	return h
}

// Record appends an entry for op, discarding any redo tail first.
func (h *History) Record(op BulkOperation, result BulkOperationResult) HistoryEntry {
	entry := HistoryEntry{Operation: op, Timestamp: h.now(), Result: result.clone()}
	h.entries = append(h.entries[:h.index], entry)
	h.index = len(h.entries)
	return entry
}

// Undoable reports whether there is an entry to undo.
func (h *History) Undoable() bool { return h.index > 0 }

// Redoable reports whether there is an entry to redo.
func (h *History) Redoable() bool { return h.index < len(h.entries) }

// PeekUndo returns the entry the next undo would revert.
func (h *History) PeekUndo() (HistoryEntry, bool) {
	if !h.Undoable() {
		return HistoryEntry{}, false
	}
	return h.entries[h.index-1], true
}

// PeekRedo returns the entry the next redo would replay.
func (h *History) PeekRedo() (HistoryEntry, bool) {
	if !h.Redoable() {
		return HistoryEntry{}, false
	}
	return h.entries[h.index], true
}

// CommitUndo moves the index back once the inverse has been applied.
func (h *History) CommitUndo() {
	if h.Undoable() {
		h.index--
	}
}

// CommitRedo moves the index forward once the replay has been applied.
func (h *History) CommitRedo() {
	if h.Redoable() {
		h.index++
	}
}

// Index returns the current position.
func (h *History) Index() int { return h.index }

// Len returns the number of entries, including redoable ones.
func (h *History) Len() int { return len(h.entries) }

// Entries returns a copy of all entries.
func (h *History) Entries() []HistoryEntry {
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}
