// Package ledger tracks what the scraper knows about every saved bug.
//
// The ledger is an ordered list of entries, one per bug, in save order. It is
// held in memory for the duration of a run and persisted wholesale to a
// newline-delimited JSON file. Later passes use it to find every known bug,
// the partition year it lives in, and what has already been fetched for it.
package ledger

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
)

// FileName is the ledger file inside a save directory.
const FileName = "bug_metadata.jsonl"

var (
	// ErrDuplicate is returned when appending a bug the ledger already tracks.
	ErrDuplicate = errors.New("bug already in ledger")
	// ErrIndexOutOfRange is returned for an index outside [0, Len()).
	ErrIndexOutOfRange = errors.New("ledger index out of range")
)

// Entry is the per-bug progress record.
type Entry struct {
	BugID      string   `json:"bug_id"`
	Year       int      `json:"year"`
	CommentIDs []string `json:"comment_ids"`
	Edits      int      `json:"edits"`
}

// Ledger is an ordered, id-unique list of entries. It is not safe for
// concurrent use.
type Ledger struct {
	entries []Entry
	index   map[string]int
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{index: make(map[string]int)}
}

// Len returns the number of entries.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// At returns a copy of the entry at i.
func (l *Ledger) At(i int) (Entry, error) {
	if i < 0 || i >= len(l.entries) {
		return Entry{}, fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(l.entries))
	}
	return cloneEntry(l.entries[i]), nil
}

// Entries returns a copy of every entry in ledger order.
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	for i, e := range l.entries {
		out[i] = cloneEntry(e)
	}
	return out
}

// Contains reports whether bugID is tracked.
func (l *Ledger) Contains(bugID string) bool {
	_, ok := l.index[bugID]
	return ok
}

// Append adds a new entry at the end of the ledger.
func (l *Ledger) Append(e Entry) error {
	if e.BugID == "" {
		return errors.New("entry has no bug id")
	}
	if _, ok := l.index[e.BugID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, e.BugID)
	}
	e = cloneEntry(e)
	l.index[e.BugID] = len(l.entries)
	l.entries = append(l.entries, e)
	return nil
}

// SetCommentIDs replaces the fetched comment ids of the entry at i.
func (l *Ledger) SetCommentIDs(i int, ids []string) error {
	if i < 0 || i >= len(l.entries) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(l.entries))
	}
	l.entries[i].CommentIDs = append(make([]string, 0, len(ids)), ids...)
	return nil
}

// SetEdits sets the history entry count of the entry at i.
func (l *Ledger) SetEdits(i int, edits int) error {
	if i < 0 || i >= len(l.entries) {
		return fmt.Errorf("%w: %d (len %d)", ErrIndexOutOfRange, i, len(l.entries))
	}
	l.entries[i].Edits = edits
	return nil
}

// Years returns the distinct years present, ascending.
func (l *Ledger) Years() []int {
	seen := make(map[int]struct{})
	years := make([]int, 0)
	for _, e := range l.entries {
		if _, ok := seen[e.Year]; ok {
			continue
		}
		seen[e.Year] = struct{}{}
		years = append(years, e.Year)
	}
	slices.Sort(years)
	return years
}

// MaxBugID returns the highest numeric bug id, or 0 when none is numeric.
func (l *Ledger) MaxBugID() int {
	highest := 0
	for _, e := range l.entries {
		if n, err := strconv.Atoi(e.BugID); err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

func cloneEntry(e Entry) Entry {
	e.CommentIDs = append(make([]string, 0, len(e.CommentIDs)), e.CommentIDs...)
	return e
}
