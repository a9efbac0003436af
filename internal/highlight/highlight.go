// Package highlight splits document text around an annotated character
// range and tracks when a viewer should scroll the range into view.
package highlight

import (
	"strings"
	"sync"
)

// Split is the clamped three-way division of a document around a range.
// Start and End are the clamped offsets, counted in runes.
type Split struct {
	Prefix      string
	Highlighted string
	Suffix      string
	Start       int
	End         int
}

// Resolve clamps start to [0, len] and end to [start, len], where len is
// the rune count of text, and slices text at those offsets.
func Resolve(text string, start, end int) Split {
	runes := []rune(text)
	n := len(runes)

	start = clamp(start, 0, n)
	end = clamp(end, start, n)

	return Split{
		Prefix:      string(runes[:start]),
		Highlighted: string(runes[start:end]),
		Suffix:      string(runes[end:]),
		Start:       start,
		End:         end,
	}
}

// Line returns the zero-based line on which the highlighted span starts.
func (s Split) Line() int {
	return strings.Count(s.Prefix, "\n")
}

// Empty reports whether the highlighted span has no characters.
func (s Split) Empty() bool {
	return s.Start == s.End
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Anchor decides when a viewer may scroll to the highlighted span. It fires
// at most once per successful load, and only after the view reports that
// the loaded text has been committed.
type Anchor struct {
	mu    sync.Mutex
	armed uint64
	fired uint64
}

// Arm records that load id finished successfully. Arming a newer load
// invalidates any older one that has not fired yet.
func (a *Anchor) Arm(load uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if load > a.armed {
		a.armed = load
	}
}

// Commit is called after the view has rendered the text of load id. It
// returns true exactly once for the most recently armed load.
func (a *Anchor) Commit(load uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if load == 0 || load != a.armed || a.fired == load {
		return false
	}
	a.fired = load
	return true
}

// Pending reports whether an armed load has not fired yet.
func (a *Anchor) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.armed != 0 && a.fired != a.armed
}
