package stream

import (
	"sync"
)

// Update is the outcome of applying one decoded set to a Tracker
type Update struct {
	All         Set
	Visible     Set
	NewlyOnline Set
}

// Tracker owns the LastKnownState and the most recent set. It is the
// consumer that renders the stream table: it computes the diff, then commits
// the new state, so each offline-to-online transition is reported once.
type Tracker struct {
	mu          sync.RWMutex
	last        LastKnownState
	current     Set
	showOffline bool
}

// NewTracker creates a tracker with no known state. The first update reports
// every online stream as newly online.
func NewTracker(showOffline bool) *Tracker {
	return &Tracker{
		last:        make(LastKnownState),
		showOffline: showOffline,
	}
}

// Apply replaces the current set wholesale and returns the diff against the
// previous state
func (t *Tracker) Apply(set Set) Update {
	t.mu.Lock()
	defer t.mu.Unlock()

	newly := ComputeNewlyOnline(t.last, set)
	t.last.Commit(set)
	t.current = set.Clone()

	return Update{
		All:         t.current.Clone(),
		Visible:     t.visibleLocked(),
		NewlyOnline: newly,
	}
}

// SetShowOffline toggles whether offline streams are visible and returns the
// rebuilt visible rows. Known state is left untouched.
func (t *Tracker) SetShowOffline(show bool) Set {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.showOffline = show
	return t.visibleLocked()
}

// ShowOffline reports whether offline streams are visible
func (t *Tracker) ShowOffline() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.showOffline
}

// Visible returns the rows to render
func (t *Tracker) Visible() Set {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.visibleLocked()
}

// All returns the most recent set, offline streams included
func (t *Tracker) All() Set {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current.Clone()
}

// LastKnown returns a copy of the committed state
func (t *Tracker) LastKnown() LastKnownState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.last.Clone()
}

func (t *Tracker) visibleLocked() Set {
	out := make(Set, 0, len(t.current))
	for _, r := range t.current {
		if r.Online || t.showOffline {
			r.Qualities = append([]string(nil), r.Qualities...)
			out = append(out, r)
		}
	}
	return out
}
