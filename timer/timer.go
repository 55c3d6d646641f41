// Package timer implements the deadline-ordered multimap of sleep
// deadlines. The kernel trims expired entries once per pass; sleeping
// tasks are unblocked by their own time futures, not by this map.
package timer

import (
	"golang.org/x/exp/slices"

	"github.com/rghisi/rosx-kernel/future"
)

// Timer maps deadline_ms -> the set of future handles sleeping until that
// deadline, kept sorted by deadline so pop-expired is a prefix trim.
type Timer struct {
	deadlines []uint64
	handles   [][]future.Handle
}

// New constructs an empty timer.
func New() *Timer {
	return &Timer{}
}

// AddSleep records that handle should be considered expired once now+ms
// has elapsed.
func (t *Timer) AddSleep(now, ms uint64, handle future.Handle) {
	t.addDeadline(now+ms, handle)
}

func (t *Timer) addDeadline(deadline uint64, handle future.Handle) {
	i, found := slices.BinarySearch(t.deadlines, deadline)
	if found {
		t.handles[i] = append(t.handles[i], handle)
		return
	}
	t.deadlines = slices.Insert(t.deadlines, i, deadline)
	t.handles = slices.Insert(t.handles, i, []future.Handle{handle})
}

// PopExpired removes and returns every handle whose deadline is <= now,
// leaving the rest in place. Deadlines at exactly now are expired
// (inclusive), matching the original's split-at-(now+1) semantics.
func (t *Timer) PopExpired(now uint64) []future.Handle {
	cut, _ := slices.BinarySearch(t.deadlines, now+1)

	var expired []future.Handle
	for i := 0; i < cut; i++ {
		expired = append(expired, t.handles[i]...)
	}

	t.deadlines = t.deadlines[cut:]
	t.handles = t.handles[cut:]
	return expired
}

// Len reports how many distinct deadlines are currently tracked, for
// tests asserting the multimap shrinks as entries expire.
func (t *Timer) Len() int { return len(t.deadlines) }
