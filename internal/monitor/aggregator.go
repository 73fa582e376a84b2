package monitor

import (
	"sync"
)

// Aggregator derives the overall state from the critical parameters
// and detects transitions against the previously published picture.
// The zone of every critical member is cached between recomputes, so a
// parameter moving between zones is reported even when the overall
// state stays the same.
type Aggregator struct {
	mu    sync.Mutex
	state State
	cache map[string]Zone
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		state: StateOk,
		cache: make(map[string]Zone),
	}
}

// Recompute derives the aggregate state from the given critical
// parameter snapshots: alert if any member is in alert, busy if any is
// in warning, ok otherwise. Idle members do not count against the
// aggregate but their zones are still tracked. The second return
// reports whether anything changed since the previous call: a
// different overall state, or any member sitting in a different zone
// than last time. Members never seen before compare against idle, so
// the first recompute after a parameter produced a reading always
// reports a change. Members that left the set are forgotten, so a
// re-registered parameter starts from the idle baseline again.
func (a *Aggregator) Recompute(critical []Parameter) (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	changed := false
	sawWarning := false
	sawAlert := false
	next := make(map[string]Zone, len(critical))

	for i := range critical {
		p := &critical[i]

		cached, seen := a.cache[p.Name]
		if !seen {
			cached = ZoneIdle
		}
		if cached != p.Zone {
			changed = true
		}
		next[p.Name] = p.Zone

		switch p.Zone {
		case ZoneWarning:
			sawWarning = true
		case ZoneAlert:
			sawAlert = true
		}
	}

	// A member leaving the set while in a non-idle zone is itself a
	// change.
	if !changed {
		for name, zone := range a.cache {
			if zone == ZoneIdle {
				continue
			}
			if _, present := next[name]; !present {
				changed = true
				break
			}
		}
	}
	a.cache = next

	state := StateOk
	switch {
	case sawAlert:
		state = StateAlert
	case sawWarning:
		state = StateBusy
	}

	if state != a.state {
		a.state = state
		changed = true
	}

	return state, changed
}

// State returns the aggregate state as of the last recompute.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.state
}
