package monitor

import (
	"context"
	"time"
)

// Source produces one reading per parameter name. A single fetch is
// expected to return values for every parameter the source knows
// about; names the registry does not know are dropped.
type Source interface {
	FetchValues(ctx context.Context) (map[string]float64, error)
}

// Sink receives aggregate state transitions and fetch faults. Both
// callbacks run synchronously on whichever goroutine drives the
// cycle, the poll loop's or a RefreshNow caller's, and must not block
// for long. No scheduler lock is held during a callback, so calling
// back into the monitor is allowed, except for Wait and Close.
type Sink interface {
	StateChanged(state State, zones map[string]Zone)
	FetchFaulted(err error)
}

// Store persists parameter thresholds between runs.
type Store interface {
	Load(ctx context.Context) (map[string]Thresholds, error)
	Save(ctx context.Context, thresholds map[string]Thresholds) error
}

// Clock creates tickers for the scheduler. The default clock wraps
// time.Ticker; tests substitute their own.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}
