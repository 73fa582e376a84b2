package monitor

import (
	"time"
)

// NewClock returns a Clock backed by the runtime timer.
func NewClock() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{ticker: time.NewTicker(d)}
}

type realTicker struct {
	ticker *time.Ticker
}

func (t *realTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t *realTicker) Reset(d time.Duration) {
	t.ticker.Reset(d)
}

func (t *realTicker) Stop() {
	t.ticker.Stop()
}
