package monitor

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/sensord/internal/errors"
	"codeberg.org/mutker/sensord/internal/logger"
)

// SchedulerState reports what the poll loop is doing.
type SchedulerState int

const (
	// SchedulerIdle means no poll loop is running.
	SchedulerIdle SchedulerState = iota
	// SchedulerRunning means the loop is polling on its interval.
	SchedulerRunning
	// SchedulerSuspended means the loop is alive but skips cycles.
	SchedulerSuspended
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerIdle:
		return "idle"
	case SchedulerRunning:
		return "running"
	case SchedulerSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Scheduler drives periodic fetch and recompute cycles against a
// registry and aggregator. A single goroutine owns the loop; control
// methods only flip state and signal it, so they are safe to call
// from anywhere, including Sink callbacks.
type Scheduler struct {
	registry   *Registry
	aggregator *Aggregator
	source     Source
	sink       Sink
	clock      Clock

	mu       sync.Mutex
	state    SchedulerState
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	resetCh  chan time.Duration

	// cycleMu serializes poll cycles with manual refreshes. It is
	// never held while the sink runs.
	cycleMu sync.Mutex
}

// NewScheduler wires a scheduler to its collaborators. The sink may be
// nil, in which case transitions are only logged. The source may be
// nil until Start or RefreshNow is called.
func NewScheduler(registry *Registry, aggregator *Aggregator, source Source, sink Sink, clock Clock) *Scheduler {
	if clock == nil {
		clock = NewClock()
	}

	return &Scheduler{
		registry:   registry,
		aggregator: aggregator,
		source:     source,
		sink:       sink,
		clock:      clock,
	}
}

// Start launches the poll loop with the given interval. Starting a
// suspended scheduler resumes it with the new interval; starting a
// running one is a no-op. The loop exits when the context is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.WithData(ErrInvalidInterval, interval.String())
	}
	if s.source == nil {
		return errors.New(ErrNoSource)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case SchedulerRunning:
		return nil
	case SchedulerSuspended:
		s.interval = interval
		s.state = SchedulerRunning
		s.pushResetLocked(interval)
	case SchedulerIdle:
		s.interval = interval
		s.stopCh = make(chan struct{})
		s.doneCh = make(chan struct{})
		s.resetCh = make(chan time.Duration, 1)
		s.state = SchedulerRunning
		go s.loop(ctx, interval, s.stopCh, s.doneCh, s.resetCh)

		logger.Debug().
			Str("interval", interval.String()).
			Msg("Poll scheduler started")
	}

	return nil
}

// SetInterval changes the poll interval. A running loop picks it up
// before its next tick.
func (s *Scheduler) SetInterval(interval time.Duration) error {
	if interval <= 0 {
		return errors.WithData(ErrInvalidInterval, interval.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = interval
	if s.state != SchedulerIdle {
		s.pushResetLocked(interval)
	}

	return nil
}

// Suspend keeps the loop alive but makes it skip cycles, effective
// before the next tick.
func (s *Scheduler) Suspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SchedulerIdle {
		return errors.WithMessage(ErrNotRunning, "cannot suspend an idle scheduler")
	}
	s.state = SchedulerSuspended

	return nil
}

// Resume reverses Suspend.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SchedulerIdle {
		return errors.WithMessage(ErrNotRunning, "cannot resume an idle scheduler")
	}
	s.state = SchedulerRunning

	return nil
}

// Stop signals the loop to exit without waiting for it, so it is safe
// to call from a Sink callback. Use Wait to observe the exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SchedulerIdle {
		return
	}
	close(s.stopCh)
	s.state = SchedulerIdle
}

// Wait blocks until the poll loop has exited. It returns immediately
// when the scheduler never started. Must not be called from a Sink
// callback, which runs on the loop itself.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.doneCh
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// RefreshNow runs one fetch and recompute cycle synchronously,
// regardless of scheduler state. The cycle is serialized against the
// poll loop. Fetch faults are reported to the sink and returned.
func (s *Scheduler) RefreshNow(ctx context.Context) error {
	if s.source == nil {
		return errors.New(ErrNoSource)
	}

	return s.cycle(ctx)
}

// State returns the current scheduler state.
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Interval returns the configured poll interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.interval
}

// pushResetLocked hands the loop a new ticker interval. The caller
// holds s.mu, so draining first makes the send non-blocking.
func (s *Scheduler) pushResetLocked(d time.Duration) {
	select {
	case <-s.resetCh:
	default:
	}
	s.resetCh <- d
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, stop <-chan struct{}, done chan struct{}, reset <-chan time.Duration) {
	defer func() {
		s.mu.Lock()
		// A restarted scheduler owns a fresh done channel; only the
		// loop that is still current may reset the state.
		if s.doneCh == done {
			s.state = SchedulerIdle
		}
		s.mu.Unlock()
		close(done)

		logger.Debug().Msg("Poll loop exited")
	}()

	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case d := <-reset:
			ticker.Reset(d)
		case <-ticker.C():
			if s.State() != SchedulerRunning {
				continue
			}
			if err := s.cycle(ctx); err != nil {
				logger.Warn().Err(err).Msg("Poll cycle failed")
			}
		}
	}
}

// cycle fetches readings, classifies them and publishes the aggregate
// state when it changed. The sink runs after the cycle lock is
// released, so a callback may call back into the scheduler,
// RefreshNow included.
func (s *Scheduler) cycle(ctx context.Context) error {
	state, zones, changed, err := s.fetchAndRecompute(ctx)
	if err != nil {
		if s.sink != nil {
			s.sink.FetchFaulted(err)
		}

		return err
	}

	if changed {
		logger.Debug().
			Str("state", state.String()).
			Msg("Aggregate state changed")
		if s.sink != nil {
			s.sink.StateChanged(state, zones)
		}
	}

	return nil
}

// fetchAndRecompute runs one serialized fetch and classification pass
// and snapshots the published picture. Readings for names the registry
// does not know are dropped with a warning. On a fetch error nothing
// is applied.
func (s *Scheduler) fetchAndRecompute(ctx context.Context) (State, map[string]Zone, bool, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	values, err := s.source.FetchValues(ctx)
	if err != nil {
		return StateOk, nil, false, errors.Wrap(ErrFetchFailed, err)
	}

	for name, value := range values {
		if err := s.registry.SetValue(name, value); err != nil {
			logger.Warn().
				Str("parameter", name).
				Msg("Dropping reading for unknown parameter")
		}
	}

	state, changed := s.aggregator.Recompute(s.registry.Critical())
	if !changed {
		return state, nil, false, nil
	}

	return state, s.registry.CriticalZones(), true, nil
}
