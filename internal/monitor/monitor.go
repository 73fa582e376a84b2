package monitor

import (
	"context"
	"time"

	"codeberg.org/mutker/sensord/internal/logger"
)

// Config assembles a monitor's collaborators. Source is required for
// polling but may be nil for registries that are fed through SetValue.
// Sink, Store and Clock are optional.
type Config struct {
	Source Source
	Sink   Sink
	Store  Store
	Clock  Clock
}

// Monitor ties the registry, aggregator and scheduler together behind
// one handle. All methods are safe for concurrent use.
type Monitor struct {
	registry   *Registry
	aggregator *Aggregator
	scheduler  *Scheduler
	store      Store
}

func New(cfg Config) *Monitor {
	registry := NewRegistry()
	aggregator := NewAggregator()

	return &Monitor{
		registry:   registry,
		aggregator: aggregator,
		scheduler:  NewScheduler(registry, aggregator, cfg.Source, cfg.Sink, cfg.Clock),
		store:      cfg.Store,
	}
}

// AddParameter registers a parameter under a unique name.
func (m *Monitor) AddParameter(name, label string, t Thresholds) error {
	return m.registry.Add(name, label, t)
}

// MarkCritical flags a parameter as contributing to the aggregate
// state.
func (m *Monitor) MarkCritical(name string) error {
	return m.registry.MarkCritical(name)
}

// SetThresholds replaces a parameter's thresholds at runtime.
func (m *Monitor) SetThresholds(name string, t Thresholds) error {
	return m.registry.SetThresholds(name, t)
}

// SetValue records a reading for a parameter and classifies it. This
// is the manual alternative to a polled Source.
func (m *Monitor) SetValue(name string, value float64) error {
	return m.registry.SetValue(name, value)
}

// RemoveParameter deletes a parameter. A removed critical parameter
// drops out of the aggregate on the next recompute.
func (m *Monitor) RemoveParameter(name string) error {
	return m.registry.Remove(name)
}

// Parameter returns a snapshot of a single parameter.
func (m *Monitor) Parameter(name string) (Parameter, bool) {
	return m.registry.Get(name)
}

// Parameters returns snapshots of all parameters in registration
// order.
func (m *Monitor) Parameters() []Parameter {
	return m.registry.List()
}

// Zones returns the current zone of every parameter.
func (m *Monitor) Zones() map[string]Zone {
	return m.registry.Zones()
}

// Recompute re-derives the aggregate state from the critical
// parameters. It returns the state and whether anything changed since
// the last recompute. Unlike polled cycles it does not notify the
// sink; the caller already holds the result.
func (m *Monitor) Recompute() (State, bool) {
	return m.aggregator.Recompute(m.registry.Critical())
}

// CurrentState returns the aggregate state as of the last recompute.
func (m *Monitor) CurrentState() State {
	return m.aggregator.State()
}

// Start launches periodic polling.
func (m *Monitor) Start(ctx context.Context, interval time.Duration) error {
	return m.scheduler.Start(ctx, interval)
}

// SetInterval changes the poll interval, effective before the next
// tick.
func (m *Monitor) SetInterval(interval time.Duration) error {
	return m.scheduler.SetInterval(interval)
}

// Suspend pauses polling without tearing the loop down.
func (m *Monitor) Suspend() error {
	return m.scheduler.Suspend()
}

// Resume reverses Suspend.
func (m *Monitor) Resume() error {
	return m.scheduler.Resume()
}

// RefreshNow runs one poll cycle synchronously.
func (m *Monitor) RefreshNow(ctx context.Context) error {
	return m.scheduler.RefreshNow(ctx)
}

// Stop signals the poll loop to exit without waiting for it.
func (m *Monitor) Stop() {
	m.scheduler.Stop()
}

// SchedulerState reports what the poll loop is doing.
func (m *Monitor) SchedulerState() SchedulerState {
	return m.scheduler.State()
}

// LoadThresholds applies persisted thresholds to the registry.
// Thresholds for unknown parameters or with unusable ranges are
// skipped with a warning, so one stale row cannot block startup.
// Without a store this is a no-op.
func (m *Monitor) LoadThresholds(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	stored, err := m.store.Load(ctx)
	if err != nil {
		return err
	}

	for name, t := range stored {
		if err := m.registry.SetThresholds(name, t); err != nil {
			logger.Warn().
				Str("parameter", name).
				Err(err).
				Msg("Skipping persisted thresholds")
		}
	}

	return nil
}

// SaveThresholds persists the current thresholds of every parameter.
// Without a store this is a no-op.
func (m *Monitor) SaveThresholds(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	return m.store.Save(ctx, m.registry.SnapshotThresholds())
}

// Close stops polling, waits for the loop to exit and persists the
// thresholds. It must not be called from a Sink callback; use Stop
// there instead.
func (m *Monitor) Close() error {
	m.scheduler.Stop()
	m.scheduler.Wait()

	return m.SaveThresholds(context.Background())
}
