package monitor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/sensord/internal/errors"
	"codeberg.org/mutker/sensord/internal/monitor"
)

type fakeStore struct {
	mu      sync.Mutex
	stored  map[string]monitor.Thresholds
	loadErr error
	saveErr error
	saved   map[string]monitor.Thresholds
	saves   int
}

func (s *fakeStore) Load(_ context.Context) (map[string]monitor.Thresholds, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loadErr != nil {
		return nil, s.loadErr
	}

	out := make(map[string]monitor.Thresholds, len(s.stored))
	for name, t := range s.stored {
		out[name] = t
	}

	return out, nil
}

func (s *fakeStore) Save(_ context.Context, thresholds map[string]monitor.Thresholds) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = thresholds
	s.saves++

	return nil
}

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saves
}

func (s *fakeStore) lastSaved() map[string]monitor.Thresholds {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saved
}

func TestMonitorManualFeed(t *testing.T) {
	sink := &recordingSink{}
	m := monitor.New(monitor.Config{Sink: sink})

	require.NoError(t, m.AddParameter("temperature", "GPU Temperature", monitor.Thresholds{OkMax: 30, WarningPercent: 10}))
	require.NoError(t, m.AddParameter("rain", "Rain Detected", monitor.Thresholds{OkMin: 1, OkMax: 1, WarningPercent: 50, Flipped: true}))
	require.NoError(t, m.MarkCritical("temperature"))
	require.NoError(t, m.MarkCritical("rain"))

	assert.Equal(t, monitor.StateOk, m.CurrentState())

	require.NoError(t, m.SetValue("temperature", 25))
	require.NoError(t, m.SetValue("rain", 0))

	state, changed := m.Recompute()
	assert.Equal(t, monitor.StateOk, state)
	assert.True(t, changed)
	assert.Equal(t, 0, sink.stateCount(), "manual recompute must not notify the sink")

	require.NoError(t, m.SetValue("rain", 1))
	state, changed = m.Recompute()
	assert.Equal(t, monitor.StateAlert, state)
	assert.True(t, changed)
	assert.Equal(t, monitor.StateAlert, m.CurrentState())

	assert.Equal(t, map[string]monitor.Zone{
		"temperature": monitor.ZoneOk,
		"rain":        monitor.ZoneAlert,
	}, m.Zones())

	names := make([]string, 0, 2)
	for _, p := range m.Parameters() {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"temperature", "rain"}, names)

	p, ok := m.Parameter("rain")
	require.True(t, ok)
	assert.True(t, p.Thresholds.Flipped)
}

func TestMonitorRemoveParameter(t *testing.T) {
	m := monitor.New(monitor.Config{})

	require.NoError(t, m.AddParameter("rain", "Rain Detected", monitor.Thresholds{OkMin: 1, OkMax: 1, WarningPercent: 50, Flipped: true}))
	require.NoError(t, m.MarkCritical("rain"))
	require.NoError(t, m.SetValue("rain", 1))

	state, changed := m.Recompute()
	require.Equal(t, monitor.StateAlert, state)
	require.True(t, changed)

	require.NoError(t, m.RemoveParameter("rain"))
	_, ok := m.Parameter("rain")
	assert.False(t, ok)

	state, changed = m.Recompute()
	assert.Equal(t, monitor.StateOk, state)
	assert.True(t, changed, "losing the alerting member must be reported")

	err := m.RemoveParameter("rain")
	assert.True(t, errors.IsCode(err, monitor.ErrUnknownParameter))
}

func TestMonitorLoadThresholds(t *testing.T) {
	store := &fakeStore{stored: map[string]monitor.Thresholds{
		"temperature": {OkMax: 40, WarningPercent: 5},
		"ghost":       {OkMax: 1},
		"power":       {OkMin: 500, OkMax: 1},
	}}
	m := monitor.New(monitor.Config{Store: store})

	require.NoError(t, m.AddParameter("temperature", "GPU Temperature", monitor.Thresholds{OkMax: 30, WarningPercent: 10}))
	require.NoError(t, m.AddParameter("power", "GPU Power Draw", monitor.Thresholds{OkMax: 300, WarningPercent: 10}))

	require.NoError(t, m.LoadThresholds(context.Background()))

	p, ok := m.Parameter("temperature")
	require.True(t, ok)
	assert.Equal(t, 40.0, p.Thresholds.OkMax, "persisted override must apply")
	assert.Equal(t, 5.0, p.Thresholds.WarningPercent)

	p, ok = m.Parameter("power")
	require.True(t, ok)
	assert.Equal(t, 300.0, p.Thresholds.OkMax, "an unusable row must not clobber the registered defaults")

	_, ok = m.Parameter("ghost")
	assert.False(t, ok, "stored rows must not register parameters")
}

func TestMonitorLoadThresholdsErrors(t *testing.T) {
	m := monitor.New(monitor.Config{Store: &fakeStore{loadErr: assert.AnError}})
	require.ErrorIs(t, m.LoadThresholds(context.Background()), assert.AnError)

	// Without a store loading is a no-op.
	bare := monitor.New(monitor.Config{})
	require.NoError(t, bare.LoadThresholds(context.Background()))
	require.NoError(t, bare.SaveThresholds(context.Background()))
}

func TestMonitorSaveThresholds(t *testing.T) {
	store := &fakeStore{}
	m := monitor.New(monitor.Config{Store: store})

	require.NoError(t, m.AddParameter("temperature", "GPU Temperature", monitor.Thresholds{OkMax: 30, WarningPercent: 10}))
	require.NoError(t, m.AddParameter("rain", "Rain Detected", monitor.Thresholds{OkMin: 1, OkMax: 1, WarningPercent: 50, Flipped: true}))

	require.NoError(t, m.SaveThresholds(context.Background()))
	require.Equal(t, 1, store.saveCount())

	saved := store.lastSaved()
	assert.Equal(t, 30.0, saved["temperature"].OkMax)
	assert.True(t, saved["rain"].Flipped, "the flipped bit must survive persistence")
}

func TestMonitorPollingThroughFacade(t *testing.T) {
	source := &mockSource{}
	source.On("FetchValues", mock.Anything).Return(map[string]float64{"temperature": 32}, nil)

	sink := &recordingSink{}
	m := monitor.New(monitor.Config{Source: source, Sink: sink, Clock: &fakeClock{}})

	require.NoError(t, m.AddParameter("temperature", "GPU Temperature", monitor.Thresholds{OkMax: 30, WarningPercent: 10}))
	require.NoError(t, m.MarkCritical("temperature"))

	require.NoError(t, m.RefreshNow(context.Background()))
	assert.Equal(t, monitor.StateBusy, m.CurrentState())
	require.Equal(t, 1, sink.stateCount())
	assert.Equal(t, map[string]monitor.Zone{"temperature": monitor.ZoneWarning}, sink.lastZones())
}

func TestMonitorRefreshWithoutSource(t *testing.T) {
	m := monitor.New(monitor.Config{})

	err := m.RefreshNow(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, monitor.ErrNoSource))

	err = m.Start(context.Background(), time.Second)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, monitor.ErrNoSource))
}

func TestMonitorClose(t *testing.T) {
	source := &mockSource{}
	source.On("FetchValues", mock.Anything).Return(map[string]float64{"temperature": 25}, nil)

	store := &fakeStore{}
	clock := &fakeClock{}
	m := monitor.New(monitor.Config{Source: source, Store: store, Clock: clock})

	require.NoError(t, m.AddParameter("temperature", "GPU Temperature", monitor.Thresholds{OkMax: 30, WarningPercent: 10}))

	require.NoError(t, m.Start(context.Background(), time.Second))
	require.Equal(t, monitor.SchedulerRunning, m.SchedulerState())

	require.NoError(t, m.Close())
	assert.Equal(t, monitor.SchedulerIdle, m.SchedulerState())
	require.Equal(t, 1, store.saveCount())
	assert.Contains(t, store.lastSaved(), "temperature")

	// Closing an already closed monitor only persists again.
	require.NoError(t, m.Close())
	assert.Equal(t, 2, store.saveCount())
}
