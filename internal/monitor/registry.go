package monitor

import (
	"sync"

	"codeberg.org/mutker/sensord/internal/errors"
	"codeberg.org/mutker/sensord/internal/logger"
)

// Parameter is a point-in-time snapshot of a registered parameter.
type Parameter struct {
	Name       string
	Label      string
	Thresholds Thresholds
	Value      float64
	Zone       Zone
	Critical   bool
}

type parameter struct {
	name       string
	label      string
	thresholds Thresholds
	value      float64
	zone       Zone
	critical   bool
	hasValue   bool
}

func (p *parameter) snapshot() Parameter {
	return Parameter{
		Name:       p.name,
		Label:      p.label,
		Thresholds: p.thresholds,
		Value:      p.value,
		Zone:       p.zone,
		Critical:   p.critical,
	}
}

// reclassify re-derives the zone from the current reading. Parameters
// without a reading stay idle no matter what the thresholds say.
func (p *parameter) reclassify() {
	if !p.hasValue {
		p.zone = ZoneIdle
		return
	}
	p.zone = p.thresholds.Classify(p.value)
}

// Registry holds the monitored parameters, their thresholds and their
// latest readings. All methods are safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	params map[string]*parameter
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{
		params: make(map[string]*parameter),
	}
}

// Add registers a parameter under a unique name. The label is the
// human-readable form used in logs and telemetry. New parameters start
// idle and non-critical.
func (r *Registry) Add(name, label string, t Thresholds) error {
	if name == "" {
		return errors.WithMessage(errors.ErrInvalidArgument, "parameter name must not be empty")
	}
	if err := t.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.params[name]; exists {
		return errors.WithData(ErrDuplicateParameter, name)
	}

	r.params[name] = &parameter{
		name:       name,
		label:      label,
		thresholds: t,
		zone:       ZoneIdle,
	}
	r.order = append(r.order, name)

	logger.Debug().
		Str("parameter", name).
		Float64("ok_min", t.OkMin).
		Float64("ok_max", t.OkMax).
		Float64("warning_percent", t.WarningPercent).
		Bool("flipped", t.Flipped).
		Msg("Registered parameter")

	return nil
}

// MarkCritical flags a parameter as contributing to the aggregate
// state. Marking an already critical parameter is a no-op.
func (r *Registry) MarkCritical(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.params[name]
	if !exists {
		return errors.WithData(ErrUnknownParameter, name)
	}
	p.critical = true

	return nil
}

// SetThresholds replaces a parameter's thresholds. If the parameter
// already has a reading its zone is re-derived immediately, so the
// change is visible before the next poll.
func (r *Registry) SetThresholds(name string, t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.params[name]
	if !exists {
		return errors.WithData(ErrUnknownParameter, name)
	}

	prev := p.zone
	p.thresholds = t
	p.reclassify()

	if p.zone != prev {
		logger.Debug().
			Str("parameter", name).
			Str("from", prev.String()).
			Str("to", p.zone.String()).
			Msg("Zone changed on threshold update")
	}

	return nil
}

// SetValue records a reading and classifies it.
func (r *Registry) SetValue(name string, value float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.params[name]
	if !exists {
		return errors.WithData(ErrUnknownParameter, name)
	}

	prev := p.zone
	p.value = value
	p.hasValue = true
	p.reclassify()

	if p.zone != prev {
		logger.Debug().
			Str("parameter", name).
			Float64("value", value).
			Str("from", prev.String()).
			Str("to", p.zone.String()).
			Msg("Zone changed")
	}

	return nil
}

// Remove deletes a parameter. The name becomes free for registration
// again; a removed critical parameter drops out of the aggregate on
// the next recompute.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.params[name]; !exists {
		return errors.WithData(ErrUnknownParameter, name)
	}

	delete(r.params, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	logger.Debug().Str("parameter", name).Msg("Removed parameter")

	return nil
}

// Get returns a snapshot of a single parameter.
func (r *Registry) Get(name string) (Parameter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.params[name]
	if !exists {
		return Parameter{}, false
	}

	return p.snapshot(), true
}

// List returns snapshots of all parameters in registration order.
func (r *Registry) List() []Parameter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Parameter, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.params[name].snapshot())
	}

	return out
}

// Critical returns snapshots of the critical parameters in
// registration order.
func (r *Registry) Critical() []Parameter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Parameter, 0, len(r.order))
	for _, name := range r.order {
		if p := r.params[name]; p.critical {
			out = append(out, p.snapshot())
		}
	}

	return out
}

// Zones returns the current zone of every parameter.
func (r *Registry) Zones() map[string]Zone {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Zone, len(r.params))
	for name, p := range r.params {
		out[name] = p.zone
	}

	return out
}

// CriticalZones returns the current zone of every critical parameter.
func (r *Registry) CriticalZones() map[string]Zone {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Zone)
	for name, p := range r.params {
		if p.critical {
			out[name] = p.zone
		}
	}

	return out
}

// SnapshotThresholds returns the thresholds of every parameter, keyed
// by name. The result is detached from the registry.
func (r *Registry) SnapshotThresholds() map[string]Thresholds {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Thresholds, len(r.params))
	for name, p := range r.params {
		out[name] = p.thresholds
	}

	return out
}
