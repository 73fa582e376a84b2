package monitor

import (
	"math"

	"codeberg.org/mutker/sensord/internal/errors"
)

// Zone classifies a single reading against its parameter's thresholds.
type Zone int

const (
	// ZoneIdle means no reading has been recorded yet.
	ZoneIdle Zone = iota
	// ZoneOk means the reading is within the acceptable range.
	ZoneOk
	// ZoneWarning means the reading is outside the acceptable range
	// but still within the warning band.
	ZoneWarning
	// ZoneAlert means the reading is outside the warning band.
	ZoneAlert
)

func (z Zone) String() string {
	switch z {
	case ZoneIdle:
		return "idle"
	case ZoneOk:
		return "ok"
	case ZoneWarning:
		return "warning"
	case ZoneAlert:
		return "alert"
	default:
		return "unknown"
	}
}

// State is the aggregate condition over all critical parameters.
// Parameters still in the idle zone do not count against it, so a
// device with no readings yet reports ok.
type State int

const (
	// StateOk means no critical parameter is outside its acceptable
	// range.
	StateOk State = iota
	// StateBusy means at least one critical parameter is in its
	// warning band and none is in alert.
	StateBusy
	// StateAlert means at least one critical parameter is outside its
	// warning band.
	StateAlert
)

func (s State) String() string {
	switch s {
	case StateOk:
		return "ok"
	case StateBusy:
		return "busy"
	case StateAlert:
		return "alert"
	default:
		return "unknown"
	}
}

// Thresholds bounds the acceptable range for a parameter. The warning
// band extends the acceptable range on both sides by WarningPercent
// percent of its width. Flipped inverts the reading: values inside the
// range alert and values outside it are acceptable, which suits
// detector-style parameters where a raised flag is the bad case.
type Thresholds struct {
	OkMin          float64
	OkMax          float64
	WarningPercent float64
	Flipped        bool
}

// Validate reports whether the thresholds describe a usable range.
func (t Thresholds) Validate() error {
	if math.IsNaN(t.OkMin) || math.IsNaN(t.OkMax) || math.IsNaN(t.WarningPercent) {
		return errors.WithData(ErrInvalidRange, t)
	}
	if t.OkMax < t.OkMin {
		return errors.WithData(ErrInvalidRange, t)
	}
	if t.WarningPercent < 0 || t.WarningPercent > 100 {
		return errors.WithData(ErrInvalidRange, t)
	}

	return nil
}

// WarningRange returns the outer bounds of the warning band. With a
// zero WarningPercent or a zero-width acceptable range the band
// collapses onto the range itself.
func (t Thresholds) WarningRange() (warnMin, warnMax float64) {
	span := (t.OkMax - t.OkMin) * t.WarningPercent / 100
	return t.OkMin - span, t.OkMax + span
}

// Classify places a reading in a zone. A NaN reading compares outside
// every bound, so it classifies as alert in normal mode and ok when
// flipped.
func (t Thresholds) Classify(value float64) Zone {
	warnMin, warnMax := t.WarningRange()

	if t.Flipped {
		switch {
		case value >= t.OkMin && value <= t.OkMax:
			return ZoneAlert
		case value >= warnMin && value <= warnMax:
			return ZoneWarning
		default:
			return ZoneOk
		}
	}

	switch {
	case value >= t.OkMin && value <= t.OkMax:
		return ZoneOk
	case value >= warnMin && value <= warnMax:
		return ZoneWarning
	default:
		return ZoneAlert
	}
}
