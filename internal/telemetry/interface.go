package telemetry

import (
	"context"
	"time"
)

// Collector defines the core domain interface
type Collector interface {
	RecordTransition(ctx context.Context, transition *Transition) error
	RecordFault(ctx context.Context, fault *Fault) error
	Close() error
}

// Transition captures one aggregate state change as published by the
// monitor, with the zone of every critical parameter at that moment.
type Transition struct {
	ID        string
	Timestamp time.Time
	State     string
	Zones     map[string]string
}

// Fault captures one failed fetch cycle.
type Fault struct {
	ID        string
	Timestamp time.Time
	Code      string
	Message   string
}
