// Package sensor holds the sensor drivers a node samples on every loop
// iteration. Readings are observational: they are logged and counted,
// never folded into published telemetry.
package sensor

import (
	"context"
	"fmt"
	"time"
)

// Reading is the result of one sensor read.
type Reading struct {
	Time   time.Time
	Values map[string]float64
}

// Sensor is a peripheral that is initialized once and then read
// repeatedly from a single goroutine.
type Sensor interface {
	// Init performs one-time setup. It is called once during boot.
	Init(ctx context.Context) error
	// Read performs one blocking read.
	Read(ctx context.Context) (Reading, error)
}

// New returns the driver registered under name ("host" or "none").
func New(name string) (Sensor, error) {
	switch name {
	case "host":
		return NewHost(), nil
	case "none", "":
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown sensor driver %q", name)
	}
}

// None is a sensor with no hardware behind it. Reads succeed and return
// no values.
type None struct{}

// Init implements [Sensor].
func (None) Init(context.Context) error { return nil }

// Read implements [Sensor].
func (None) Read(context.Context) (Reading, error) {
	return Reading{Time: time.Now()}, nil
}
