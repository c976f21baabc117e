// Package node runs a sensor node: a one-time boot sequence followed by
// an endless single-goroutine loop.
//
// A publisher node ("Sensor-1") boots by joining the network and opening
// a broker session, then each iteration publishes telemetry, reads its
// sensor and sleeps. A sampler node ("Sensor-2") has no network: it only
// reads its sensor and sleeps. Publish and read always happen in order
// on the loop goroutine; there is never more than one publish in flight.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/edgeids/sensornode/internal/config"
	"github.com/edgeids/sensornode/internal/connwatch"
	"github.com/edgeids/sensornode/internal/metrics"
	"github.com/edgeids/sensornode/internal/sensor"
)

// State is the node lifecycle state.
type State int

const (
	// Booting runs once: banner, connectivity bootstrap, sensor init.
	Booting State = iota
	// Running repeats forever until the context is cancelled.
	Running
)

func (s State) String() string {
	switch s {
	case Booting:
		return "booting"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Node is one sensor node. Bootstrap and Publisher are both set for a
// publisher node and both nil for a sampler node.
type Node struct {
	Name      string
	Sensor    sensor.Sensor
	Bootstrap *Bootstrap
	Publisher *Publisher
	Interval  time.Duration
	Sleeper   connwatch.Sleeper

	Console *Console
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	state State
}

// State returns the lifecycle state reached so far.
func (n *Node) State() State {
	return n.state
}

// Run boots the node and then loops until ctx is cancelled. It returns
// nil on cancellation and an error only if booting fails. The broker
// session is closed on every exit path.
func (n *Node) Run(ctx context.Context) error {
	if n.Logger == nil {
		n.Logger = slog.Default()
	}
	if n.Sleeper == nil {
		n.Sleeper = connwatch.RealSleeper
	}

	n.state = Booting
	n.Metrics.SetRunning(false)
	if err := n.boot(ctx); err != nil {
		n.shutdown()
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	n.state = Running
	n.Metrics.SetRunning(true)
	n.Logger.Info("node running", "interval", n.Interval.String(), "publisher", n.Publisher != nil)

	for {
		n.step(ctx)
		if !n.Sleeper.Sleep(ctx, n.Interval) {
			break
		}
	}

	n.shutdown()
	n.Logger.Info("node stopped")
	return nil
}

func (n *Node) boot(ctx context.Context) error {
	n.Console.Println("")
	n.Console.Println("Booting Node: " + n.Name)
	n.Logger.Info("node booting", "name", n.Name)

	if n.Bootstrap != nil {
		if err := n.Bootstrap.Run(ctx); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}

	if err := n.Sensor.Init(ctx); err != nil {
		return fmt.Errorf("sensor init: %w", err)
	}
	n.Logger.Debug("sensor initialized")
	return nil
}

// step is one Running iteration without the trailing sleep.
func (n *Node) step(ctx context.Context) {
	if n.Publisher != nil {
		if err := n.Publisher.Publish(ctx); err != nil {
			n.Logger.Warn("telemetry publish failed", "error", err)
		}
	}

	r, err := n.Sensor.Read(ctx)
	n.Metrics.SensorRead(err)
	if err != nil {
		n.Logger.Warn("sensor read failed", "error", err)
	} else {
		n.Logger.Log(ctx, config.LevelTrace, "sensor read", "values", r.Values)
	}

	n.Metrics.Iteration()
}

// shutdown closes the broker session, if any, with a short deadline of
// its own since the run context is already cancelled.
func (n *Node) shutdown() {
	if n.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.Publisher.Session.Disconnect(ctx); err != nil {
		n.Logger.Warn("mqtt disconnect failed", "error", err)
	}
}
