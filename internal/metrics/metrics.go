// Package metrics exposes node counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records node activity. A nil *Metrics is valid and records
// nothing, so the node loop can run without a metrics endpoint.
type Metrics struct {
	registry        *prometheus.Registry
	publishes       *prometheus.CounterVec
	connectAttempts *prometheus.CounterVec
	sensorReads     *prometheus.CounterVec
	iterations      prometheus.Counter
	state           prometheus.Gauge
}

// New creates the node collectors on a private registry labelled with
// the node name.
func New(node string) *Metrics {
	labels := prometheus.Labels{"node": node}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "sensornode_publish_total",
			Help:        "Telemetry publish attempts by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "sensornode_connect_attempts_total",
			Help:        "Connection attempts by target (wifi, mqtt).",
			ConstLabels: labels,
		}, []string{"target"}),
		sensorReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "sensornode_sensor_reads_total",
			Help:        "Sensor reads by result.",
			ConstLabels: labels,
		}, []string{"result"}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "sensornode_loop_iterations_total",
			Help:        "Completed main loop iterations.",
			ConstLabels: labels,
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "sensornode_state",
			Help:        "Node lifecycle state (0 booting, 1 running).",
			ConstLabels: labels,
		}),
	}

	m.registry.MustRegister(m.publishes, m.connectAttempts, m.sensorReads, m.iterations, m.state)
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Publish counts one publish attempt.
func (m *Metrics) Publish(err error) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result(err)).Inc()
}

// ConnectAttempt counts one connection attempt against target.
func (m *Metrics) ConnectAttempt(target string) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(target).Inc()
}

// SensorRead counts one sensor read.
func (m *Metrics) SensorRead(err error) {
	if m == nil {
		return
	}
	m.sensorReads.WithLabelValues(result(err)).Inc()
}

// Iteration counts one completed loop iteration.
func (m *Metrics) Iteration() {
	if m == nil {
		return
	}
	m.iterations.Inc()
}

// SetRunning flips the state gauge.
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.state.Set(1)
	} else {
		m.state.Set(0)
	}
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
