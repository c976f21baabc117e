package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/edgeids/sensornode/internal/config"
	"github.com/edgeids/sensornode/internal/connwatch"
	"github.com/edgeids/sensornode/internal/metrics"
	"github.com/edgeids/sensornode/internal/mqtt"
	"github.com/edgeids/sensornode/internal/node"
	"github.com/edgeids/sensornode/internal/sensor"
	"github.com/edgeids/sensornode/internal/wifi"
)

// buildNode wires a node for cfg. Publisher nodes get a station, a broker
// session and the bootstrap/publisher pair sharing that session; sampler
// nodes get only their sensor.
func buildNode(cfg *config.Config, stdout io.Writer, logger *slog.Logger, m *metrics.Metrics) (*node.Node, error) {
	sens, err := sensor.New(cfg.Sensor.Driver)
	if err != nil {
		return nil, err
	}

	console := node.NewConsole(stdout)
	n := &node.Node{
		Name:     cfg.Node.Name,
		Sensor:   sens,
		Interval: cfg.Node.Interval(),
		Console:  console,
		Logger:   logger,
		Metrics:  m,
	}

	if cfg.Node.Role != config.RolePublisher {
		return n, nil
	}

	session, err := mqtt.NewSession(cfg.MQTT, logger.With("component", "mqtt"))
	if err != nil {
		return nil, fmt.Errorf("mqtt session: %w", err)
	}

	n.Bootstrap = &node.Bootstrap{
		Station:      wifi.NewNMStation(cfg.WiFi.Interface, logger.With("component", "wifi")),
		Session:      session,
		SSID:         cfg.WiFi.SSID,
		Passphrase:   cfg.WiFi.Passphrase,
		WiFiPolicy:   retryPolicy(cfg.Retry, cfg.WiFi.PollInterval(), logger),
		BrokerPolicy: retryPolicy(cfg.Retry, cfg.MQTT.RetryInterval(), logger),
		Console:      console,
		Logger:       logger,
		Metrics:      m,
	}
	n.Publisher = &node.Publisher{
		Session: session,
		Topic:   cfg.MQTT.Topic,
		QoS:     byte(cfg.MQTT.QoS),
		Retain:  cfg.MQTT.Retain,
		Console: console,
		Logger:  logger,
		Metrics: m,
	}
	return n, nil
}

// retryPolicy maps the retry section onto a connwatch policy. interval
// is the per-phase fixed interval used by the forever policy.
func retryPolicy(rc config.RetryConfig, interval time.Duration, logger *slog.Logger) connwatch.Policy {
	if rc.Policy == config.PolicyBackoff {
		return connwatch.Backoff{
			Config: connwatch.BackoffConfig{
				InitialDelay: time.Duration(rc.InitialDelayMS) * time.Millisecond,
				MaxDelay:     time.Duration(rc.MaxDelayMS) * time.Millisecond,
				Multiplier:   rc.Multiplier,
				MaxRetries:   rc.MaxRetries,
			},
			Logger: logger,
		}
	}
	return connwatch.Forever{Interval: interval, Logger: logger}
}
