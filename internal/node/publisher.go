package node

import (
	"context"
	"log/slog"

	"github.com/edgeids/sensornode/internal/metrics"
	"github.com/edgeids/sensornode/internal/mqtt"
	"github.com/edgeids/sensornode/internal/telemetry"
)

// Publisher emits one telemetry message per call over an established
// broker session.
type Publisher struct {
	Session mqtt.Session
	Topic   string
	QoS     byte
	Retain  bool

	Console *Console
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Publish makes a single best-effort reconnect if the session is down,
// services protocol housekeeping, then publishes the placeholder
// telemetry message. The console echo happens whether or not the broker
// took the message; a rejected publish is returned as *PublishError.
func (p *Publisher) Publish(ctx context.Context) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if !p.Session.Connected() {
		p.Metrics.ConnectAttempt("mqtt")
		if err := p.Session.Connect(ctx); err != nil {
			logger.Warn("mqtt reconnect failed", "error", err)
		} else {
			logger.Info("mqtt reconnected")
		}
	}

	if err := p.Session.Poll(ctx); err != nil {
		logger.Debug("mqtt session housekeeping", "error", err)
	}

	payload, err := telemetry.Mock().Payload()
	if err != nil {
		return &PublishError{Topic: p.Topic, Err: err}
	}
	err = p.Session.Publish(ctx, p.Topic, payload, p.QoS, p.Retain)
	p.Metrics.Publish(err)
	p.Console.Println("Published mock telemetry: " + string(payload))

	if err != nil {
		return &PublishError{Topic: p.Topic, Err: err}
	}
	logger.Debug("telemetry published", "topic", p.Topic, "bytes", len(payload))
	return nil
}
