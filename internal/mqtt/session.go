// Package mqtt owns a publisher node's broker session.
//
// A [Session] is a single explicit connection to the broker: the caller
// decides when to connect and when to publish, and no reconnection
// happens behind its back. Two implementations exist, chosen by the
// configured protocol version:
//
//   - 3 (MQTT 3.1.1) on Eclipse Paho's paho.mqtt.golang client, with
//     auto-reconnect disabled.
//   - 5 on Eclipse Paho v2's low-level [paho] client, dialing a fresh
//     TCP (or TLS) connection for every Connect call.
//
// Both clients run keepalive pings on their own goroutines; [Session.Poll]
// surfaces a dropped session to the caller's loop.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"

	"github.com/edgeids/sensornode/internal/config"
)

// ErrNotConnected is returned by Poll and Publish when there is no live
// broker session.
var ErrNotConnected = errors.New("mqtt session not connected")

// Session is the broker capability a publisher node needs.
type Session interface {
	// Connect makes one connection attempt. It blocks until the broker
	// acknowledges the session, refuses it, or ctx expires.
	Connect(ctx context.Context) error
	// Connected reports whether the session is currently up.
	Connected() bool
	// Poll services protocol housekeeping and reports a dropped session
	// as an error wrapping [ErrNotConnected].
	Poll(ctx context.Context) error
	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
	// Disconnect closes the session cleanly.
	Disconnect(ctx context.Context) error
}

// NewSession returns the [Session] implementation for cfg.Protocol.
func NewSession(cfg config.MQTTConfig, logger *slog.Logger) (Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Protocol {
	case 3:
		return newV3Session(cfg, logger), nil
	case 5:
		return newV5Session(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported mqtt protocol version %d", cfg.Protocol)
	}
}

// notConnected wraps the last session error, if any, with
// [ErrNotConnected].
func notConnected(cause error) error {
	if cause == nil {
		return ErrNotConnected
	}
	return fmt.Errorf("%w: %w", ErrNotConnected, cause)
}

func tlsConfig(cfg config.MQTTConfig) *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: cfg.Host,
	}
}
