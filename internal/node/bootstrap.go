package node

import (
	"context"
	"errors"
	"log/slog"

	"github.com/edgeids/sensornode/internal/connwatch"
	"github.com/edgeids/sensornode/internal/metrics"
	"github.com/edgeids/sensornode/internal/mqtt"
	"github.com/edgeids/sensornode/internal/wifi"
)

var errLinkDown = errors.New("wifi link not up")

// Bootstrap brings a publisher node onto the network and opens its
// broker session. It runs once, before the main loop.
type Bootstrap struct {
	Station    wifi.Station
	Session    mqtt.Session
	SSID       string
	Passphrase string

	// WiFiPolicy paces link status polls; BrokerPolicy paces connect
	// calls. Both default to an unbounded fixed-interval retry.
	WiFiPolicy   connwatch.Policy
	BrokerPolicy connwatch.Policy

	Console *Console
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Run blocks until the link is up and the broker session is connected.
// With unbounded policies it returns only on success or when ctx is
// cancelled; with bounded ones it returns a *ConnectError naming the
// dependency that could not be reached.
func (b *Bootstrap) Run(ctx context.Context) error {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wifiPolicy := b.WiFiPolicy
	if wifiPolicy == nil {
		wifiPolicy = connwatch.Forever{}
	}
	brokerPolicy := b.BrokerPolicy
	if brokerPolicy == nil {
		brokerPolicy = connwatch.Forever{}
	}

	// A failed association request is not fatal: the link may still
	// come up (roaming, an existing profile), so keep polling.
	if err := b.Station.Begin(ctx, b.SSID, b.Passphrase); err != nil {
		logger.Warn("wifi association request failed", "ssid", b.SSID, "error", err)
	}

	err := wifiPolicy.Do(ctx, "wifi", func(ctx context.Context, attempt int) error {
		b.Metrics.ConnectAttempt("wifi")
		if b.Station.Connected(ctx) {
			return nil
		}
		b.Console.Print(".")
		return errLinkDown
	})
	if err != nil {
		return &ConnectError{Target: "wifi", Err: err}
	}
	b.Console.Println("\nWiFi connected")
	logger.Info("wifi connected", "ssid", b.SSID)

	err = brokerPolicy.Do(ctx, "mqtt", func(ctx context.Context, attempt int) error {
		if b.Session.Connected() {
			return nil
		}
		b.Metrics.ConnectAttempt("mqtt")
		if err := b.Session.Connect(ctx); err != nil {
			return err
		}
		if !b.Session.Connected() {
			return mqtt.ErrNotConnected
		}
		return nil
	})
	if err != nil {
		return &ConnectError{Target: "mqtt", Err: err}
	}
	b.Console.Println("MQTT connected.")
	logger.Info("mqtt connected")

	return nil
}
