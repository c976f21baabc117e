package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahov3 "github.com/eclipse/paho.mqtt.golang"

	"github.com/edgeids/sensornode/internal/config"
)

// v3Session is an MQTT 3.1.1 [Session].
type v3Session struct {
	cfg    config.MQTTConfig
	client pahov3.Client
	logger *slog.Logger

	mu      sync.Mutex
	lastErr error
}

func newV3Session(cfg config.MQTTConfig, logger *slog.Logger) *v3Session {
	s := &v3Session{cfg: cfg, logger: logger}

	opts := pahov3.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(cfg.ClientID).
		SetKeepAlive(time.Duration(cfg.KeepAliveSec) * time.Second).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectionLostHandler(func(_ pahov3.Client, err error) {
			s.logger.Warn("mqtt connection lost", "broker", cfg.Address(), "error", err)
			s.setErr(err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.TLS {
		opts.SetTLSConfig(tlsConfig(cfg))
	}

	s.client = pahov3.NewClient(opts)
	return s
}

// brokerURL returns the paho broker URI for cfg.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	return scheme + "://" + cfg.Address()
}

func (s *v3Session) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *v3Session) Connect(ctx context.Context) error {
	if err := wait(ctx, s.client.Connect()); err != nil {
		s.setErr(err)
		return fmt.Errorf("mqtt connect %s as %s: %w", s.cfg.Address(), s.cfg.ClientID, err)
	}
	s.setErr(nil)
	return nil
}

func (s *v3Session) Connected() bool {
	return s.client.IsConnectionOpen()
}

func (s *v3Session) Poll(ctx context.Context) error {
	if s.client.IsConnectionOpen() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return notConnected(s.lastErr)
}

func (s *v3Session) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if !s.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	if err := wait(ctx, s.client.Publish(topic, qos, retain, payload)); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (s *v3Session) Disconnect(ctx context.Context) error {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}

// wait blocks until token completes or ctx is done.
func wait(ctx context.Context, token pahov3.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
