package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/eclipse/paho.golang/paho"

	"github.com/edgeids/sensornode/internal/config"
)

// DialFunc opens the transport connection for an MQTT v5 session.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// v5Session is an MQTT v5 [Session]. Each Connect dials a new transport
// and builds a new client; paho clients are single-use.
type v5Session struct {
	cfg    config.MQTTConfig
	dial   DialFunc
	logger *slog.Logger

	mu        sync.Mutex
	client    *paho.Client
	connected bool
	lastErr   error
}

func newV5Session(cfg config.MQTTConfig, logger *slog.Logger) *v5Session {
	s := &v5Session{cfg: cfg, logger: logger}
	if cfg.TLS {
		d := &tls.Dialer{Config: tlsConfig(cfg)}
		s.dial = d.DialContext
	} else {
		d := &net.Dialer{}
		s.dial = d.DialContext
	}
	return s
}

// dropped marks the session down. Called from paho's goroutines.
func (s *v5Session) dropped(client *paho.Client, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != client {
		return // stale callback from a previous client
	}
	if s.connected {
		s.logger.Warn("mqtt connection lost", "broker", s.cfg.Address(), "error", err)
	}
	s.connected = false
	s.lastErr = err
}

func (s *v5Session) Connect(ctx context.Context) error {
	addr := s.cfg.Address()
	conn, err := s.dial(ctx, "tcp", addr)
	if err != nil {
		s.setFailed(err)
		return fmt.Errorf("mqtt dial %s: %w", addr, err)
	}

	var client *paho.Client
	client = paho.NewClient(paho.ClientConfig{
		ClientID: s.cfg.ClientID,
		Conn:     conn,
		OnServerDisconnect: func(d *paho.Disconnect) {
			s.dropped(client, fmt.Errorf("server sent disconnect (reason %d)", d.ReasonCode))
		},
		OnClientError: func(err error) {
			s.dropped(client, err)
		},
	})

	cp := &paho.Connect{
		ClientID:   s.cfg.ClientID,
		KeepAlive:  uint16(s.cfg.KeepAliveSec),
		CleanStart: true,
	}
	if s.cfg.Username != "" {
		cp.Username = s.cfg.Username
		cp.UsernameFlag = true
	}
	if s.cfg.Password != "" {
		cp.Password = []byte(s.cfg.Password)
		cp.PasswordFlag = true
	}

	// Install the client before connecting so callbacks fired during the
	// handshake are not discarded as stale.
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	if _, err := client.Connect(ctx, cp); err != nil {
		conn.Close()
		s.setFailed(err)
		return fmt.Errorf("mqtt connect %s as %s: %w", addr, s.cfg.ClientID, err)
	}

	s.mu.Lock()
	s.connected = true
	s.lastErr = nil
	s.mu.Unlock()
	return nil
}

func (s *v5Session) setFailed(err error) {
	s.mu.Lock()
	s.connected = false
	s.lastErr = err
	s.mu.Unlock()
}

func (s *v5Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *v5Session) Poll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	return notConnected(s.lastErr)
}

func (s *v5Session) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	s.mu.Lock()
	client, ok := s.client, s.connected
	s.mu.Unlock()
	if !ok {
		return ErrNotConnected
	}

	if _, err := client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     qos,
		Retain:  retain,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (s *v5Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	client, ok := s.client, s.connected
	s.connected = false
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}
