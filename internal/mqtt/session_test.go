package mqtt

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/packets"

	"github.com/edgeids/sensornode/internal/config"
)

func testConfig(protocol int) config.MQTTConfig {
	cfg := config.Default(config.RolePublisher).MQTT
	cfg.Protocol = protocol
	return cfg
}

func TestNewSession_Protocols(t *testing.T) {
	tests := []struct {
		protocol int
		wantErr  bool
	}{
		{3, false},
		{5, false},
		{4, true},
	}

	for _, tt := range tests {
		s, err := NewSession(testConfig(tt.protocol), nil)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewSession(protocol %d) error = %v, wantErr %v", tt.protocol, err, tt.wantErr)
		}
		if !tt.wantErr && s == nil {
			t.Errorf("NewSession(protocol %d) returned nil session", tt.protocol)
		}
	}
}

func TestBrokerURL(t *testing.T) {
	cfg := testConfig(3)
	if got := brokerURL(cfg); got != "tcp://192.168.8.215:1883" {
		t.Errorf("brokerURL() = %q, want tcp://192.168.8.215:1883", got)
	}

	cfg.TLS = true
	cfg.Port = 8883
	if got := brokerURL(cfg); got != "ssl://192.168.8.215:8883" {
		t.Errorf("brokerURL() = %q, want ssl://192.168.8.215:8883", got)
	}
}

func TestV3Session_NotConnectedBeforeConnect(t *testing.T) {
	s := newV3Session(testConfig(3), testLogger())

	if s.Connected() {
		t.Error("Connected() = true before Connect")
	}
	if err := s.Poll(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Poll() = %v, want ErrNotConnected", err)
	}
	if err := s.Publish(context.Background(), "esp32/telemetry", []byte("x"), 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() = %v, want ErrNotConnected", err)
	}
	if err := s.Disconnect(context.Background()); err != nil {
		t.Errorf("Disconnect() = %v, want nil", err)
	}
}

func TestV5Session_DialFailure(t *testing.T) {
	s := newV5Session(testConfig(5), testLogger())
	errRefused := errors.New("connection refused")
	s.dial = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errRefused
	}

	err := s.Connect(context.Background())
	if !errors.Is(err, errRefused) {
		t.Fatalf("Connect() = %v, want wrapped dial error", err)
	}
	if s.Connected() {
		t.Error("Connected() = true after failed dial")
	}
	if err := s.Poll(context.Background()); !errors.Is(err, ErrNotConnected) || !errors.Is(err, errRefused) {
		t.Errorf("Poll() = %v, want ErrNotConnected wrapping dial error", err)
	}
}

// fakeBroker accepts one MQTT v5 connection, acknowledges CONNECT and
// forwards every PUBLISH it reads.
type fakeBroker struct {
	ln        net.Listener
	conns     chan net.Conn
	connects  chan *packets.Connect
	publishes chan *packets.Publish
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	b := &fakeBroker{
		ln:        ln,
		conns:     make(chan net.Conn, 1),
		connects:  make(chan *packets.Connect, 1),
		publishes: make(chan *packets.Publish, 4),
	}
	t.Cleanup(func() { ln.Close() })
	go b.serve()
	return b
}

func (b *fakeBroker) serve() {
	conn, err := b.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	b.conns <- conn

	for {
		cp, err := packets.ReadPacket(conn)
		if err != nil {
			return
		}
		switch p := cp.Content.(type) {
		case *packets.Connect:
			b.connects <- p
			ack := packets.NewControlPacket(packets.CONNACK)
			if _, err := ack.WriteTo(conn); err != nil {
				return
			}
		case *packets.Publish:
			b.publishes <- p
		case *packets.Disconnect:
			return
		}
	}
}

func TestV5Session_ConnectAndPublish(t *testing.T) {
	broker := newFakeBroker(t)

	cfg := testConfig(5)
	s := newV5Session(cfg, testLogger())
	s.dial = func(ctx context.Context, network, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, broker.ln.Addr().String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !s.Connected() {
		t.Fatal("Connected() = false after Connect")
	}
	if err := s.Poll(ctx); err != nil {
		t.Errorf("Poll() = %v, want nil", err)
	}

	select {
	case c := <-broker.connects:
		if c.ClientID != "ESP32Client" {
			t.Errorf("CONNECT client id = %q, want ESP32Client", c.ClientID)
		}
		if c.KeepAlive != 15 {
			t.Errorf("CONNECT keepalive = %d, want 15", c.KeepAlive)
		}
	case <-ctx.Done():
		t.Fatal("broker never saw CONNECT")
	}

	payload := []byte(`{"node":"esp32","anomaly":0.42,"ts":"2025-05-11T20:01:00Z"}`)
	if err := s.Publish(ctx, "esp32/telemetry", payload, 0, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case p := <-broker.publishes:
		if p.Topic != "esp32/telemetry" {
			t.Errorf("PUBLISH topic = %q, want esp32/telemetry", p.Topic)
		}
		if string(p.Payload) != string(payload) {
			t.Errorf("PUBLISH payload = %s, want %s", p.Payload, payload)
		}
	case <-ctx.Done():
		t.Fatal("broker never saw PUBLISH")
	}

	if err := s.Disconnect(ctx); err != nil {
		t.Errorf("Disconnect() = %v", err)
	}
	if s.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
}

// dialer returns a DialFunc that ignores the configured address and
// reaches the fake broker instead.
func (b *fakeBroker) dialer() DialFunc {
	return func(ctx context.Context, network, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, b.ln.Addr().String())
	}
}

func TestV5Session_DroppedByBroker(t *testing.T) {
	broker := newFakeBroker(t)
	s := newV5Session(testConfig(5), testLogger())
	s.dial = broker.dialer()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	(<-broker.conns).Close()

	waitDown(t, s)
	err := s.Poll(ctx)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Poll() = %v, want ErrNotConnected", err)
	}
	if err == ErrNotConnected {
		t.Error("Poll() error carries no cause for the dropped connection")
	}
	if err := s.Publish(ctx, "esp32/telemetry", []byte("x"), 0, false); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Publish() = %v, want ErrNotConnected", err)
	}
	if err := s.Disconnect(ctx); err != nil {
		t.Errorf("Disconnect() after drop = %v, want nil", err)
	}
}
