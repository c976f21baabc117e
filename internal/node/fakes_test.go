package node

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/edgeids/sensornode/internal/mqtt"
	"github.com/edgeids/sensornode/internal/sensor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// journal records the order of calls across fakes.
type journal struct {
	mu     sync.Mutex
	events []string
}

func (j *journal) add(e string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.events = append(j.events, e)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.events))
	copy(out, j.events)
	return out
}

// fakeStation reports connected from the connectedOn-th status poll on.
type fakeStation struct {
	connectedOn int
	beginErr    error

	begins int
	polls  int
	ssid   string
}

func (s *fakeStation) Begin(ctx context.Context, ssid, passphrase string) error {
	s.begins++
	s.ssid = ssid
	return s.beginErr
}

func (s *fakeStation) Connected(ctx context.Context) bool {
	s.polls++
	return s.polls >= s.connectedOn
}

var errRefused = errors.New("connection refused")

// fakeSession connects on the connectOn-th Connect call. connectOn <= 0
// means never.
type fakeSession struct {
	connectOn  int
	connected  bool
	publishErr error
	log        *journal

	connects    int
	polls       int
	disconnects int
	published   []published
}

type published struct {
	topic   string
	payload string
	qos     byte
	retain  bool
}

func (s *fakeSession) Connect(ctx context.Context) error {
	s.connects++
	s.log.add("connect")
	if s.connectOn > 0 && s.connects >= s.connectOn {
		s.connected = true
		return nil
	}
	return errRefused
}

func (s *fakeSession) Connected() bool { return s.connected }

func (s *fakeSession) Poll(ctx context.Context) error {
	s.polls++
	s.log.add("poll")
	if !s.connected {
		return mqtt.ErrNotConnected
	}
	return nil
}

func (s *fakeSession) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	s.log.add("publish")
	if s.publishErr != nil {
		return s.publishErr
	}
	if !s.connected {
		return mqtt.ErrNotConnected
	}
	s.published = append(s.published, published{topic, string(payload), qos, retain})
	return nil
}

func (s *fakeSession) Disconnect(ctx context.Context) error {
	s.disconnects++
	s.connected = false
	return nil
}

// fakeSensor counts inits and reads.
type fakeSensor struct {
	initErr error
	readErr error
	log     *journal

	inits int
	reads int
}

func (s *fakeSensor) Init(ctx context.Context) error {
	s.inits++
	s.log.add("init")
	return s.initErr
}

func (s *fakeSensor) Read(ctx context.Context) (sensor.Reading, error) {
	s.reads++
	s.log.add("read")
	if s.readErr != nil {
		return sensor.Reading{}, s.readErr
	}
	return sensor.Reading{Time: time.Now(), Values: map[string]float64{"v": 1}}, nil
}
