package node

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/edgeids/sensornode/internal/connwatch"
	"github.com/edgeids/sensornode/internal/metrics"
)

func newBootstrap(st *fakeStation, sess *fakeSession, rec *connwatch.Recorder, out *bytes.Buffer) *Bootstrap {
	return &Bootstrap{
		Station:      st,
		Session:      sess,
		SSID:         "lab",
		Passphrase:   "secret",
		WiFiPolicy:   connwatch.Forever{Interval: 500 * time.Millisecond, Sleeper: rec, Logger: testLogger()},
		BrokerPolicy: connwatch.Forever{Interval: 500 * time.Millisecond, Sleeper: rec, Logger: testLogger()},
		Console:      NewConsole(out),
		Logger:       testLogger(),
	}
}

func TestBootstrap_WaitsForWiFi(t *testing.T) {
	for _, n := range []int{1, 2, 5, 40} {
		st := &fakeStation{connectedOn: n}
		sess := &fakeSession{connectOn: 1}
		rec := &connwatch.Recorder{}
		var out bytes.Buffer

		if err := newBootstrap(st, sess, rec, &out).Run(context.Background()); err != nil {
			t.Fatalf("N=%d: Run() error = %v", n, err)
		}
		if st.begins != 1 {
			t.Errorf("N=%d: Begin called %d times, want 1", n, st.begins)
		}
		if st.polls != n {
			t.Errorf("N=%d: status polled %d times, want exactly %d", n, st.polls, n)
		}
		if st.ssid != "lab" {
			t.Errorf("N=%d: Begin ssid = %q, want lab", n, st.ssid)
		}
		// The first n-1 sleeps belong to the Wi-Fi phase.
		delays := rec.Delays()
		if len(delays) != n-1 {
			t.Errorf("N=%d: %d sleeps, want %d", n, len(delays), n-1)
		}
		for i, d := range delays {
			if d != 500*time.Millisecond {
				t.Errorf("N=%d: delay[%d] = %v, want 500ms", n, i, d)
			}
		}
		progress := strings.SplitN(out.String(), "\n", 2)[0]
		if dots := strings.Count(progress, "."); dots != n-1 {
			t.Errorf("N=%d: console printed %d progress dots, want %d", n, dots, n-1)
		}
	}
}

func TestBootstrap_WiFiBeforeBroker(t *testing.T) {
	log := &journal{}
	st := &fakeStation{connectedOn: 3}
	sess := &fakeSession{connectOn: 1, log: log}
	rec := &connwatch.Recorder{AfterSleep: func(int) {
		// No broker activity may happen while the link is down.
		if len(log.list()) != 0 {
			t.Errorf("broker touched before wifi connected: %v", log.list())
		}
	}}

	if err := newBootstrap(st, sess, rec, &bytes.Buffer{}).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := log.list(); len(got) != 1 || got[0] != "connect" {
		t.Errorf("broker calls = %v, want [connect]", got)
	}
}

func TestBootstrap_RetriesBrokerConnect(t *testing.T) {
	for _, m := range []int{1, 3, 25} {
		st := &fakeStation{connectedOn: 1}
		sess := &fakeSession{connectOn: m}
		rec := &connwatch.Recorder{}

		if err := newBootstrap(st, sess, rec, &bytes.Buffer{}).Run(context.Background()); err != nil {
			t.Fatalf("M=%d: Run() error = %v", m, err)
		}
		if sess.connects != m {
			t.Errorf("M=%d: Connect called %d times, want %d", m, sess.connects, m)
		}
		if !sess.connected {
			t.Errorf("M=%d: session not connected after bootstrap", m)
		}
	}
}

func TestBootstrap_SkipsConnectWhenAlreadyConnected(t *testing.T) {
	st := &fakeStation{connectedOn: 1}
	sess := &fakeSession{connectOn: 1, connected: true}

	if err := newBootstrap(st, sess, &connwatch.Recorder{}, &bytes.Buffer{}).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if sess.connects != 0 {
		t.Errorf("Connect called %d times, want 0", sess.connects)
	}
}

func TestBootstrap_ConsoleOutput(t *testing.T) {
	var out bytes.Buffer
	st := &fakeStation{connectedOn: 3}
	sess := &fakeSession{connectOn: 2}

	if err := newBootstrap(st, sess, &connwatch.Recorder{}, &out).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := "..\nWiFi connected\nMQTT connected.\n"
	if out.String() != want {
		t.Errorf("console = %q, want %q", out.String(), want)
	}
}

func TestBootstrap_BeginErrorKeepsPolling(t *testing.T) {
	st := &fakeStation{connectedOn: 2, beginErr: errors.New("nmcli: no such network")}
	sess := &fakeSession{connectOn: 1}

	if err := newBootstrap(st, sess, &connwatch.Recorder{}, &bytes.Buffer{}).Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if st.polls != 2 {
		t.Errorf("polls = %d, want 2", st.polls)
	}
}

func TestBootstrap_UnboundedStallsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := &fakeStation{connectedOn: 1}
	sess := &fakeSession{} // never connects
	rec := &connwatch.Recorder{AfterSleep: func(n int) {
		if n == 200 {
			cancel()
		}
	}}

	err := newBootstrap(st, sess, rec, &bytes.Buffer{}).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if sess.connects != 200 {
		t.Errorf("Connect called %d times, want 200", sess.connects)
	}
}

func TestBootstrap_BoundedPolicyReportsTarget(t *testing.T) {
	tests := []struct {
		name       string
		station    *fakeStation
		session    *fakeSession
		wantTarget string
	}{
		{"wifi", &fakeStation{connectedOn: 1000}, &fakeSession{connectOn: 1}, "wifi"},
		{"mqtt", &fakeStation{connectedOn: 1}, &fakeSession{}, "mqtt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &connwatch.Recorder{}
			policy := connwatch.Backoff{Config: connwatch.BackoffConfig{MaxRetries: 4}, Sleeper: rec, Logger: testLogger()}
			m := metrics.New("Sensor-1")

			b := newBootstrap(tt.station, tt.session, rec, &bytes.Buffer{})
			b.WiFiPolicy = policy
			b.BrokerPolicy = policy
			b.Metrics = m

			err := b.Run(context.Background())
			var ce *ConnectError
			if !errors.As(err, &ce) {
				t.Fatalf("Run() error = %v, want *ConnectError", err)
			}
			if ce.Target != tt.wantTarget {
				t.Errorf("ConnectError.Target = %q, want %q", ce.Target, tt.wantTarget)
			}
			if !errors.Is(err, connwatch.ErrExhausted) {
				t.Errorf("Run() error = %v, want ErrExhausted", err)
			}
		})
	}
}
