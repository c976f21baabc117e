package telemetry

import (
	"bytes"
	"math"
	"testing"
)

const wantPayload = `{"node":"esp32","anomaly":0.42,"ts":"2025-05-11T20:01:00Z"}`

func TestMockPayload_Exact(t *testing.T) {
	got, err := Mock().Payload()
	if err != nil {
		t.Fatalf("Mock().Payload() error = %v", err)
	}
	if string(got) != wantPayload {
		t.Errorf("Mock().Payload() = %s, want %s", got, wantPayload)
	}
}

func TestMockPayload_Idempotent(t *testing.T) {
	first, _ := Mock().Payload()
	for i := 0; i < 10; i++ {
		if got, _ := Mock().Payload(); !bytes.Equal(got, first) {
			t.Fatalf("call %d payload = %s, want %s", i, got, first)
		}
	}
}

func TestPayload_NonFiniteAnomaly(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		m := Mock()
		m.Anomaly = v

		got, err := m.Payload()
		if err == nil {
			t.Errorf("Payload() with anomaly %v = %s, want error", v, got)
		}
		if got != nil {
			t.Errorf("Payload() with anomaly %v returned %d bytes alongside error", v, len(got))
		}
	}
}

func TestMock_FreshValue(t *testing.T) {
	m := Mock()
	m.Anomaly = 1

	if Mock().Anomaly != MockAnomaly {
		t.Error("mutating a returned Message changed later Mock() results")
	}
}

func TestDefaultTopic(t *testing.T) {
	if DefaultTopic != "esp32/telemetry" {
		t.Errorf("DefaultTopic = %q, want esp32/telemetry", DefaultTopic)
	}
}
