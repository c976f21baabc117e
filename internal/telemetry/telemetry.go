// Package telemetry defines the message a publisher node sends to the
// broker on every loop iteration.
//
// The message content is a fixed placeholder: it is not derived from
// sensor readings and is identical on every publish.
package telemetry

import (
	"encoding/json"
	"fmt"
)

// DefaultTopic is the topic telemetry is published to unless the
// configuration overrides it.
const DefaultTopic = "esp32/telemetry"

// Fixed field values of the placeholder message.
const (
	MockNode      = "esp32"
	MockAnomaly   = 0.42
	MockTimestamp = "2025-05-11T20:01:00Z"
)

// Message is one telemetry record. Field order is the wire order.
type Message struct {
	Node    string  `json:"node"`
	Anomaly float64 `json:"anomaly"`
	TS      string  `json:"ts"`
}

// Mock returns a fresh copy of the placeholder message.
func Mock() Message {
	return Message{
		Node:    MockNode,
		Anomaly: MockAnomaly,
		TS:      MockTimestamp,
	}
}

// Payload encodes m as compact JSON. Encoding fails only for a
// non-finite Anomaly; the payload of [Mock] always encodes.
func (m Message) Payload() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode telemetry: %w", err)
	}
	return b, nil
}
