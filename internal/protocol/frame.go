package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Wildcard is the channel name that receives every inbound frame.
const Wildcard = "*"

// Control frame types.
const (
	TypePing = "ping"
	TypePong = "pong"
)

// ErrMalformedFrame is returned for payloads that are not JSON objects or lack a channel.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is a single message in either direction.
type Frame struct {
	Channel   string          `json:"channel,omitempty"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// IsPing reports whether f is a heartbeat probe.
func (f Frame) IsPing() bool { return f.Type == TypePing }

// IsPong reports whether f acknowledges a heartbeat probe.
func (f Frame) IsPong() bool { return f.Type == TypePong }

// IsControl reports whether f belongs to the heartbeat protocol rather than a channel.
func (f Frame) IsControl() bool { return f.IsPing() || f.IsPong() }

// DecodeData unmarshals the frame payload into v.
func (f Frame) DecodeData(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: empty data", ErrMalformedFrame)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: data: %v", ErrMalformedFrame, err)
	}
	return nil
}

// Time parses the optional RFC 3339 timestamp. Zero is returned when absent or invalid.
func (f Frame) Time() time.Time {
	if f.Timestamp == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, f.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Decode parses a raw socket payload.
// Control frames are accepted without a channel; every other frame must name one.
// A non-object "data" field is rejected.
func Decode(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if f.IsControl() {
		return f, nil
	}

	if f.Channel == "" {
		return Frame{}, fmt.Errorf("%w: missing channel", ErrMalformedFrame)
	}

	data := bytes.TrimSpace(f.Data)
	if len(data) > 0 && !bytes.Equal(data, []byte("null")) && data[0] != '{' {
		return Frame{}, fmt.Errorf("%w: data is not an object", ErrMalformedFrame)
	}

	return f, nil
}

// Encode serializes a frame for the wire.
func Encode(f Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// New builds an outbound frame, marshaling data and stamping the current time.
func New(channel, typ string, data any) (Frame, error) {
	f := Frame{
		Channel:   channel,
		Type:      typ,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Frame{}, fmt.Errorf("encode data: %w", err)
		}
		f.Data = raw
	}
	return f, nil
}

// Ping returns the heartbeat probe frame.
func Ping() Frame {
	return Frame{Type: TypePing}
}
