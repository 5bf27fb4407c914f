package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/fxamacker/cbor/v2"
)

// CBORSubprotocol is the websocket subprotocol a device offers to receive
// binary CBOR frames instead of JSON text frames.
const CBORSubprotocol = "signage.v1.cbor"

// Codec turns envelopes into frames and back.
type Codec interface {
	Name() string
	// Binary reports whether frames go out as websocket binary messages.
	Binary() bool
	Marshal(env Envelope) ([]byte, error)
	Unmarshal(frame []byte) (Envelope, error)
}

type jsonWire struct {
	Type      MessageType     `json:"type"`
	ClientID  string          `json:"clientId,omitempty"`
	Kind      PayloadKind     `json:"kind,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

type cborWire struct {
	Type      MessageType     `cbor:"type"`
	ClientID  string          `cbor:"clientId,omitempty"`
	Kind      PayloadKind     `cbor:"kind,omitempty"`
	Data      cbor.RawMessage `cbor:"data,omitempty"`
	Timestamp string          `cbor:"timestamp,omitempty"`
}

// JSONCodec is the default text codec. With a validator set, inbound
// frames are checked against the envelope schema before decoding.
type JSONCodec struct {
	validator *Validator
}

func NewJSONCodec(validator *Validator) *JSONCodec {
	return &JSONCodec{validator: validator}
}

func (c *JSONCodec) Name() string { return "json" }
func (c *JSONCodec) Binary() bool { return false }

func (c *JSONCodec) Marshal(env Envelope) ([]byte, error) {
	wire := jsonWire{
		Type:      env.Type,
		ClientID:  env.ClientID,
		Kind:      env.Kind(),
		Timestamp: formatTimestamp(env.Timestamp),
	}
	if env.Data != nil {
		data, err := json.Marshal(env.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", env.Kind(), err)
		}
		wire.Data = data
	}
	return json.Marshal(wire)
}

func (c *JSONCodec) Unmarshal(frame []byte) (Envelope, error) {
	if c.validator != nil {
		if err := c.validator.ValidateEnvelope(frame); err != nil {
			return Envelope{}, err
		}
	}

	var wire jsonWire
	if err := json.Unmarshal(frame, &wire); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", types.ErrMalformedMessage, err)
	}

	return decodeEnvelope(wire.Type, wire.ClientID, wire.Kind, wire.Timestamp, isEmptyJSON(wire.Data),
		func(p Payload) error { return json.Unmarshal(wire.Data, p) })
}

// CBORCodec uses deterministic core encoding. Payload structs share their
// json tags with CBOR.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build cbor decoder: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

func (c *CBORCodec) Name() string { return "cbor" }
func (c *CBORCodec) Binary() bool { return true }

func (c *CBORCodec) Marshal(env Envelope) ([]byte, error) {
	wire := cborWire{
		Type:      env.Type,
		ClientID:  env.ClientID,
		Kind:      env.Kind(),
		Timestamp: formatTimestamp(env.Timestamp),
	}
	if env.Data != nil {
		data, err := c.enc.Marshal(env.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", env.Kind(), err)
		}
		wire.Data = data
	}
	return c.enc.Marshal(wire)
}

func (c *CBORCodec) Unmarshal(frame []byte) (Envelope, error) {
	var wire cborWire
	if err := c.dec.Unmarshal(frame, &wire); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", types.ErrMalformedMessage, err)
	}
	if wire.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", types.ErrMalformedMessage)
	}

	empty := len(wire.Data) == 0 || bytes.Equal(wire.Data, []byte{0xf6})
	return decodeEnvelope(wire.Type, wire.ClientID, wire.Kind, wire.Timestamp, empty,
		func(p Payload) error { return c.dec.Unmarshal(wire.Data, p) })
}

// decodeEnvelope resolves the payload kind (explicit, else implied by the
// message type) and decodes data into that variant. Unknown kinds fall
// back to Raw so the frame still reaches dispatch.
func decodeEnvelope(msgType MessageType, clientID string, kind PayloadKind, ts string, empty bool, decode func(Payload) error) (Envelope, error) {
	env := Envelope{Type: msgType, ClientID: clientID}

	stamp, err := ParseTimestamp(ts)
	if err != nil {
		return Envelope{}, err
	}
	env.Timestamp = stamp

	if empty {
		return env, nil
	}

	if kind == "" {
		kind = msgType.defaultKind()
	}
	target, ok := newPayload(kind)
	if !ok {
		target = &Raw{}
	}
	if err := decode(target); err != nil {
		return Envelope{}, fmt.Errorf("%w: %s payload: %v", types.ErrMalformedMessage, kind, err)
	}

	env.Data = reflect.ValueOf(target).Elem().Interface().(Payload)
	return env, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts RFC 3339 and the zone-less ISO-8601 form many
// device runtimes emit. Zone-less values are read as UTC; an empty
// string yields the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", types.ErrMalformedMessage, s)
}
