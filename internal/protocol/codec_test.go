package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJSONCodec(t *testing.T) *JSONCodec {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err)
	return NewJSONCodec(v)
}

func TestJSONDecodeDeviceRegistration(t *testing.T) {
	codec := newTestJSONCodec(t)

	// Shape sent by the Raspberry Pi client: no kind, zone-less timestamp.
	frame := []byte(`{
		"type": "REGISTER",
		"clientId": "b8:27:eb:00:00:01",
		"data": {"name": "Lobby", "macAddress": "b8:27:eb:00:00:01", "version": "1.0.0", "platform": "Linux"},
		"timestamp": "2025-03-03T10:15:30.123456"
	}`)

	env, err := codec.Unmarshal(frame)
	require.NoError(t, err)

	assert.Equal(t, TypeRegister, env.Type)
	assert.Equal(t, KindRegistration, env.Kind())
	reg, ok := env.Data.(Registration)
	require.True(t, ok, "payload type %T", env.Data)
	assert.Equal(t, "Lobby", reg.Name)
	assert.Equal(t, "Linux", reg.Platform)
	assert.Equal(t, time.Date(2025, 3, 3, 10, 15, 30, 123456000, time.UTC), env.Timestamp)
}

func TestJSONDecodeHeartbeatWithoutData(t *testing.T) {
	codec := newTestJSONCodec(t)

	env, err := codec.Unmarshal([]byte(`{"type":"HEARTBEAT","clientId":"x","timestamp":"2025-03-03T10:15:30Z"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeHeartbeat, env.Type)
	assert.Nil(t, env.Data)
}

func TestJSONExplicitKindOverridesType(t *testing.T) {
	codec := newTestJSONCodec(t)

	env := NewEnvelope(TypeCommand, "c1", CompositionUpdate{
		Command:       "composition_update",
		CompositionID: "comp-1",
		Resolution:    types.Resolution{Width: 1920, Height: 1080},
		AspectRatio:   "16:9",
	})
	frame, err := codec.Marshal(env)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(frame, &wire))
	assert.Equal(t, "composition", wire["kind"])
	assert.Equal(t, "COMMAND", wire["type"])

	decoded, err := codec.Unmarshal(frame)
	require.NoError(t, err)
	update, ok := decoded.Data.(CompositionUpdate)
	require.True(t, ok, "payload type %T", decoded.Data)
	assert.Equal(t, "comp-1", update.CompositionID)
	assert.Equal(t, 1920, update.Resolution.Width)
}

func TestJSONUnknownTypeIsDecodedAsRaw(t *testing.T) {
	codec := newTestJSONCodec(t)

	env, err := codec.Unmarshal([]byte(`{"type":"SELF_DESTRUCT","data":{"in":10}}`))
	require.NoError(t, err)
	assert.False(t, env.Type.Known())

	raw, ok := env.Data.(Raw)
	require.True(t, ok)
	assert.Equal(t, float64(10), raw["in"])
}

func TestJSONMalformedFrames(t *testing.T) {
	codec := newTestJSONCodec(t)

	frames := []string{
		`not json`,
		`{"clientId":"missing-type"}`,
		`{"type":42}`,
		`{"type":"STATUS","data":{"status":7}}`,
		`{"type":"HEARTBEAT","timestamp":"yesterday"}`,
	}
	for _, f := range frames {
		_, err := codec.Unmarshal([]byte(f))
		assert.ErrorIs(t, err, types.ErrMalformedMessage, f)
	}
}

func TestCBORRoundTripEmergency(t *testing.T) {
	codec, err := NewCBORCodec()
	require.NoError(t, err)

	env := NewEnvelope(TypeEmergencyBroadcast, "", EmergencyAlert{
		BroadcastID: "b1",
		Title:       "Fire",
		Message:     "Leave the building",
		Priority:    types.EmergencyCritical,
		Type:        types.EmergencyEvacuation,
		Style:       types.DefaultEmergencyStyle(types.EmergencyEvacuation),
	})

	frame, err := codec.Marshal(env)
	require.NoError(t, err)
	assert.True(t, codec.Binary())

	decoded, err := codec.Unmarshal(frame)
	require.NoError(t, err)
	assert.Equal(t, TypeEmergencyBroadcast, decoded.Type)
	alert, ok := decoded.Data.(EmergencyAlert)
	require.True(t, ok, "payload type %T", decoded.Data)
	assert.Equal(t, types.EmergencyCritical, alert.Priority)
	assert.True(t, alert.Style.Flashing)
	assert.WithinDuration(t, env.Timestamp, decoded.Timestamp, time.Microsecond)
}

func TestCBORRejectsGarbage(t *testing.T) {
	codec, err := NewCBORCodec()
	require.NoError(t, err)

	_, err = codec.Unmarshal([]byte{0xff, 0x00, 0x13})
	assert.ErrorIs(t, err, types.ErrMalformedMessage)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("")
	require.NoError(t, err)
	assert.True(t, ts.IsZero())

	ts, err = ParseTimestamp("2025-03-03T10:15:30+02:00")
	require.NoError(t, err)
	assert.Equal(t, 8, ts.UTC().Hour())
}
