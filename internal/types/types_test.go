package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	allowed := [][2]ClientStatus{
		{StatusUnknown, StatusOnline},
		{StatusOnline, StatusOffline},
		{StatusOffline, StatusOnline},
		{StatusInstalling, StatusOnline},
		{StatusError, StatusOnline},
		{StatusUnknown, StatusInstalling},
		{StatusOffline, StatusError},
		{StatusOnline, StatusInstalling},
	}
	for _, tr := range allowed {
		assert.NoError(t, ValidateTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	rejected := [][2]ClientStatus{
		{StatusUnknown, StatusOffline},
		{StatusInstalling, StatusOffline},
		{StatusError, StatusOffline},
		{StatusOnline, StatusUnknown},
	}
	for _, tr := range rejected {
		assert.ErrorIs(t, ValidateTransition(tr[0], tr[1]), ErrInvalidTransition, "%s -> %s", tr[0], tr[1])
	}
}

func TestParseClientStatus(t *testing.T) {
	st, err := ParseClientStatus("installing")
	require.NoError(t, err)
	assert.Equal(t, StatusInstalling, st)

	_, err = ParseClientStatus("sleeping")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAspectRatio(t *testing.T) {
	cases := map[Resolution]string{
		{Width: 1920, Height: 1080}: "16:9",
		{Width: 1080, Height: 1920}: "9:16",
		{Width: 2560, Height: 1080}: "64:27",
		{Width: 1080, Height: 1080}: "1:1",
		{Width: 0, Height: 1080}:    "0:0",
	}
	for res, want := range cases {
		assert.Equal(t, want, res.AspectRatio(), "%dx%d", res.Width, res.Height)
	}
}

func TestCompositionPaintOrder(t *testing.T) {
	c := DisplayComposition{Placements: []Placement{
		{ID: "top", ZIndex: 5, Visible: true},
		{ID: "hidden", ZIndex: 1, Visible: false},
		{ID: "bottom", ZIndex: 0, Visible: true},
		{ID: "middle", ZIndex: 2, Visible: true},
	}}

	order := c.PaintOrder()
	require.Len(t, order, 3)
	assert.Equal(t, "bottom", order[0].ID)
	assert.Equal(t, "middle", order[1].ID)
	assert.Equal(t, "top", order[2].ID)
	assert.Equal(t, 6, c.NextZIndex())
	assert.Equal(t, 0, DisplayComposition{}.NextZIndex())
}

func TestBackgroundValidate(t *testing.T) {
	assert.NoError(t, Background{Type: BackgroundNone}.Validate())
	assert.NoError(t, Background{Type: BackgroundColor, Color: "#000"}.Validate())
	assert.NoError(t, Background{Type: BackgroundImage, ImageID: "img", ScaleMode: ScaleFit}.Validate())
	assert.ErrorIs(t, Background{Type: BackgroundColor}.Validate(), ErrInvalidInput)
	assert.ErrorIs(t, Background{Type: BackgroundImage, ImageURL: "x", ScaleMode: "zoom"}.Validate(), ErrInvalidInput)
}

func TestOverlaySettingsFollowType(t *testing.T) {
	raw := `{"name":"clock","type":"datetime","settings":{"format":"HH:mm"}}`

	var o Overlay
	require.NoError(t, json.Unmarshal([]byte(raw), &o))
	require.NoError(t, o.Validate())

	settings, ok := o.Settings.(DateTimeSettings)
	require.True(t, ok, "settings type %T", o.Settings)
	assert.Equal(t, "HH:mm", settings.Format)
	assert.Equal(t, DefaultOverlayStyle(), o.Style)
	assert.True(t, o.Visible)
}

func TestOverlayValidateRejectsMismatchedSettings(t *testing.T) {
	o := Overlay{Name: "x", Type: OverlayTicker, Settings: TextSettings{Text: "hi"}}
	assert.ErrorIs(t, o.Validate(), ErrInvalidInput)

	o.Settings = nil
	assert.ErrorIs(t, o.Validate(), ErrInvalidInput)
}

func TestOverlayUnknownType(t *testing.T) {
	var o Overlay
	err := json.Unmarshal([]byte(`{"type":"hologram"}`), &o)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBroadcastState(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	b := EmergencyBroadcast{}
	assert.Equal(t, BroadcastCreated, b.State(now))

	b.Active = true
	assert.Equal(t, BroadcastActive, b.State(now))

	b.ExpiresAt = &future
	assert.Equal(t, BroadcastActive, b.State(now))

	b.ExpiresAt = &past
	assert.Equal(t, BroadcastExpired, b.State(now))

	b.Active = false
	b.ClearedAt = &now
	assert.Equal(t, BroadcastCleared, b.State(now))
}
