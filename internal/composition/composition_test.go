package composition

import (
	"context"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/clock"
	"github.com/KevinKickass/OpenSignageCore/internal/overlay"
	"github.com/KevinKickass/OpenSignageCore/internal/protocol"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeDispatcher struct {
	clientIDs []string
	broadcast bool
	sent      []protocol.Envelope
}

func (d *fakeDispatcher) SendMany(ctx context.Context, clientIDs []string, env protocol.Envelope) []protocol.Delivery {
	d.clientIDs = clientIDs
	d.sent = append(d.sent, env)
	out := make([]protocol.Delivery, len(clientIDs))
	for i, id := range clientIDs {
		out[i] = protocol.Delivery{ClientID: id, Status: protocol.Sent}
	}
	return out
}

func (d *fakeDispatcher) Broadcast(ctx context.Context, env protocol.Envelope) []protocol.Delivery {
	d.broadcast = true
	d.sent = append(d.sent, env)
	return []protocol.Delivery{}
}

type fakeGroups map[string][]string

func (g fakeGroups) Members(groupID string) ([]string, error) {
	ids, ok := g[groupID]
	if !ok {
		return nil, types.ErrNotFound
	}
	return ids, nil
}

type fixture struct {
	svc      *Service
	overlays *overlay.Service
	dispatch *fakeDispatcher
	clock    *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	clk := clock.Fake(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC))
	d := &fakeDispatcher{}

	renderer := overlay.NewRenderer(overlay.RendererConfig{}, clk, logger)
	overlays := overlay.NewService(renderer, d, clk, logger)
	groups := fakeGroups{"lobby": {"c1", "c2"}}

	return &fixture{
		svc:      NewService(overlays, d, groups, clk, logger),
		overlays: overlays,
		dispatch: d,
		clock:    clk,
	}
}

func (f *fixture) textOverlay(t *testing.T, text string) types.Overlay {
	t.Helper()
	o, err := f.overlays.Create(types.Overlay{
		Name:     text,
		Type:     types.OverlayText,
		Style:    types.DefaultOverlayStyle(),
		Visible:  true,
		Settings: types.TextSettings{Text: text},
	})
	require.NoError(t, err)
	return o
}

func lastUpdate(t *testing.T, d *fakeDispatcher) protocol.CompositionUpdate {
	t.Helper()
	require.NotEmpty(t, d.sent)
	env := d.sent[len(d.sent)-1]
	require.Equal(t, protocol.TypeCommand, env.Type)
	update, ok := env.Data.(protocol.CompositionUpdate)
	require.True(t, ok, "payload %T", env.Data)
	return update
}

func TestCreateAppliesDefaults(t *testing.T) {
	f := newFixture(t)

	c, err := f.svc.Create(types.DisplayComposition{Name: " Lobby "})
	require.NoError(t, err)
	assert.Equal(t, "Lobby", c.Name)
	assert.Equal(t, 1920, c.Resolution.Width)
	assert.Equal(t, types.BackgroundColor, c.Background.Type)
	assert.NotNil(t, c.Placements)

	_, err = f.svc.Create(types.DisplayComposition{Name: "bad", Resolution: types.Resolution{Width: 100}})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = f.svc.Create(types.DisplayComposition{Name: "dangling", Placements: []types.Placement{{OverlayID: "missing"}}})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestAddPlacementStacksOnTop(t *testing.T) {
	f := newFixture(t)
	a, b := f.textOverlay(t, "a"), f.textOverlay(t, "b")

	c, err := f.svc.Create(types.DisplayComposition{Name: "scene"})
	require.NoError(t, err)

	p1, err := f.svc.AddPlacement(c.ID, PlacementRequest{OverlayID: a.ID, Width: 100, Height: 50})
	require.NoError(t, err)
	p2, err := f.svc.AddPlacement(c.ID, PlacementRequest{OverlayID: b.ID})
	require.NoError(t, err)
	p3, err := f.svc.AddPlacement(c.ID, PlacementRequest{OverlayID: a.ID})
	require.NoError(t, err)

	assert.Equal(t, 0, p1.ZIndex)
	assert.Equal(t, 1, p2.ZIndex)
	assert.Equal(t, 2, p3.ZIndex)
	assert.True(t, p1.Visible)
	assert.NotEqual(t, p1.ID, p3.ID, "the same overlay can be placed twice")

	_, err = f.svc.AddPlacement(c.ID, PlacementRequest{OverlayID: "missing"})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
	_, err = f.svc.AddPlacement("nope", PlacementRequest{OverlayID: a.ID})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPlacementIDsAreUnique(t *testing.T) {
	f := newFixture(t)
	o := f.textOverlay(t, "a")

	_, err := f.svc.Create(types.DisplayComposition{Name: "dup", Placements: []types.Placement{
		{ID: "p1", OverlayID: o.ID},
		{ID: "p1", OverlayID: o.ID},
	}})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = f.svc.Create(types.DisplayComposition{Name: "same", Placements: []types.Placement{
		{ID: o.ID, OverlayID: o.ID},
	}})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	c, err := f.svc.Create(types.DisplayComposition{Name: "ok", Placements: []types.Placement{
		{OverlayID: o.ID},
		{OverlayID: o.ID},
	}})
	require.NoError(t, err)
	require.Len(t, c.Placements, 2)
	assert.NotEqual(t, c.Placements[0].ID, c.Placements[1].ID)
	assert.NotEqual(t, o.ID, c.Placements[0].ID)

	_, err = f.svc.Update(c.ID, types.DisplayComposition{Name: "ok", Placements: []types.Placement{
		{ID: "p1", OverlayID: o.ID},
		{ID: "p1", OverlayID: o.ID},
	}})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	got, err := f.svc.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Placements, got.Placements, "rejected update leaves the composition as it was")
}

func TestMutationsStampModifiedAt(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.Create(types.DisplayComposition{Name: "scene"})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	updated, err := f.svc.SetResolution(c.ID, types.Resolution{Width: 1080, Height: 1920})
	require.NoError(t, err)
	assert.Equal(t, c.CreatedAt.Add(time.Minute), updated.ModifiedAt)
	assert.Equal(t, "9:16", updated.Resolution.AspectRatio())

	_, err = f.svc.SetBackground(c.ID, types.Background{Type: types.BackgroundImage})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	f.clock.Advance(time.Minute)
	_, err = f.svc.Publish(context.Background(), c.ID)
	require.NoError(t, err)

	got, err := f.svc.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.ModifiedAt, got.ModifiedAt, "publishing does not modify")
}

func TestPublishSendsVisiblePlacementsInPaintOrder(t *testing.T) {
	f := newFixture(t)
	back, middle, hidden := f.textOverlay(t, "back"), f.textOverlay(t, "middle"), f.textOverlay(t, "hidden")

	c, err := f.svc.Create(types.DisplayComposition{Name: "scene"})
	require.NoError(t, err)

	pBack, err := f.svc.AddPlacement(c.ID, PlacementRequest{OverlayID: back.ID, X: 10, Y: 20, Width: 300, Height: 40})
	require.NoError(t, err)
	pMiddle, err := f.svc.AddPlacement(c.ID, PlacementRequest{OverlayID: middle.ID})
	require.NoError(t, err)
	invisible := false
	_, err = f.svc.AddPlacement(c.ID, PlacementRequest{OverlayID: hidden.ID, Visible: &invisible})
	require.NoError(t, err)

	// Push the first placement to the top.
	top := 10
	_, err = f.svc.UpdatePlacement(c.ID, pBack.ID, PlacementRequest{X: 10, Y: 20, Width: 300, Height: 40, ZIndex: &top})
	require.NoError(t, err)

	deliveries, err := f.svc.PublishTo(context.Background(), c.ID, []string{"c1"})
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)

	update := lastUpdate(t, f.dispatch)
	assert.Equal(t, "composition_update", update.Command)
	assert.Equal(t, "16:9", update.AspectRatio)
	require.Len(t, update.Overlays, 2)
	assert.Equal(t, pMiddle.ID, update.Overlays[0].PlacementID)
	assert.Equal(t, pBack.ID, update.Overlays[1].PlacementID)
	assert.Equal(t, 10, update.Overlays[1].ZIndex)
	assert.Equal(t, 300, update.Overlays[1].Position.Width)
	assert.Contains(t, update.Overlays[1].HTML, "back")
}

func TestPublishTargets(t *testing.T) {
	f := newFixture(t)
	c, err := f.svc.Create(types.DisplayComposition{Name: "scene"})
	require.NoError(t, err)

	_, err = f.svc.PublishToGroup(context.Background(), c.ID, "lobby")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, f.dispatch.clientIDs)

	_, err = f.svc.PublishToGroup(context.Background(), c.ID, "attic")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = f.svc.Publish(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, f.dispatch.broadcast)

	_, err = f.svc.Publish(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRemovePlacementAndPreview(t *testing.T) {
	f := newFixture(t)
	o := f.textOverlay(t, "hello")
	c, err := f.svc.Create(types.DisplayComposition{Name: "scene"})
	require.NoError(t, err)

	p, err := f.svc.AddPlacement(c.ID, PlacementRequest{OverlayID: o.ID, X: 5, Y: 6, Width: 70, Height: 80})
	require.NoError(t, err)

	html, err := f.svc.Preview(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Contains(t, html, "width:1920px;height:1080px;background-color:#000000;")
	assert.Contains(t, html, "left:5px;top:6px;width:70px;height:80px;z-index:0;")
	assert.Contains(t, html, "hello")

	updated, err := f.svc.RemovePlacement(c.ID, p.ID)
	require.NoError(t, err)
	assert.Empty(t, updated.Placements)

	_, err = f.svc.RemovePlacement(c.ID, p.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestTemplates(t *testing.T) {
	tpls, err := Templates()
	require.NoError(t, err)

	names := make([]string, len(tpls))
	for i, tpl := range tpls {
		names[i] = tpl.Name
	}
	assert.Equal(t, []string{"Blank Canvas", "Welcome Screen", "Menu Board", "Info Display", "Event Display", "Social Wall"}, names)
	assert.Len(t, Presets(), 8)
}

func TestInstantiateTemplate(t *testing.T) {
	f := newFixture(t)

	c, err := f.svc.Instantiate("info-display", "")
	require.NoError(t, err)
	assert.Equal(t, "Info Display", c.Name)
	assert.Equal(t, "#263238", c.Background.Color)
	require.Len(t, c.Placements, 2)

	ticker, err := f.overlays.Get(c.Placements[0].OverlayID)
	require.NoError(t, err)
	assert.Equal(t, types.OverlayTicker, ticker.Type)
	assert.Equal(t, "#1565C0", ticker.Style.BackgroundColor)

	timeOverlay, err := f.overlays.Get(c.Placements[1].OverlayID)
	require.NoError(t, err)
	assert.Equal(t, "HH:mm:ss", timeOverlay.Settings.(types.DateTimeSettings).Format)

	menu, err := f.svc.Instantiate("menu-board", "Cafeteria")
	require.NoError(t, err)
	assert.Equal(t, "Cafeteria", menu.Name)
	assert.True(t, menu.Resolution.IsPortrait())

	_, err = f.svc.Instantiate("nope", "")
	assert.ErrorIs(t, err, types.ErrNotFound)
}
