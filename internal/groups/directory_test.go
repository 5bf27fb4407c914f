package groups

import (
	"context"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/clock"
	"github.com/KevinKickass/OpenSignageCore/internal/protocol"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingAssigner struct {
	playlistID string
	clientIDs  []string
}

func (r *recordingAssigner) AssignToClients(ctx context.Context, playlistID string, clientIDs []string) ([]protocol.Delivery, error) {
	r.playlistID = playlistID
	r.clientIDs = clientIDs
	out := make([]protocol.Delivery, len(clientIDs))
	for i, id := range clientIDs {
		out[i] = protocol.Delivery{ClientID: id, Status: protocol.Sent}
	}
	return out, nil
}

func (r *recordingAssigner) Push(ctx context.Context, contentID string, clientIDs []string) ([]protocol.Delivery, error) {
	return r.AssignToClients(ctx, contentID, clientIDs)
}

func newTestDirectory(t *testing.T) (*Directory, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC))
	return NewDirectory(clk, zaptest.NewLogger(t)), clk
}

func TestCreateRequiresName(t *testing.T) {
	d, _ := newTestDirectory(t)

	_, err := d.Create(CreateRequest{Name: "  "})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	g, err := d.Create(CreateRequest{Name: "Lobby", ClientIDs: []string{"a", "b", "a"}})
	require.NoError(t, err)
	assert.NotEmpty(t, g.ID)
	assert.Equal(t, []string{"a", "b"}, g.ClientIDs)
}

func TestAddClientIsIdempotent(t *testing.T) {
	d, clk := newTestDirectory(t)
	g, err := d.Create(CreateRequest{Name: "Lobby"})
	require.NoError(t, err)

	clk.Advance(time.Minute)
	first, err := d.AddClient(g.ID, "c1")
	require.NoError(t, err)

	clk.Advance(time.Minute)
	second, err := d.AddClient(g.ID, "c1")
	require.NoError(t, err)

	assert.Equal(t, []string{"c1"}, second.ClientIDs)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt, "no-op add must not touch UpdatedAt")

	_, err = d.AddClient("missing", "c1")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRemoveClientIsIdempotent(t *testing.T) {
	d, _ := newTestDirectory(t)
	g, err := d.Create(CreateRequest{Name: "Lobby", ClientIDs: []string{"c1", "c2"}})
	require.NoError(t, err)

	g, err = d.RemoveClient(g.ID, "c1")
	require.NoError(t, err)
	g, err = d.RemoveClient(g.ID, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c2"}, g.ClientIDs)
}

func TestGroupsForAndMembersOf(t *testing.T) {
	d, _ := newTestDirectory(t)
	lobby, _ := d.Create(CreateRequest{Name: "Lobby", ClientIDs: []string{"a", "b"}})
	cafe, _ := d.Create(CreateRequest{Name: "Cafe", ClientIDs: []string{"b", "c"}})

	names := []string{}
	for _, g := range d.GroupsFor("b") {
		names = append(names, g.Name)
	}
	assert.Equal(t, []string{"Cafe", "Lobby"}, names)

	assert.Equal(t, []string{"a", "b", "c"}, d.MembersOf([]string{lobby.ID, cafe.ID, "ghost"}))
}

func TestUpdateAndDelete(t *testing.T) {
	d, _ := newTestDirectory(t)
	g, _ := d.Create(CreateRequest{Name: "Lobby"})

	name := "Foyer"
	updated, err := d.Update(g.ID, UpdateRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Foyer", updated.Name)

	empty := ""
	_, err = d.Update(g.ID, UpdateRequest{Name: &empty})
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	require.NoError(t, d.Delete(g.ID))
	assert.ErrorIs(t, d.Delete(g.ID), types.ErrNotFound)
}

func TestAssignPlaylistSetsDefaultAndSendsToMembers(t *testing.T) {
	d, _ := newTestDirectory(t)
	assigner := &recordingAssigner{}
	d.SetDistribution(assigner, assigner)

	g, _ := d.Create(CreateRequest{Name: "Lobby", ClientIDs: []string{"a", "b"}})

	deliveries, err := d.AssignPlaylist(context.Background(), g.ID, "p1")
	require.NoError(t, err)
	assert.Len(t, deliveries, 2)
	assert.Equal(t, "p1", assigner.playlistID)
	assert.Equal(t, []string{"a", "b"}, assigner.clientIDs)

	g, err = d.Get(g.ID)
	require.NoError(t, err)
	assert.Equal(t, "p1", g.DefaultPlaylistID)

	_, err = d.PushContent(context.Background(), g.ID, "content-1")
	require.NoError(t, err)
	assert.Equal(t, "content-1", assigner.playlistID)
}
