package content

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/clock"
	"github.com/KevinKickass/OpenSignageCore/internal/protocol"
	"github.com/KevinKickass/OpenSignageCore/internal/storage"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sentEnvelope struct {
	clientIDs []string
	env       protocol.Envelope
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []sentEnvelope
}

func (f *fakeDispatcher) SendMany(ctx context.Context, clientIDs []string, env protocol.Envelope) []protocol.Delivery {
	f.mu.Lock()
	f.sent = append(f.sent, sentEnvelope{clientIDs: clientIDs, env: env})
	f.mu.Unlock()

	out := make([]protocol.Delivery, len(clientIDs))
	for i, id := range clientIDs {
		out[i] = protocol.Delivery{ClientID: id, Status: protocol.Sent}
	}
	return out
}

func (f *fakeDispatcher) Broadcast(ctx context.Context, env protocol.Envelope) []protocol.Delivery {
	return f.SendMany(ctx, nil, env)
}

// Monday 3 March 2025, 10:00 UTC
var monday10 = time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store      *storage.MemoryStore
	dispatcher *fakeDispatcher
	clock      *clock.FakeClock
	library    *Library
	playlists  *Playlists
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      storage.NewMemoryStore(),
		dispatcher: &fakeDispatcher{},
		clock:      clock.Fake(monday10),
	}
	logger := zaptest.NewLogger(t)
	f.library = NewLibrary(f.store, f.dispatcher, f.clock, logger)
	f.playlists = NewPlaylists(f.library, f.dispatcher, f.clock, logger)
	return f
}

func (f *fixture) addImage(t *testing.T, name string) types.ContentItem {
	t.Helper()
	item, err := f.library.Create(context.Background(), CreateRequest{Name: name, MimeType: "image/png"}, []byte("png:"+name))
	require.NoError(t, err)
	return item
}

func TestChecksumIsBlake3(t *testing.T) {
	assert.Equal(t, "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262", Checksum(nil))
}

func TestCreateStoresBytesAndDefaults(t *testing.T) {
	f := newFixture(t)

	item := f.addImage(t, "logo")
	assert.Equal(t, types.ContentImage, item.Type)
	assert.Equal(t, types.DefaultContentDuration, item.DurationSeconds)
	assert.Equal(t, int64(len("png:logo")), item.Size)
	assert.Equal(t, Checksum([]byte("png:logo")), item.Checksum)

	data, err := f.store.Get(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, "png:logo", string(data))
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.library.Create(ctx, CreateRequest{Name: "x", MimeType: "application/octet-stream"}, []byte("x"))
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = f.library.Create(ctx, CreateRequest{Name: "x", Type: "hologram"}, []byte("x"))
	assert.ErrorIs(t, err, types.ErrInvalidInput)

	_, err = f.library.Create(ctx, CreateRequest{Name: "x", Type: types.ContentURL}, nil)
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestReplaceAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	item := f.addImage(t, "menu")

	f.clock.Advance(time.Minute)
	replaced, err := f.library.Replace(ctx, item.ID, []byte("new bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, Checksum([]byte("new bytes")), replaced.Checksum)
	assert.Equal(t, "image/jpeg", replaced.MimeType)
	assert.True(t, replaced.UpdatedAt.After(item.UpdatedAt))

	require.NoError(t, f.library.Delete(ctx, item.ID))
	_, err = f.store.Get(ctx, item.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.ErrorIs(t, f.library.Delete(ctx, item.ID), types.ErrNotFound)
}

func TestPushSendsBytesToTargets(t *testing.T) {
	f := newFixture(t)
	item := f.addImage(t, "promo")

	deliveries, err := f.library.Push(context.Background(), item.ID, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, deliveries, 2)

	require.Len(t, f.dispatcher.sent, 1)
	env := f.dispatcher.sent[0].env
	assert.Equal(t, protocol.TypeContentUpdate, env.Type)
	payload, ok := env.Data.(protocol.ContentDelivery)
	require.True(t, ok)
	assert.Equal(t, "png:promo", string(payload.Data))
	assert.Equal(t, item.Checksum, payload.Checksum)

	_, err = f.library.Push(context.Background(), "missing", []string{"a"})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestPlaylistRejectsUnknownContent(t *testing.T) {
	f := newFixture(t)

	_, err := f.playlists.Create(PlaylistRequest{
		Name:  "Morning",
		Items: []types.PlaylistItem{{ContentID: "ghost"}},
	})
	assert.ErrorIs(t, err, types.ErrInvalidInput)
}

func TestPlaylistItemDefaultsAndOrder(t *testing.T) {
	f := newFixture(t)
	a, b := f.addImage(t, "a"), f.addImage(t, "b")

	pl, err := f.playlists.Create(PlaylistRequest{
		Name: "Loop",
		Items: []types.PlaylistItem{
			{ContentID: a.ID, Order: 2},
			{ContentID: b.ID, Order: 1, Transition: types.TransitionZoom},
		},
	})
	require.NoError(t, err)
	require.Len(t, pl.Items, 2)
	assert.Equal(t, b.ID, pl.Items[0].ContentID)
	assert.Equal(t, types.TransitionZoom, pl.Items[0].Transition)
	assert.Equal(t, types.TransitionFade, pl.Items[1].Transition)
	assert.Equal(t, types.DefaultTransitionMillis, pl.Items[1].TransitionMillis)
	assert.True(t, pl.Active)
}

func businessHours(priority types.SchedulePriority) *types.Schedule {
	start, end := types.NewTimeOfDay(9, 0), types.NewTimeOfDay(17, 0)
	return &types.Schedule{
		StartTime:  &start,
		EndTime:    &end,
		ActiveDays: types.Weekdays{time.Monday},
		Priority:   priority,
	}
}

func TestPlaylistActiveFollowsClock(t *testing.T) {
	f := newFixture(t)
	pl, err := f.playlists.Create(PlaylistRequest{Name: "Office", Schedule: businessHours(types.PriorityNormal)})
	require.NoError(t, err)

	active, err := f.playlists.IsActive(pl.ID)
	require.NoError(t, err)
	assert.True(t, active)

	f.clock.Set(monday10.Add(24 * time.Hour))
	active, err = f.playlists.IsActive(pl.ID)
	require.NoError(t, err)
	assert.False(t, active, "Tuesday is outside the schedule")
}

func TestPlaylistScheduleIsCopied(t *testing.T) {
	f := newFixture(t)

	sched := businessHours(types.PriorityNormal)
	pl, err := f.playlists.Create(PlaylistRequest{Name: "Office", Schedule: sched})
	require.NoError(t, err)

	sched.ActiveDays[0] = time.Tuesday
	*sched.StartTime = types.NewTimeOfDay(11, 0)

	active, err := f.playlists.IsActive(pl.ID)
	require.NoError(t, err)
	assert.True(t, active, "caller edits after Create do not reach the stored schedule")

	update := businessHours(types.PriorityHigh)
	_, err = f.playlists.Update(pl.ID, PlaylistUpdate{Schedule: update})
	require.NoError(t, err)
	update.ActiveDays[0] = time.Sunday

	got, err := f.playlists.Get(pl.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Schedule)
	assert.Equal(t, types.Weekdays{time.Monday}, got.Schedule.ActiveDays)
	assert.Equal(t, types.PriorityHigh, got.Schedule.Priority)
}

func TestAssignAndResolveClientPlaylist(t *testing.T) {
	f := newFixture(t)
	item := f.addImage(t, "x")
	items := []types.PlaylistItem{{ContentID: item.ID}}

	office, err := f.playlists.Create(PlaylistRequest{Name: "Office", Items: items, Schedule: businessHours(types.PriorityLow)})
	require.NoError(t, err)
	urgent, err := f.playlists.Create(PlaylistRequest{Name: "Urgent", Items: items, Schedule: &types.Schedule{Priority: types.PriorityHigh}})
	require.NoError(t, err)

	deliveries, err := f.playlists.AssignToClients(context.Background(), office.ID, []string{"screen-1"})
	require.NoError(t, err)
	assert.Len(t, deliveries, 1)

	env := f.dispatcher.sent[0].env
	assert.Equal(t, protocol.TypePlaylistUpdate, env.Type)
	assignment := env.Data.(protocol.PlaylistAssignment)
	assert.Equal(t, office.ID, assignment.Playlist.ID)
	require.Len(t, assignment.Content, 1)
	assert.Equal(t, item.ID, assignment.Content[0].ID)

	pl, ok := f.playlists.ActiveForClient("screen-1")
	require.True(t, ok)
	assert.Equal(t, office.ID, pl.ID, "explicit assignment wins while active")

	pl, ok = f.playlists.ActiveForClient("screen-2")
	require.True(t, ok)
	assert.Equal(t, urgent.ID, pl.ID, "unassigned clients get the highest priority")

	f.clock.Set(monday10.Add(10 * time.Hour))
	pl, ok = f.playlists.ActiveForClient("screen-1")
	require.True(t, ok)
	assert.Equal(t, urgent.ID, pl.ID, "inactive assignment falls back")

	require.NoError(t, f.playlists.Delete(urgent.ID))
	_, ok = f.playlists.ActiveForClient("screen-1")
	assert.False(t, ok)
}
