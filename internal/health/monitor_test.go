package health

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/clock"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memRegistry struct {
	mu      sync.Mutex
	clients map[string]*types.Client
}

func newMemRegistry(clients ...types.Client) *memRegistry {
	r := &memRegistry{clients: make(map[string]*types.Client)}
	for _, c := range clients {
		c := c
		r.clients[c.ID] = &c
	}
	return r
}

func (r *memRegistry) Update(id string, fn func(*types.Client) error) (types.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	if !ok {
		return types.Client{}, fmt.Errorf("client %s: %w", id, types.ErrNotFound)
	}
	if err := fn(c); err != nil {
		return types.Client{}, err
	}
	return *c, nil
}

func (r *memRegistry) List() []types.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, *c)
	}
	return out
}

func (r *memRegistry) get(id string) types.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.clients[id]
}

var epoch = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

func newTestMonitor(t *testing.T, reg *memRegistry) (*Monitor, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(epoch)
	m := NewMonitor(reg, clk, 90*time.Second, 30*time.Second, zaptest.NewLogger(t))
	t.Cleanup(m.Stop)
	return m, clk
}

func nextEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case e := <-sub.C:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestRegistrationEmitsUnknownToOnline(t *testing.T) {
	reg := newMemRegistry(types.Client{ID: "a", Status: types.StatusUnknown})
	m, _ := newTestMonitor(t, reg)
	sub := m.Subscribe()

	require.NoError(t, m.RecordRegistration("a"))

	e := nextEvent(t, sub)
	assert.Equal(t, EventStatusChanged, e.Type)
	assert.Equal(t, types.StatusUnknown, e.Previous)
	assert.Equal(t, types.StatusOnline, e.Current)
	assert.Equal(t, epoch, reg.get("a").LastSeen)
}

func TestHeartbeatRevivesOfflineClient(t *testing.T) {
	reg := newMemRegistry(types.Client{ID: "a", Status: types.StatusOffline})
	m, clk := newTestMonitor(t, reg)
	sub := m.Subscribe()

	clk.Advance(time.Minute)
	require.NoError(t, m.RecordHeartbeat("a"))

	e := nextEvent(t, sub)
	assert.Equal(t, types.StatusOffline, e.Previous)
	assert.Equal(t, types.StatusOnline, e.Current)
	assert.Equal(t, epoch.Add(time.Minute), reg.get("a").LastSeen)
}

func TestSameStatusEmitsNothing(t *testing.T) {
	reg := newMemRegistry(types.Client{ID: "a", Status: types.StatusOnline})
	m, _ := newTestMonitor(t, reg)
	sub := m.Subscribe()

	require.NoError(t, m.RecordHeartbeat("a"))
	changed, err := m.SetStatus("a", types.StatusOnline, "admin")
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = m.SetStatus("a", types.StatusInstalling, "admin")
	require.NoError(t, err)
	assert.True(t, changed)

	// The first event observed must be the real change.
	e := nextEvent(t, sub)
	assert.Equal(t, types.StatusInstalling, e.Current)
}

func TestSetStatusRejectsIllegalTransition(t *testing.T) {
	reg := newMemRegistry(types.Client{ID: "a", Status: types.StatusInstalling})
	m, _ := newTestMonitor(t, reg)

	_, err := m.SetStatus("a", types.StatusOffline, "admin")
	assert.ErrorIs(t, err, types.ErrInvalidTransition)
	assert.Equal(t, types.StatusInstalling, reg.get("a").Status)

	_, err = m.SetStatus("ghost", types.StatusError, "admin")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestReportErrorMovesToError(t *testing.T) {
	reg := newMemRegistry(types.Client{ID: "a", Status: types.StatusOnline})
	m, _ := newTestMonitor(t, reg)

	require.NoError(t, m.ReportError("a", "player crashed"))
	c := reg.get("a")
	assert.Equal(t, types.StatusError, c.Status)
	assert.Equal(t, "player crashed", c.LastError)
}

func TestStaleClientsAndSweep(t *testing.T) {
	reg := newMemRegistry(
		types.Client{ID: "fresh", Status: types.StatusOnline, LastSeen: epoch.Add(-30 * time.Second)},
		types.Client{ID: "stale", Status: types.StatusOnline, LastSeen: epoch.Add(-2 * time.Minute)},
		types.Client{ID: "installing", Status: types.StatusInstalling, LastSeen: epoch.Add(-5 * time.Minute)},
	)
	m, _ := newTestMonitor(t, reg)
	sub := m.Subscribe()

	stale := m.StaleClients(90 * time.Second)
	ids := make([]string, 0, len(stale))
	for _, c := range stale {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{"stale", "installing"}, ids)

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, types.StatusOffline, reg.get("stale").Status)
	assert.Equal(t, types.StatusOnline, reg.get("fresh").Status)
	assert.Equal(t, types.StatusInstalling, reg.get("installing").Status)

	e := nextEvent(t, sub)
	assert.Equal(t, "stale", e.ClientID)
	assert.Equal(t, "heartbeat timeout", e.Reason)

	assert.Equal(t, 0, m.Sweep(), "second sweep must not re-emit")
}

func TestSweepLoopRunsOnTicker(t *testing.T) {
	reg := newMemRegistry(types.Client{ID: "a", Status: types.StatusOnline, LastSeen: epoch})
	m, clk := newTestMonitor(t, reg)
	sub := m.Subscribe()

	require.NoError(t, m.Start())

	// Ticker was registered in Start; the client goes stale after 90s and
	// the sweep fires every 30s.
	for i := 0; i < 4; i++ {
		clk.Advance(30 * time.Second)
	}

	e := nextEvent(t, sub)
	assert.Equal(t, types.StatusOffline, e.Current)

	m.Stop()
	_, open := <-sub.C
	assert.False(t, open, "subscription should close when the monitor stops")
}

func TestDisconnectEvent(t *testing.T) {
	m, _ := newTestMonitor(t, newMemRegistry())
	sub := m.Subscribe()

	m.RecordDisconnect("gone")
	e := nextEvent(t, sub)
	assert.Equal(t, EventDisconnected, e.Type)
	assert.Equal(t, "gone", e.ClientID)
}

func TestBusDeliversToEverySubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	a, b := bus.Subscribe(), bus.Subscribe()
	for i := 0; i < 100; i++ {
		bus.Publish(Event{Type: EventDisconnected, ClientID: fmt.Sprint(i)})
	}

	for _, sub := range []*Subscription{a, b} {
		for i := 0; i < 100; i++ {
			assert.Equal(t, fmt.Sprint(i), nextEvent(t, sub).ClientID)
		}
	}

	bus.Unsubscribe(a)
	_, open := <-a.C
	assert.False(t, open)
}
