package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/health"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return doneToken{err: p.err}
}

func (p *fakePublisher) messages() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.msgs...)
}

func TestTopics(t *testing.T) {
	b := NewBridge(&fakePublisher{}, "signage/", 1, zaptest.NewLogger(t))

	assert.Equal(t, "signage/clients/c1/status", b.Topic(health.Event{Type: health.EventStatusChanged, ClientID: "c1"}))
	assert.Equal(t, "signage/clients/c1/disconnected", b.Topic(health.Event{Type: health.EventDisconnected, ClientID: "c1"}))
}

func TestRunPublishesEvents(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBridge(pub, "signage", 1, zaptest.NewLogger(t))

	events := make(chan health.Event, 2)
	events <- health.Event{Type: health.EventStatusChanged, ClientID: "c1", Previous: types.StatusUnknown, Current: types.StatusOnline}
	events <- health.Event{Type: health.EventDisconnected, ClientID: "c1"}
	close(events)

	b.Run(context.Background(), events)

	msgs := pub.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "signage/clients/c1/status", msgs[0].topic)
	assert.True(t, msgs[0].retained)
	assert.Equal(t, byte(1), msgs[0].qos)
	assert.False(t, msgs[1].retained)

	var e health.Event
	require.NoError(t, json.Unmarshal(msgs[0].payload, &e))
	assert.Equal(t, types.StatusOnline, e.Current)
}

func TestPublishErrorDoesNotStopRun(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	b := NewBridge(pub, "signage", 0, zaptest.NewLogger(t))

	assert.Error(t, b.Publish(health.Event{Type: health.EventDisconnected, ClientID: "c1"}))

	events := make(chan health.Event, 2)
	events <- health.Event{Type: health.EventDisconnected, ClientID: "a"}
	events <- health.Event{Type: health.EventDisconnected, ClientID: "b"}
	close(events)
	b.Run(context.Background(), events)

	assert.Len(t, pub.messages(), 3)
}

func TestRunStopsOnCancel(t *testing.T) {
	b := NewBridge(&fakePublisher{}, "signage", 0, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		b.Run(ctx, make(chan health.Event))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
