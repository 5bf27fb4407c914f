package health

import (
	"sync"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/types"
)

type EventType string

const (
	EventStatusChanged EventType = "status_changed"
	EventDisconnected  EventType = "disconnected"
)

// Event is a client lifecycle notification. Subscribers may see the same
// logical change more than once and must treat events as idempotent.
type Event struct {
	Type     EventType          `json:"type"`
	ClientID string             `json:"clientId"`
	Previous types.ClientStatus `json:"previous,omitempty"`
	Current  types.ClientStatus `json:"current,omitempty"`
	Reason   string             `json:"reason,omitempty"`
	At       time.Time          `json:"at"`
}

// Subscription receives every event published after Subscribe. Its queue
// is unbounded so a slow consumer never blocks the publisher.
type Subscription struct {
	C <-chan Event

	ch     chan Event
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newSubscription() *Subscription {
	ch := make(chan Event)
	s := &Subscription{
		C:      ch,
		ch:     ch,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *Subscription) push(e Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) pump() {
	defer close(s.ch)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		e := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- e:
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) close() {
	s.once.Do(func() { close(s.done) })
}

// Bus fans events out to any number of anonymous subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[*Subscription]struct{})}
}

func (b *Bus) Subscribe() *Subscription {
	s := newSubscription()

	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()

	return s
}

// Unsubscribe stops delivery and closes s.C.
func (b *Bus) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()

	s.close()
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subscribers {
		s.push(e)
	}
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for s := range subs {
		s.close()
	}
}
