package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/health"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MessageType defines the type of an admin event-stream message
type MessageType string

const (
	MessageTypeClientStatus       MessageType = "client_status"
	MessageTypeClientDisconnected MessageType = "client_disconnected"
	MessageTypeSnapshot           MessageType = "snapshot"
)

// Message is what management consoles receive on the event stream. It is
// not part of the device protocol.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

func messageFromEvent(e health.Event) Message {
	msgType := MessageTypeClientStatus
	if e.Type == health.EventDisconnected {
		msgType = MessageTypeClientDisconnected
	}
	return Message{Type: msgType, Timestamp: e.At, Data: e}
}

// EventStream relays Health Monitor events to admin websocket watchers.
type EventStream struct {
	hub    *Hub
	logger *zap.Logger

	mu       sync.Mutex
	watchers map[*websocket.Conn]chan Message
}

func NewEventStream(hub *Hub, logger *zap.Logger) *EventStream {
	return &EventStream{
		hub:      hub,
		logger:   logger,
		watchers: make(map[*websocket.Conn]chan Message),
	}
}

// Run forwards events from sub until it closes.
func (s *EventStream) Run(sub *health.Subscription) {
	for e := range sub.C {
		s.publish(messageFromEvent(e))
	}
	s.closeAll()
}

func (s *EventStream) publish(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for conn, ch := range s.watchers {
		select {
		case ch <- msg:
		default:
			// Watcher buffer full - drop the slow watcher
			close(ch)
			delete(s.watchers, conn)
			s.logger.Warn("Event watcher too slow, disconnecting",
				zap.String("remote_addr", conn.RemoteAddr().String()))
		}
	}
}

// WatcherCount returns the number of connected admin watchers
func (s *EventStream) WatcherCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

// ServeWatcher upgrades an admin request and streams events to it. The
// first message is a snapshot of the registry.
func (s *EventStream) ServeWatcher(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Event stream upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	ch := make(chan Message, sendBufferSize)
	ch <- NewMessage(MessageTypeSnapshot, s.hub.List())

	s.mu.Lock()
	s.watchers[conn] = ch
	s.mu.Unlock()

	s.logger.Info("Event watcher connected", zap.String("remote_addr", conn.RemoteAddr().String()))

	go s.drain(conn)
	go s.write(conn, ch)
}

// drain discards watcher input and notices when the watcher goes away.
func (s *EventStream) drain(conn *websocket.Conn) {
	defer s.remove(conn)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (s *EventStream) write(conn *websocket.Conn, ch <-chan Message) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-ch:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *EventStream) remove(conn *websocket.Conn) {
	s.mu.Lock()
	if ch, ok := s.watchers[conn]; ok {
		close(ch)
		delete(s.watchers, conn)
	}
	s.mu.Unlock()
	conn.Close()
}

func (s *EventStream) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.watchers {
		close(ch)
		delete(s.watchers, conn)
	}
}
