package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/protocol"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	defaultMaxMessageSize = 64 * 1024

	// Send channel buffer size
	sendBufferSize = 256
)

var errConnectionClosed = errors.New("connection closed")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	Subprotocols:    []string{protocol.CBORSubprotocol},
	CheckOrigin: func(r *http.Request) bool {
		// Devices are not browsers and send no Origin.
		return true
	},
}

// outbound is one queued frame. writePump drops it unwritten once ctx is
// done, so a sender that gave up never has its frame arrive later.
type outbound struct {
	ctx         context.Context
	messageType int
	frame       []byte
	result      chan error
}

// Client is one device connection. All writes go through writePump so
// frames leave in the order Send was called.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	codec  protocol.Codec
	send   chan outbound
	done   chan struct{}
	logger *zap.Logger

	closeOnce  sync.Once
	remoteAddr string

	// Set by readPump on REGISTER; only readPump touches it.
	id string
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	var codec protocol.Codec = hub.jsonCodec
	if conn.Subprotocol() == protocol.CBORSubprotocol {
		codec = hub.cborCodec
	}

	return &Client{
		hub:        hub,
		conn:       conn,
		codec:      codec,
		send:       make(chan outbound, sendBufferSize),
		done:       make(chan struct{}),
		logger:     hub.logger,
		remoteAddr: conn.RemoteAddr().String(),
	}
}

func (c *Client) RemoteAddr() string { return c.remoteAddr }

// Send encodes env and waits until writePump has written it or ctx ends.
func (c *Client) Send(ctx context.Context, env protocol.Envelope) error {
	frame, err := c.codec.Marshal(env)
	if err != nil {
		return err
	}

	msgType := websocket.TextMessage
	if c.codec.Binary() {
		msgType = websocket.BinaryMessage
	}
	ob := outbound{ctx: ctx, messageType: msgType, frame: frame, result: make(chan error, 1)}

	select {
	case c.send <- ob:
	case <-c.done:
		return errConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ob.result:
		return err
	case <-c.done:
		return errConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close sends a close frame and tears the connection down. readPump sees
// the closed socket and runs the disconnect path.
func (c *Client) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		err = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		close(c.done)
		c.conn.Close()
	})
	return err
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer c.disconnect()

	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var codec protocol.Codec = c.hub.jsonCodec
		if msgType == websocket.BinaryMessage {
			codec = c.hub.cborCodec
		}

		env, err := codec.Unmarshal(frame)
		if err != nil {
			c.logger.Warn("Dropping malformed message",
				zap.String("client_id", c.id),
				zap.String("remote_addr", c.remoteAddr),
				zap.Error(err))
			continue
		}

		c.dispatch(env)
	}
}

// writePump handles writing messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case ob := <-c.send:
			if err := ob.ctx.Err(); err != nil {
				ob.result <- err
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(ob.messageType, ob.frame)
			ob.result <- err
			if err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	if !env.Type.Known() {
		c.logger.Warn("Dropping message with unknown type",
			zap.String("type", string(env.Type)),
			zap.String("remote_addr", c.remoteAddr))
		return
	}

	if env.Type == protocol.TypeRegister {
		c.handleRegister(env)
		return
	}

	if c.id == "" {
		c.logger.Debug("Ignoring message from unregistered connection",
			zap.String("type", string(env.Type)),
			zap.String("remote_addr", c.remoteAddr))
		return
	}

	monitor := c.hub.monitor

	switch env.Type {
	case protocol.TypeHeartbeat:
		if monitor != nil {
			if err := monitor.RecordHeartbeat(c.id); err != nil {
				c.logger.Warn("Heartbeat not recorded", zap.String("client_id", c.id), zap.Error(err))
			}
		}

	case protocol.TypeStatus:
		c.handleStatus(env)

	case protocol.TypeError:
		message := "device reported an error"
		if report, ok := env.Data.(protocol.ErrorReport); ok && report.Message != "" {
			message = report.Message
		}
		c.logger.Warn("Client reported error",
			zap.String("client_id", c.id),
			zap.String("message", message))
		if monitor != nil {
			if err := monitor.ReportError(c.id, message); err != nil {
				c.logger.Warn("Error status not applied", zap.String("client_id", c.id), zap.Error(err))
			}
		}

	case protocol.TypeClientList:
		c.reply(protocol.NewClientList(c.hub.List()))

	case protocol.TypeContentList:
		c.reply(protocol.NewContentList(c.hub.ListContent()))

	default:
		c.logger.Debug("Ignoring server-bound message type",
			zap.String("client_id", c.id),
			zap.String("type", string(env.Type)))
	}
}

func (c *Client) handleRegister(env protocol.Envelope) {
	if c.id != "" {
		// Re-register on the same socket keeps the assigned id.
		c.reply(protocol.NewRegisterAck(c.id))
		return
	}

	reg, _ := env.Data.(protocol.Registration)
	now := c.hub.clock.Now()

	client := types.Client{
		ID:          uuid.NewString(),
		Name:        reg.Name,
		IPAddress:   hostOf(c.remoteAddr),
		MacAddress:  reg.MacAddress,
		Version:     reg.Version,
		Platform:    reg.Platform,
		Status:      types.StatusUnknown,
		ConnectedAt: now,
		LastSeen:    now,
		Metadata:    make(map[string]string, len(reg.Metadata)+2),
	}
	if client.Name == "" {
		client.Name = "Unknown"
	}
	for k, v := range reg.Metadata {
		client.Metadata[k] = v
	}
	if reg.PlatformVersion != "" {
		client.Metadata["platform_version"] = reg.PlatformVersion
	}
	// The device's own id is informational; the server id is authoritative.
	if reported := firstNonEmpty(reg.ClientID, env.ClientID); reported != "" {
		client.Metadata["reported_id"] = reported
	}

	if err := c.hub.Register(client, c); err != nil {
		c.logger.Error("Failed to register client", zap.Error(err))
		c.reply(protocol.NewErrorMessage("", "REGISTER_FAILED", err.Error()))
		return
	}
	c.id = client.ID

	if c.hub.monitor != nil {
		if err := c.hub.monitor.RecordRegistration(c.id); err != nil {
			c.logger.Warn("Registration status not applied", zap.String("client_id", c.id), zap.Error(err))
		}
	}

	c.reply(protocol.NewRegisterAck(c.id))
}

func (c *Client) handleStatus(env protocol.Envelope) {
	report, ok := env.Data.(protocol.StatusReport)
	if !ok {
		c.logger.Debug("STATUS without status payload", zap.String("client_id", c.id))
		return
	}

	_, err := c.hub.Update(c.id, func(cl *types.Client) error {
		cl.ReportedStatus = report.Status
		if cl.Metadata == nil {
			cl.Metadata = make(map[string]string)
		}
		if report.ContentID != "" {
			cl.Metadata["current_content_id"] = report.ContentID
		}
		if report.Message != "" {
			cl.Metadata["status_message"] = report.Message
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("Status report not stored", zap.String("client_id", c.id), zap.Error(err))
	}
}

func (c *Client) reply(env protocol.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), c.hub.cfg.SendTimeout)
	defer cancel()

	if err := c.Send(ctx, env); err != nil {
		c.logger.Warn("Reply not delivered",
			zap.String("type", string(env.Type)),
			zap.String("remote_addr", c.remoteAddr),
			zap.Error(err))
	}
}

// disconnect runs once the read side is gone.
func (c *Client) disconnect() {
	c.shutdown()

	if c.id == "" {
		c.hub.Untrack(c)
		return
	}

	if m := c.hub.monitor; m != nil {
		current, err := c.hub.Get(c.id)
		if err == nil && current.Status == types.StatusOnline {
			if _, err := m.SetStatus(c.id, types.StatusOffline, "connection closed"); err != nil {
				c.logger.Debug("Offline transition skipped", zap.String("client_id", c.id), zap.Error(err))
			}
		}
	}

	c.hub.Unregister(c.id)

	if m := c.hub.monitor; m != nil {
		m.RecordDisconnect(c.id)
	}
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ServeWs handles WebSocket upgrade requests
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	if h.Closing() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := newClient(h, conn)
	if !h.Track(client) {
		// Shutdown started while the upgrade was in flight.
		client.Close(websocket.CloseGoingAway, "server shutting down")
		return
	}

	h.logger.Debug("Device connection accepted",
		zap.String("remote_addr", client.remoteAddr),
		zap.String("codec", client.codec.Name()))

	go client.writePump()
	go client.readPump()
}
