package websocket

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/clock"
	"github.com/KevinKickass/OpenSignageCore/internal/health"
	"github.com/KevinKickass/OpenSignageCore/internal/protocol"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sender is the outbound half of one device connection. Send must be safe
// for concurrent use and deliver frames in call order.
type Sender interface {
	Send(ctx context.Context, env protocol.Envelope) error
	Close(code int, reason string) error
	RemoteAddr() string
}

// ContentLister answers CONTENT_LIST requests from devices.
type ContentLister interface {
	ListContent() []types.ContentItem
}

type HubConfig struct {
	SendTimeout    time.Duration
	FanoutLimit    int
	MaxMessageSize int64
}

type entry struct {
	client types.Client
	sender Sender
}

// Hub is the connection registry. It maps server-assigned client ids to
// their live connection and record, and fans envelopes out to them.
type Hub struct {
	// Registered clients keyed by id
	clients map[string]*entry

	// Accepted connections that have not sent REGISTER yet
	pending map[Sender]struct{}

	// Set by CloseAll; no new connections are accepted afterwards
	closing bool

	mu sync.RWMutex

	cfg    HubConfig
	clock  clock.Clock
	logger *zap.Logger

	jsonCodec *protocol.JSONCodec
	cborCodec *protocol.CBORCodec

	monitor       *health.Monitor
	contentLister ContentLister
}

func NewHub(cfg HubConfig, clk clock.Clock, logger *zap.Logger) (*Hub, error) {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 5 * time.Second
	}
	if cfg.FanoutLimit <= 0 {
		cfg.FanoutLimit = 32
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	validator, err := protocol.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create envelope validator: %w", err)
	}
	cborCodec, err := protocol.NewCBORCodec()
	if err != nil {
		return nil, err
	}

	return &Hub{
		clients:   make(map[string]*entry),
		pending:   make(map[Sender]struct{}),
		cfg:       cfg,
		clock:     clk,
		logger:    logger,
		jsonCodec: protocol.NewJSONCodec(validator),
		cborCodec: cborCodec,
	}, nil
}

// SetMonitor wires the status state machine driven by device traffic.
func (h *Hub) SetMonitor(m *health.Monitor) {
	h.monitor = m
}

// SetContentLister sets the content library used for CONTENT_LIST replies
func (h *Hub) SetContentLister(l ContentLister) {
	h.contentLister = l
}

// Track remembers a connection that is open but not yet registered so
// shutdown can close it too. It reports false once CloseAll has started;
// the caller must close the connection itself.
func (h *Hub) Track(s Sender) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.pending[s] = struct{}{}
	return true
}

// Closing reports whether CloseAll has been called.
func (h *Hub) Closing() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closing
}

func (h *Hub) Untrack(s Sender) {
	h.mu.Lock()
	delete(h.pending, s)
	h.mu.Unlock()
}

// Register binds client.ID to sender. The id must not be in use.
func (h *Hub) Register(client types.Client, sender Sender) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.ID == "" {
		return fmt.Errorf("%w: empty client id", types.ErrInvalidInput)
	}
	if _, exists := h.clients[client.ID]; exists {
		return fmt.Errorf("%w: client %s already registered", types.ErrInvalidInput, client.ID)
	}

	delete(h.pending, sender)
	h.clients[client.ID] = &entry{client: client.Clone(), sender: sender}

	h.logger.Info("Client registered",
		zap.String("client_id", client.ID),
		zap.String("name", client.Name),
		zap.String("remote_addr", sender.RemoteAddr()),
		zap.Int("total_clients", len(h.clients)))

	return nil
}

// Unregister removes the client and returns its last record.
func (h *Hub) Unregister(clientID string) (types.Client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.clients[clientID]
	if !ok {
		return types.Client{}, false
	}
	delete(h.clients, clientID)

	h.logger.Info("Client unregistered",
		zap.String("client_id", clientID),
		zap.Int("total_clients", len(h.clients)))

	return e.client, true
}

// Update mutates the live record under the registry lock. If fn fails the
// record is left as it was.
func (h *Hub) Update(clientID string, fn func(c *types.Client) error) (types.Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.clients[clientID]
	if !ok {
		return types.Client{}, fmt.Errorf("client %s: %w", clientID, types.ErrNotFound)
	}

	draft := e.client.Clone()
	if err := fn(&draft); err != nil {
		return types.Client{}, err
	}
	e.client = draft
	return draft.Clone(), nil
}

func (h *Hub) Get(clientID string) (types.Client, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	e, ok := h.clients[clientID]
	if !ok {
		return types.Client{}, fmt.Errorf("client %s: %w", clientID, types.ErrNotFound)
	}
	return e.client.Clone(), nil
}

// List returns a snapshot ordered by connect time, then id.
func (h *Hub) List() []types.Client {
	h.mu.RLock()
	out := make([]types.Client, 0, len(h.clients))
	for _, e := range h.clients {
		out = append(out, e.client.Clone())
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// GetClientCount returns the number of registered clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ListContent proxies the configured content lister.
func (h *Hub) ListContent() []types.ContentItem {
	if h.contentLister == nil {
		return []types.ContentItem{}
	}
	return h.contentLister.ListContent()
}

// SendTo delivers env to one client. It returns ErrNotFound for an unknown
// id and ErrSendFailed when the connection rejects or times out.
func (h *Hub) SendTo(ctx context.Context, clientID string, env protocol.Envelope) error {
	h.mu.RLock()
	e, ok := h.clients[clientID]
	var sender Sender
	if ok {
		sender = e.sender
	}
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("client %s: %w", clientID, types.ErrNotFound)
	}
	return h.deliver(ctx, clientID, sender, env)
}

// Broadcast sends env to every registered client. One slow or broken
// connection never holds up the others.
func (h *Hub) Broadcast(ctx context.Context, env protocol.Envelope) []protocol.Delivery {
	h.mu.RLock()
	targets := make([]target, 0, len(h.clients))
	for id, e := range h.clients {
		targets = append(targets, target{id: id, sender: e.sender})
	}
	h.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	return h.fanOut(ctx, targets, env)
}

// SendMany sends env to each listed id. Unknown ids are reported as
// NotFound; duplicates are delivered once.
func (h *Hub) SendMany(ctx context.Context, clientIDs []string, env protocol.Envelope) []protocol.Delivery {
	seen := make(map[string]struct{}, len(clientIDs))
	targets := make([]target, 0, len(clientIDs))

	h.mu.RLock()
	for _, id := range clientIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		t := target{id: id}
		if e, ok := h.clients[id]; ok {
			t.sender = e.sender
		}
		targets = append(targets, t)
	}
	h.mu.RUnlock()

	return h.fanOut(ctx, targets, env)
}

type target struct {
	id     string
	sender Sender
}

func (h *Hub) fanOut(ctx context.Context, targets []target, env protocol.Envelope) []protocol.Delivery {
	results := make([]protocol.Delivery, len(targets))

	// Plain group: a failed send must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(h.cfg.FanoutLimit)

	for i, t := range targets {
		if t.sender == nil {
			results[i] = protocol.Delivery{ClientID: t.id, Status: protocol.NotFound}
			continue
		}
		g.Go(func() error {
			d := protocol.Delivery{ClientID: t.id, Status: protocol.Sent}
			if err := h.deliver(ctx, t.id, t.sender, env); err != nil {
				d.Status = protocol.SendFailed
				d.Error = err.Error()
			}
			results[i] = d
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (h *Hub) deliver(ctx context.Context, clientID string, sender Sender, env protocol.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.SendTimeout)
	defer cancel()

	if env.ClientID == "" {
		env.ClientID = clientID
	}
	if err := sender.Send(ctx, env); err != nil {
		h.logger.Warn("Send to client failed",
			zap.String("client_id", clientID),
			zap.String("message_type", string(env.Type)),
			zap.Error(err))
		if errors.Is(err, types.ErrSendFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", types.ErrSendFailed, err)
	}
	return nil
}

// CloseAll sends a close frame with code to every open connection,
// registered or not, and waits until each close has been attempted. The
// hub accepts no new connections afterwards.
func (h *Hub) CloseAll(code int, reason string) {
	h.mu.Lock()
	h.closing = true
	senders := make([]Sender, 0, len(h.clients)+len(h.pending))
	for _, e := range h.clients {
		senders = append(senders, e.sender)
	}
	for s := range h.pending {
		senders = append(senders, s)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range senders {
		wg.Add(1)
		go func(s Sender) {
			defer wg.Done()
			if err := s.Close(code, reason); err != nil {
				h.logger.Debug("Close frame not delivered",
					zap.String("remote_addr", s.RemoteAddr()),
					zap.Error(err))
			}
		}(s)
	}
	wg.Wait()

	h.logger.Info("Closed device connections", zap.Int("count", len(senders)))
}
