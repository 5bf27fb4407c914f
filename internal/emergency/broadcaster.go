package emergency

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/clock"
	"github.com/KevinKickass/OpenSignageCore/internal/protocol"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dispatcher is the registry's outbound surface.
type Dispatcher interface {
	SendMany(ctx context.Context, clientIDs []string, env protocol.Envelope) []protocol.Delivery
	Broadcast(ctx context.Context, env protocol.Envelope) []protocol.Delivery
}

// GroupResolver expands group ids into client ids.
type GroupResolver interface {
	Members(groupID string) ([]string, error)
	MembersOf(groupIDs []string) []string
}

// Broadcaster pushes full-screen alerts that override whatever a client
// is showing. Expiry is evaluated against the clock whenever a broadcast
// is read.
type Broadcaster struct {
	mu         sync.RWMutex
	broadcasts map[string]*types.EmergencyBroadcast

	dispatcher Dispatcher
	groups     GroupResolver
	clock      clock.Clock
	logger     *zap.Logger
}

func NewBroadcaster(dispatcher Dispatcher, groups GroupResolver, clk clock.Clock, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		broadcasts: make(map[string]*types.EmergencyBroadcast),
		dispatcher: dispatcher,
		groups:     groups,
		clock:      clk,
		logger:     logger,
	}
}

type CreateRequest struct {
	Title           string                  `json:"title"`
	Message         string                  `json:"message"`
	Priority        types.EmergencyPriority `json:"priority"`
	Type            types.EmergencyType     `json:"type"`
	Style           *types.EmergencyStyle   `json:"style"`
	TargetClientIDs []string                `json:"targetClientIds"`
	TargetGroupIDs  []string                `json:"targetGroupIds"`
	ExpiresAt       *time.Time              `json:"expiresAt"`
	CreatedBy       string                  `json:"createdBy"`
}

// UpdateRequest changes only the fields that are set. Target slices
// replace the stored ones when non-nil.
type UpdateRequest struct {
	Title           *string                  `json:"title"`
	Message         *string                  `json:"message"`
	Priority        *types.EmergencyPriority `json:"priority"`
	Type            *types.EmergencyType     `json:"type"`
	Style           *types.EmergencyStyle    `json:"style"`
	TargetClientIDs []string                 `json:"targetClientIds"`
	TargetGroupIDs  []string                 `json:"targetGroupIds"`
	ExpiresAt       *time.Time               `json:"expiresAt"`
}

func validate(b *types.EmergencyBroadcast) error {
	b.Title = strings.TrimSpace(b.Title)
	if b.Title == "" && strings.TrimSpace(b.Message) == "" {
		return fmt.Errorf("%w: broadcast needs a title or message", types.ErrInvalidInput)
	}
	if _, err := types.ParseEmergencyType(string(b.Type)); err != nil {
		return err
	}
	if b.Priority < 0 {
		return fmt.Errorf("%w: negative priority", types.ErrInvalidInput)
	}
	return nil
}

// Create stores a broadcast without sending it.
func (b *Broadcaster) Create(req CreateRequest) (types.EmergencyBroadcast, error) {
	if req.Type == "" {
		req.Type = types.EmergencyAlert
	}
	bc := types.EmergencyBroadcast{
		ID:              uuid.NewString(),
		Title:           req.Title,
		Message:         req.Message,
		Priority:        req.Priority,
		Type:            req.Type,
		TargetClientIDs: req.TargetClientIDs,
		TargetGroupIDs:  req.TargetGroupIDs,
		CreatedBy:       req.CreatedBy,
		CreatedAt:       b.clock.Now(),
		ExpiresAt:       req.ExpiresAt,
	}
	if err := validate(&bc); err != nil {
		return types.EmergencyBroadcast{}, err
	}
	if req.Style != nil {
		bc.Style = *req.Style
	} else {
		bc.Style = types.DefaultEmergencyStyle(bc.Type)
	}
	bc = bc.Clone()

	b.mu.Lock()
	b.broadcasts[bc.ID] = &bc
	b.mu.Unlock()

	b.logger.Info("Emergency broadcast created",
		zap.String("broadcast_id", bc.ID),
		zap.String("title", bc.Title),
		zap.Int("priority", int(bc.Priority)))

	return bc.Clone(), nil
}

func (b *Broadcaster) Get(broadcastID string) (types.EmergencyBroadcast, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bc, ok := b.broadcasts[broadcastID]
	if !ok {
		return types.EmergencyBroadcast{}, broadcastNotFound(broadcastID)
	}
	return bc.Clone(), nil
}

// List returns every broadcast, newest first.
func (b *Broadcaster) List() []types.EmergencyBroadcast {
	out := b.snapshot()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Active returns sent, uncleared, unexpired broadcasts, highest priority
// first. Equal priorities are not merged.
func (b *Broadcaster) Active() []types.EmergencyBroadcast {
	now := b.clock.Now()
	var out []types.EmergencyBroadcast
	for _, bc := range b.snapshot() {
		if bc.State(now) == types.BroadcastActive {
			out = append(out, bc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if out == nil {
		out = []types.EmergencyBroadcast{}
	}
	return out
}

// State reports a broadcast's lifecycle state as of now.
func (b *Broadcaster) State(broadcastID string) (types.BroadcastState, error) {
	bc, err := b.Get(broadcastID)
	if err != nil {
		return "", err
	}
	return bc.State(b.clock.Now()), nil
}

func (b *Broadcaster) snapshot() []types.EmergencyBroadcast {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]types.EmergencyBroadcast, 0, len(b.broadcasts))
	for _, bc := range b.broadcasts {
		out = append(out, bc.Clone())
	}
	return out
}

func (b *Broadcaster) Update(broadcastID string, req UpdateRequest) (types.EmergencyBroadcast, error) {
	return b.mutate(broadcastID, func(bc *types.EmergencyBroadcast) error {
		if req.Title != nil {
			bc.Title = *req.Title
		}
		if req.Message != nil {
			bc.Message = *req.Message
		}
		if req.Priority != nil {
			bc.Priority = *req.Priority
		}
		if req.Type != nil {
			bc.Type = *req.Type
		}
		if req.Style != nil {
			bc.Style = *req.Style
		}
		if req.TargetClientIDs != nil {
			bc.TargetClientIDs = req.TargetClientIDs
		}
		if req.TargetGroupIDs != nil {
			bc.TargetGroupIDs = req.TargetGroupIDs
		}
		if req.ExpiresAt != nil {
			bc.ExpiresAt = req.ExpiresAt
		}
		return validate(bc)
	})
}

func (b *Broadcaster) Delete(broadcastID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.broadcasts[broadcastID]; !ok {
		return broadcastNotFound(broadcastID)
	}
	delete(b.broadcasts, broadcastID)
	b.logger.Info("Emergency broadcast deleted", zap.String("broadcast_id", broadcastID))
	return nil
}

func (b *Broadcaster) mutate(broadcastID string, fn func(bc *types.EmergencyBroadcast) error) (types.EmergencyBroadcast, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.broadcasts[broadcastID]
	if !ok {
		return types.EmergencyBroadcast{}, broadcastNotFound(broadcastID)
	}
	next := existing.Clone()
	if err := fn(&next); err != nil {
		return types.EmergencyBroadcast{}, err
	}
	*existing = next.Clone()
	return next, nil
}

// Send activates the broadcast and delivers it to its targets: the
// explicit client ids if any, else the members of its target groups,
// else every connected client. An expired broadcast is not sent.
func (b *Broadcaster) Send(ctx context.Context, broadcastID string) ([]protocol.Delivery, error) {
	bc, err := b.activate(broadcastID, nil)
	if err != nil {
		return nil, err
	}
	return b.deliver(ctx, bc, protocol.TypeEmergencyBroadcast, alertPayload(bc)), nil
}

// SendToGroup activates the broadcast and retargets it at one group.
func (b *Broadcaster) SendToGroup(ctx context.Context, broadcastID, groupID string) ([]protocol.Delivery, error) {
	if _, err := b.groups.Members(groupID); err != nil {
		return nil, err
	}
	bc, err := b.activate(broadcastID, func(bc *types.EmergencyBroadcast) {
		bc.TargetClientIDs = nil
		bc.TargetGroupIDs = []string{groupID}
	})
	if err != nil {
		return nil, err
	}
	return b.deliver(ctx, bc, protocol.TypeEmergencyBroadcast, alertPayload(bc)), nil
}

// SendImmediate creates and sends in one step.
func (b *Broadcaster) SendImmediate(ctx context.Context, req CreateRequest) (types.EmergencyBroadcast, []protocol.Delivery, error) {
	bc, err := b.Create(req)
	if err != nil {
		return types.EmergencyBroadcast{}, nil, err
	}
	deliveries, err := b.Send(ctx, bc.ID)
	if err != nil {
		return types.EmergencyBroadcast{}, nil, err
	}
	bc, err = b.Get(bc.ID)
	return bc, deliveries, err
}

func (b *Broadcaster) activate(broadcastID string, retarget func(bc *types.EmergencyBroadcast)) (types.EmergencyBroadcast, error) {
	return b.mutate(broadcastID, func(bc *types.EmergencyBroadcast) error {
		now := b.clock.Now()
		if bc.Expired(now) {
			return fmt.Errorf("%w: broadcast %s expired at %s", types.ErrInvalidInput, bc.ID, bc.ExpiresAt.Format(time.RFC3339))
		}
		if retarget != nil {
			retarget(bc)
		}
		bc.Active = true
		bc.SentAt = &now
		bc.ClearedAt = nil
		return nil
	})
}

// Clear deactivates the broadcast and sends EMERGENCY_CLEAR to the same
// targets the alert went to.
func (b *Broadcaster) Clear(ctx context.Context, broadcastID string) ([]protocol.Delivery, error) {
	bc, err := b.mutate(broadcastID, func(bc *types.EmergencyBroadcast) error {
		now := b.clock.Now()
		bc.Active = false
		bc.ClearedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b.deliver(ctx, bc, protocol.TypeEmergencyClear, protocol.EmergencyClear{BroadcastID: bc.ID}), nil
}

// ClearAll deactivates every broadcast and sends a single fleet-wide
// EMERGENCY_CLEAR.
func (b *Broadcaster) ClearAll(ctx context.Context) []protocol.Delivery {
	now := b.clock.Now()
	cleared := 0

	b.mu.Lock()
	for _, bc := range b.broadcasts {
		if bc.Active {
			bc.Active = false
			bc.ClearedAt = &now
			cleared++
		}
	}
	b.mu.Unlock()

	env := protocol.NewEnvelope(protocol.TypeEmergencyClear, "", protocol.EmergencyClear{ClearAll: true})
	deliveries := b.dispatcher.Broadcast(ctx, env)

	b.logger.Info("All emergency broadcasts cleared",
		zap.Int("cleared", cleared),
		zap.Int("clients", len(deliveries)))
	return deliveries
}

func (b *Broadcaster) deliver(ctx context.Context, bc types.EmergencyBroadcast, msgType protocol.MessageType, payload protocol.Payload) []protocol.Delivery {
	env := protocol.NewEnvelope(msgType, "", payload)

	var (
		deliveries []protocol.Delivery
		target     string
	)
	switch {
	case len(bc.TargetClientIDs) > 0:
		target = "clients"
		deliveries = b.dispatcher.SendMany(ctx, bc.TargetClientIDs, env)
	case len(bc.TargetGroupIDs) > 0:
		target = "groups"
		members := b.groups.MembersOf(bc.TargetGroupIDs)
		if len(members) == 0 {
			deliveries = []protocol.Delivery{}
		} else {
			deliveries = b.dispatcher.SendMany(ctx, members, env)
		}
	default:
		target = "all"
		deliveries = b.dispatcher.Broadcast(ctx, env)
	}

	sum := protocol.Summarize(deliveries)
	fields := []zap.Field{
		zap.String("broadcast_id", bc.ID),
		zap.String("type", string(msgType)),
		zap.String("target", target),
		zap.Int("sent", sum.Sent),
		zap.Int("failed", sum.SendFailed),
		zap.Int("not_found", sum.NotFound),
	}
	if msgType == protocol.TypeEmergencyBroadcast {
		b.logger.Warn("Emergency broadcast sent", append(fields, zap.String("title", bc.Title))...)
	} else {
		b.logger.Info("Emergency broadcast cleared", fields...)
	}
	return deliveries
}

func alertPayload(bc types.EmergencyBroadcast) protocol.EmergencyAlert {
	alert := protocol.EmergencyAlert{
		BroadcastID: bc.ID,
		Title:       bc.Title,
		Message:     bc.Message,
		Priority:    bc.Priority,
		Type:        bc.Type,
		Style:       bc.Style,
	}
	if bc.ExpiresAt != nil {
		alert.ExpiresAt = bc.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return alert
}

func broadcastNotFound(id string) error {
	return fmt.Errorf("emergency broadcast %s: %w", id, types.ErrNotFound)
}
