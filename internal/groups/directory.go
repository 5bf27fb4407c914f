package groups

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenSignageCore/internal/clock"
	"github.com/KevinKickass/OpenSignageCore/internal/protocol"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PlaylistAssigner delivers a playlist to a set of clients.
type PlaylistAssigner interface {
	AssignToClients(ctx context.Context, playlistID string, clientIDs []string) ([]protocol.Delivery, error)
}

// ContentPusher delivers one content item to a set of clients.
type ContentPusher interface {
	Push(ctx context.Context, contentID string, clientIDs []string) ([]protocol.Delivery, error)
}

// Directory holds named client groups. Membership is independent of
// whether a client is connected and is never pruned automatically.
type Directory struct {
	mu     sync.RWMutex
	groups map[string]*types.Group

	clock     clock.Clock
	logger    *zap.Logger
	playlists PlaylistAssigner
	content   ContentPusher
}

func NewDirectory(clk clock.Clock, logger *zap.Logger) *Directory {
	return &Directory{
		groups: make(map[string]*types.Group),
		clock:  clk,
		logger: logger,
	}
}

// SetDistribution wires the components used by AssignPlaylist and
// PushContent.
func (d *Directory) SetDistribution(playlists PlaylistAssigner, content ContentPusher) {
	d.playlists = playlists
	d.content = content
}

type CreateRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	ClientIDs   []string          `json:"clientIds"`
	Metadata    map[string]string `json:"metadata"`
}

// UpdateRequest changes only the fields that are set.
type UpdateRequest struct {
	Name        *string           `json:"name"`
	Description *string           `json:"description"`
	Metadata    map[string]string `json:"metadata"`
}

func (d *Directory) Create(req CreateRequest) (types.Group, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return types.Group{}, fmt.Errorf("%w: group name is required", types.ErrInvalidInput)
	}

	now := d.clock.Now()
	g := &types.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: req.Description,
		ClientIDs:   dedupe(req.ClientIDs),
		Metadata:    maps.Clone(req.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	d.mu.Lock()
	d.groups[g.ID] = g
	d.mu.Unlock()

	d.logger.Info("Group created",
		zap.String("group_id", g.ID),
		zap.String("name", g.Name),
		zap.Int("members", len(g.ClientIDs)))

	return g.Clone(), nil
}

func (d *Directory) Get(groupID string) (types.Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	g, ok := d.groups[groupID]
	if !ok {
		return types.Group{}, groupNotFound(groupID)
	}
	return g.Clone(), nil
}

// List returns all groups ordered by name.
func (d *Directory) List() []types.Group {
	d.mu.RLock()
	out := make([]types.Group, 0, len(d.groups))
	for _, g := range d.groups {
		out = append(out, g.Clone())
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (d *Directory) Update(groupID string, req UpdateRequest) (types.Group, error) {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return types.Group{}, fmt.Errorf("%w: group name must not be empty", types.ErrInvalidInput)
	}

	return d.mutate(groupID, func(g *types.Group) bool {
		if req.Name != nil {
			g.Name = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			g.Description = *req.Description
		}
		if req.Metadata != nil {
			g.Metadata = maps.Clone(req.Metadata)
		}
		return true
	})
}

func (d *Directory) Delete(groupID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.groups[groupID]; !ok {
		return groupNotFound(groupID)
	}
	delete(d.groups, groupID)

	d.logger.Info("Group deleted", zap.String("group_id", groupID))
	return nil
}

// AddClient is idempotent: adding an existing member changes nothing.
func (d *Directory) AddClient(groupID, clientID string) (types.Group, error) {
	if clientID == "" {
		return types.Group{}, fmt.Errorf("%w: client id is required", types.ErrInvalidInput)
	}
	return d.mutate(groupID, func(g *types.Group) bool {
		if g.HasMember(clientID) {
			return false
		}
		g.ClientIDs = append(g.ClientIDs, clientID)
		return true
	})
}

// RemoveClient is idempotent.
func (d *Directory) RemoveClient(groupID, clientID string) (types.Group, error) {
	return d.mutate(groupID, func(g *types.Group) bool {
		i := slices.Index(g.ClientIDs, clientID)
		if i < 0 {
			return false
		}
		g.ClientIDs = slices.Delete(g.ClientIDs, i, i+1)
		return true
	})
}

// GroupsFor returns every group clientID belongs to.
func (d *Directory) GroupsFor(clientID string) []types.Group {
	var out []types.Group
	for _, g := range d.List() {
		if g.HasMember(clientID) {
			out = append(out, g)
		}
	}
	return out
}

func (d *Directory) Members(groupID string) ([]string, error) {
	g, err := d.Get(groupID)
	if err != nil {
		return nil, err
	}
	return g.ClientIDs, nil
}

// MembersOf returns the union of the members of groupIDs, in first-seen
// order. Unknown groups contribute nothing.
func (d *Directory) MembersOf(groupIDs []string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var ids []string
	for _, gid := range groupIDs {
		if g, ok := d.groups[gid]; ok {
			ids = append(ids, g.ClientIDs...)
		}
	}
	return dedupe(ids)
}

// AssignPlaylist records playlistID as the group's default and sends it to
// the current members. Members that are not connected come back as
// NotFound deliveries.
func (d *Directory) AssignPlaylist(ctx context.Context, groupID, playlistID string) ([]protocol.Delivery, error) {
	if d.playlists == nil {
		return nil, fmt.Errorf("playlist distribution not configured")
	}

	members, err := d.Members(groupID)
	if err != nil {
		return nil, err
	}

	deliveries, err := d.playlists.AssignToClients(ctx, playlistID, members)
	if err != nil {
		return nil, err
	}

	if _, err := d.mutate(groupID, func(g *types.Group) bool {
		g.DefaultPlaylistID = playlistID
		return true
	}); err != nil {
		return nil, err
	}

	d.logger.Info("Playlist assigned to group",
		zap.String("group_id", groupID),
		zap.String("playlist_id", playlistID),
		zap.Int("members", len(members)))

	return deliveries, nil
}

// PushContent sends one content item to the group's current members.
func (d *Directory) PushContent(ctx context.Context, groupID, contentID string) ([]protocol.Delivery, error) {
	if d.content == nil {
		return nil, fmt.Errorf("content distribution not configured")
	}

	members, err := d.Members(groupID)
	if err != nil {
		return nil, err
	}
	return d.content.Push(ctx, contentID, members)
}

// mutate applies fn to the live group; UpdatedAt moves only when fn
// reports a change.
func (d *Directory) mutate(groupID string, fn func(g *types.Group) bool) (types.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	g, ok := d.groups[groupID]
	if !ok {
		return types.Group{}, groupNotFound(groupID)
	}
	if fn(g) {
		g.UpdatedAt = d.clock.Now()
	}
	return g.Clone(), nil
}

func groupNotFound(id string) error {
	return fmt.Errorf("group %s: %w", id, types.ErrNotFound)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
