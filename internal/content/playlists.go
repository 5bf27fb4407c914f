package content

import (
	"context"
	"fmt"
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

// Playlists stores playlists and remembers which playlist each client was
// explicitly given.
type Playlists struct {
	mu          sync.RWMutex
	playlists   map[string]*types.Playlist
	assignments map[string]string // client id -> playlist id

	library    *Library
	dispatcher Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
}

func NewPlaylists(library *Library, dispatcher Dispatcher, clk clock.Clock, logger *zap.Logger) *Playlists {
	return &Playlists{
		playlists:   make(map[string]*types.Playlist),
		assignments: make(map[string]string),
		library:     library,
		dispatcher:  dispatcher,
		clock:       clk,
		logger:      logger,
	}
}

type PlaylistRequest struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Items       []types.PlaylistItem `json:"items"`
	Schedule    *types.Schedule      `json:"schedule"`
	Active      *bool                `json:"active"`
}

// PlaylistUpdate changes only the fields that are set. ClearSchedule
// removes an existing schedule.
type PlaylistUpdate struct {
	Name          *string               `json:"name"`
	Description   *string               `json:"description"`
	Items         *[]types.PlaylistItem `json:"items"`
	Schedule      *types.Schedule       `json:"schedule"`
	ClearSchedule bool                  `json:"clearSchedule"`
	Active        *bool                 `json:"active"`
}

// normalizeItems checks content references, orders items and fills
// transition defaults. Items without an explicit order keep their list
// position.
func (p *Playlists) normalizeItems(items []types.PlaylistItem) ([]types.PlaylistItem, error) {
	out := slices.Clone(items)

	ordered := false
	for _, it := range out {
		if it.Order != 0 {
			ordered = true
			break
		}
	}

	for i := range out {
		it := &out[i]
		if _, err := p.library.Get(it.ContentID); err != nil {
			return nil, fmt.Errorf("%w: playlist item %d references unknown content %q", types.ErrInvalidInput, i, it.ContentID)
		}
		if !ordered {
			it.Order = i
		}
		if it.DurationSeconds < 0 {
			return nil, fmt.Errorf("%w: playlist item %d has negative duration", types.ErrInvalidInput, i)
		}
		if it.Transition == "" {
			it.Transition = types.TransitionFade
		}
		if it.TransitionMillis <= 0 {
			it.TransitionMillis = types.DefaultTransitionMillis
		}
	}

	slices.SortStableFunc(out, func(a, b types.PlaylistItem) int { return a.Order - b.Order })
	return out, nil
}

func (p *Playlists) Create(req PlaylistRequest) (types.Playlist, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return types.Playlist{}, fmt.Errorf("%w: playlist name is required", types.ErrInvalidInput)
	}

	items, err := p.normalizeItems(req.Items)
	if err != nil {
		return types.Playlist{}, err
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := p.clock.Now()
	pl := &types.Playlist{
		ID:          uuid.NewString(),
		Name:        name,
		Description: req.Description,
		Items:       items,
		Active:      active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Schedule != nil {
		s := req.Schedule.Clone()
		pl.Schedule = &s
	}

	p.mu.Lock()
	p.playlists[pl.ID] = pl
	p.mu.Unlock()

	p.logger.Info("Playlist created",
		zap.String("playlist_id", pl.ID),
		zap.String("name", pl.Name),
		zap.Int("items", len(pl.Items)))

	return pl.Clone(), nil
}

func (p *Playlists) Get(playlistID string) (types.Playlist, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	pl, ok := p.playlists[playlistID]
	if !ok {
		return types.Playlist{}, playlistNotFound(playlistID)
	}
	return pl.Clone(), nil
}

func (p *Playlists) List() []types.Playlist {
	p.mu.RLock()
	out := make([]types.Playlist, 0, len(p.playlists))
	for _, pl := range p.playlists {
		out = append(out, pl.Clone())
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (p *Playlists) Update(playlistID string, req PlaylistUpdate) (types.Playlist, error) {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return types.Playlist{}, fmt.Errorf("%w: playlist name must not be empty", types.ErrInvalidInput)
	}

	var items []types.PlaylistItem
	if req.Items != nil {
		normalized, err := p.normalizeItems(*req.Items)
		if err != nil {
			return types.Playlist{}, err
		}
		items = normalized
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pl, ok := p.playlists[playlistID]
	if !ok {
		return types.Playlist{}, playlistNotFound(playlistID)
	}
	if req.Name != nil {
		pl.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		pl.Description = *req.Description
	}
	if req.Items != nil {
		pl.Items = items
	}
	switch {
	case req.ClearSchedule:
		pl.Schedule = nil
	case req.Schedule != nil:
		s := req.Schedule.Clone()
		pl.Schedule = &s
	}
	if req.Active != nil {
		pl.Active = *req.Active
	}
	pl.UpdatedAt = p.clock.Now()

	return pl.Clone(), nil
}

// Delete removes the playlist and any client assignments to it.
func (p *Playlists) Delete(playlistID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.playlists[playlistID]; !ok {
		return playlistNotFound(playlistID)
	}
	delete(p.playlists, playlistID)
	for clientID, assigned := range p.assignments {
		if assigned == playlistID {
			delete(p.assignments, clientID)
		}
	}

	p.logger.Info("Playlist deleted", zap.String("playlist_id", playlistID))
	return nil
}

func (p *Playlists) IsActive(playlistID string) (bool, error) {
	pl, err := p.Get(playlistID)
	if err != nil {
		return false, err
	}
	return pl.IsActive(p.clock.Now()), nil
}

// Active returns the playlists active now, highest priority first.
func (p *Playlists) Active() []types.Playlist {
	now := p.clock.Now()

	var out []types.Playlist
	for _, pl := range p.List() {
		if pl.IsActive(now) {
			out = append(out, pl)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority() > out[j].Priority()
	})
	return out
}

// AssignToClients records the assignment and sends PLAYLIST_UPDATE with
// the playlist and the metadata of every item it references.
func (p *Playlists) AssignToClients(ctx context.Context, playlistID string, clientIDs []string) ([]protocol.Delivery, error) {
	pl, err := p.Get(playlistID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	for _, id := range clientIDs {
		p.assignments[id] = playlistID
	}
	p.mu.Unlock()

	if len(clientIDs) == 0 {
		return []protocol.Delivery{}, nil
	}

	env := protocol.NewEnvelope(protocol.TypePlaylistUpdate, "", protocol.PlaylistAssignment{
		Action:   "assign",
		Playlist: pl,
		Content:  p.referencedContent(pl),
	})
	deliveries := p.dispatcher.SendMany(ctx, clientIDs, env)

	s := protocol.Summarize(deliveries)
	p.logger.Info("Playlist assigned",
		zap.String("playlist_id", playlistID),
		zap.Int("sent", s.Sent),
		zap.Int("failed", s.SendFailed),
		zap.Int("not_found", s.NotFound))

	return deliveries, nil
}

func (p *Playlists) referencedContent(pl types.Playlist) []types.ContentItem {
	seen := make(map[string]struct{}, len(pl.Items))
	var out []types.ContentItem
	for _, it := range pl.Items {
		if _, dup := seen[it.ContentID]; dup {
			continue
		}
		seen[it.ContentID] = struct{}{}
		if item, err := p.library.Get(it.ContentID); err == nil {
			out = append(out, item)
		}
	}
	return out
}

// ActiveForClient resolves what a client should play now: its explicitly
// assigned playlist if that is active, otherwise the highest-priority
// active playlist.
func (p *Playlists) ActiveForClient(clientID string) (types.Playlist, bool) {
	now := p.clock.Now()

	p.mu.RLock()
	assignedID, assigned := p.assignments[clientID]
	var pl types.Playlist
	found := false
	if assigned {
		if live, ok := p.playlists[assignedID]; ok {
			pl, found = live.Clone(), true
		}
	}
	p.mu.RUnlock()

	if found && pl.IsActive(now) {
		return pl, true
	}

	active := p.Active()
	if len(active) == 0 {
		return types.Playlist{}, false
	}
	return active[0], true
}

func playlistNotFound(id string) error {
	return fmt.Errorf("playlist %s: %w", id, types.ErrNotFound)
}
