package composition

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenSignageCore/internal/clock"
	"github.com/KevinKickass/OpenSignageCore/internal/protocol"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const updateCommand = "composition_update"

// Dispatcher is the registry's outbound surface.
type Dispatcher interface {
	SendMany(ctx context.Context, clientIDs []string, env protocol.Envelope) []protocol.Delivery
	Broadcast(ctx context.Context, env protocol.Envelope) []protocol.Delivery
}

// OverlayStore resolves and renders the overlays a composition places.
type OverlayStore interface {
	Get(overlayID string) (types.Overlay, error)
	Create(o types.Overlay) (types.Overlay, error)
	RenderOverlay(ctx context.Context, o types.Overlay) protocol.RenderedOverlay
}

// GroupMembers resolves a group id to its client ids.
type GroupMembers interface {
	Members(groupID string) ([]string, error)
}

// Service manages display compositions: a canvas of fixed resolution
// with a background and positioned overlays.
type Service struct {
	mu           sync.RWMutex
	compositions map[string]*types.DisplayComposition

	overlays   OverlayStore
	dispatcher Dispatcher
	groups     GroupMembers
	clock      clock.Clock
	logger     *zap.Logger
}

func NewService(overlays OverlayStore, dispatcher Dispatcher, groups GroupMembers, clk clock.Clock, logger *zap.Logger) *Service {
	return &Service{
		compositions: make(map[string]*types.DisplayComposition),
		overlays:     overlays,
		dispatcher:   dispatcher,
		groups:       groups,
		clock:        clk,
		logger:       logger,
	}
}

func defaultResolution() types.Resolution {
	return types.Resolution{Width: 1920, Height: 1080}
}

func defaultBackground() types.Background {
	return types.Background{Type: types.BackgroundColor, Color: "#000000"}
}

// PlacementRequest positions an overlay. A nil Visible means visible; a
// nil ZIndex puts the placement on top.
type PlacementRequest struct {
	OverlayID string `json:"overlayId"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	ZIndex    *int   `json:"zIndex"`
	Visible   *bool  `json:"visible"`
	Locked    bool   `json:"locked"`
}

func (s *Service) prepare(c *types.DisplayComposition) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return fmt.Errorf("%w: composition name is required", types.ErrInvalidInput)
	}
	if c.Resolution.Width == 0 && c.Resolution.Height == 0 {
		c.Resolution = defaultResolution()
	}
	if err := c.Resolution.Validate(); err != nil {
		return err
	}
	if c.Background.Type == "" {
		c.Background = defaultBackground()
	}
	if err := c.Background.Validate(); err != nil {
		return err
	}
	// Placement ids are unique within the composition and never reuse the
	// overlay id they point at.
	seen := make(map[string]struct{}, len(c.Placements))
	for i := range c.Placements {
		p := &c.Placements[i]
		if err := s.checkPlacement(*p); err != nil {
			return err
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		if p.ID == p.OverlayID {
			return fmt.Errorf("%w: placement id %q equals its overlay id", types.ErrInvalidInput, p.ID)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%w: duplicate placement id %q", types.ErrInvalidInput, p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	if c.Placements == nil {
		c.Placements = []types.Placement{}
	}
	return nil
}

func (s *Service) checkPlacement(p types.Placement) error {
	if p.Width < 0 || p.Height < 0 {
		return fmt.Errorf("%w: placement size %dx%d", types.ErrInvalidInput, p.Width, p.Height)
	}
	if _, err := s.overlays.Get(p.OverlayID); err != nil {
		return fmt.Errorf("%w: placement references overlay %q: %v", types.ErrInvalidInput, p.OverlayID, err)
	}
	return nil
}

func (s *Service) Create(c types.DisplayComposition) (types.DisplayComposition, error) {
	c = c.Clone()
	if err := s.prepare(&c); err != nil {
		return types.DisplayComposition{}, err
	}

	now := s.clock.Now()
	c.ID = uuid.NewString()
	c.CreatedAt = now
	c.ModifiedAt = now

	s.mu.Lock()
	s.compositions[c.ID] = &c
	s.mu.Unlock()

	s.logger.Info("Composition created",
		zap.String("composition_id", c.ID),
		zap.String("name", c.Name),
		zap.String("resolution", fmt.Sprintf("%dx%d", c.Resolution.Width, c.Resolution.Height)))

	return c.Clone(), nil
}

func (s *Service) Get(compositionID string) (types.DisplayComposition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.compositions[compositionID]
	if !ok {
		return types.DisplayComposition{}, compositionNotFound(compositionID)
	}
	return c.Clone(), nil
}

func (s *Service) List() []types.DisplayComposition {
	s.mu.RLock()
	out := make([]types.DisplayComposition, 0, len(s.compositions))
	for _, c := range s.compositions {
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Update replaces the stored composition; id and creation time are kept.
func (s *Service) Update(compositionID string, c types.DisplayComposition) (types.DisplayComposition, error) {
	c = c.Clone()
	if err := s.prepare(&c); err != nil {
		return types.DisplayComposition{}, err
	}
	return s.mutate(compositionID, func(existing *types.DisplayComposition) error {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		*existing = c
		return nil
	})
}

func (s *Service) Delete(compositionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.compositions[compositionID]; !ok {
		return compositionNotFound(compositionID)
	}
	delete(s.compositions, compositionID)
	s.logger.Info("Composition deleted", zap.String("composition_id", compositionID))
	return nil
}

// AddPlacement places an overlay on the composition and returns the new
// placement.
func (s *Service) AddPlacement(compositionID string, req PlacementRequest) (types.Placement, error) {
	p := types.Placement{
		ID:        uuid.NewString(),
		OverlayID: req.OverlayID,
		X:         req.X,
		Y:         req.Y,
		Width:     req.Width,
		Height:    req.Height,
		Visible:   req.Visible == nil || *req.Visible,
		Locked:    req.Locked,
	}
	if err := s.checkPlacement(p); err != nil {
		return types.Placement{}, err
	}

	_, err := s.mutate(compositionID, func(c *types.DisplayComposition) error {
		if req.ZIndex != nil {
			p.ZIndex = *req.ZIndex
		} else {
			p.ZIndex = c.NextZIndex()
		}
		c.Placements = append(c.Placements, p)
		return nil
	})
	if err != nil {
		return types.Placement{}, err
	}
	return p, nil
}

// UpdatePlacement replaces a placement's geometry, stacking and flags.
func (s *Service) UpdatePlacement(compositionID, placementID string, req PlacementRequest) (types.Placement, error) {
	var updated types.Placement
	_, err := s.mutate(compositionID, func(c *types.DisplayComposition) error {
		for i := range c.Placements {
			p := &c.Placements[i]
			if p.ID != placementID {
				continue
			}
			if req.OverlayID != "" && req.OverlayID != p.OverlayID {
				if err := s.checkPlacement(types.Placement{OverlayID: req.OverlayID}); err != nil {
					return err
				}
				p.OverlayID = req.OverlayID
			}
			if req.Width < 0 || req.Height < 0 {
				return fmt.Errorf("%w: placement size %dx%d", types.ErrInvalidInput, req.Width, req.Height)
			}
			p.X, p.Y, p.Width, p.Height = req.X, req.Y, req.Width, req.Height
			if req.ZIndex != nil {
				p.ZIndex = *req.ZIndex
			}
			if req.Visible != nil {
				p.Visible = *req.Visible
			}
			p.Locked = req.Locked
			updated = *p
			return nil
		}
		return placementNotFound(placementID)
	})
	return updated, err
}

func (s *Service) RemovePlacement(compositionID, placementID string) (types.DisplayComposition, error) {
	return s.mutate(compositionID, func(c *types.DisplayComposition) error {
		for i, p := range c.Placements {
			if p.ID == placementID {
				c.Placements = append(c.Placements[:i], c.Placements[i+1:]...)
				return nil
			}
		}
		return placementNotFound(placementID)
	})
}

func (s *Service) SetBackground(compositionID string, bg types.Background) (types.DisplayComposition, error) {
	if err := bg.Validate(); err != nil {
		return types.DisplayComposition{}, err
	}
	return s.mutate(compositionID, func(c *types.DisplayComposition) error {
		c.Background = bg
		return nil
	})
}

func (s *Service) SetResolution(compositionID string, r types.Resolution) (types.DisplayComposition, error) {
	if err := r.Validate(); err != nil {
		return types.DisplayComposition{}, err
	}
	return s.mutate(compositionID, func(c *types.DisplayComposition) error {
		c.Resolution = r
		return nil
	})
}

// mutate applies fn under the write lock and stamps ModifiedAt when it
// succeeds. fn works on a copy, so a failed fn leaves the record as it was.
func (s *Service) mutate(compositionID string, fn func(c *types.DisplayComposition) error) (types.DisplayComposition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.compositions[compositionID]
	if !ok {
		return types.DisplayComposition{}, compositionNotFound(compositionID)
	}

	next := existing.Clone()
	if err := fn(&next); err != nil {
		return types.DisplayComposition{}, err
	}
	next.ModifiedAt = s.clock.Now()
	*existing = next
	return next.Clone(), nil
}

// Publish sends the composition to every connected client.
func (s *Service) Publish(ctx context.Context, compositionID string) ([]protocol.Delivery, error) {
	env, err := s.message(ctx, compositionID)
	if err != nil {
		return nil, err
	}
	deliveries := s.dispatcher.Broadcast(ctx, env)
	s.logPublished(compositionID, "all", deliveries)
	return deliveries, nil
}

// PublishTo sends the composition to the given clients.
func (s *Service) PublishTo(ctx context.Context, compositionID string, clientIDs []string) ([]protocol.Delivery, error) {
	env, err := s.message(ctx, compositionID)
	if err != nil {
		return nil, err
	}
	if len(clientIDs) == 0 {
		return []protocol.Delivery{}, nil
	}
	deliveries := s.dispatcher.SendMany(ctx, clientIDs, env)
	s.logPublished(compositionID, "clients", deliveries)
	return deliveries, nil
}

// PublishToGroup sends the composition to the current members of a group.
func (s *Service) PublishToGroup(ctx context.Context, compositionID, groupID string) ([]protocol.Delivery, error) {
	members, err := s.groups.Members(groupID)
	if err != nil {
		return nil, err
	}
	return s.PublishTo(ctx, compositionID, members)
}

func (s *Service) logPublished(compositionID, target string, deliveries []protocol.Delivery) {
	sum := protocol.Summarize(deliveries)
	s.logger.Info("Composition published",
		zap.String("composition_id", compositionID),
		zap.String("target", target),
		zap.Int("sent", sum.Sent),
		zap.Int("failed", sum.SendFailed),
		zap.Int("not_found", sum.NotFound))
}

// message builds the composition_update command. Only visible placements
// are rendered, lowest z-index first.
func (s *Service) message(ctx context.Context, compositionID string) (protocol.Envelope, error) {
	c, err := s.Get(compositionID)
	if err != nil {
		return protocol.Envelope{}, err
	}

	rendered := make([]protocol.RenderedOverlay, 0, len(c.Placements))
	for _, p := range c.PaintOrder() {
		o, err := s.overlays.Get(p.OverlayID)
		if err != nil {
			s.logger.Warn("Placement references missing overlay",
				zap.String("composition_id", c.ID),
				zap.String("placement_id", p.ID),
				zap.String("overlay_id", p.OverlayID))
			continue
		}
		o.Position = types.OverlayPosition{X: p.X, Y: p.Y, Width: p.Width, Height: p.Height, Anchor: types.AnchorTopLeft}

		r := s.overlays.RenderOverlay(ctx, o)
		r.PlacementID = p.ID
		r.ZIndex = p.ZIndex
		rendered = append(rendered, r)
	}

	return protocol.NewEnvelope(protocol.TypeCommand, "", protocol.CompositionUpdate{
		Command:       updateCommand,
		CompositionID: c.ID,
		Name:          c.Name,
		Resolution:    c.Resolution,
		AspectRatio:   c.Resolution.AspectRatio(),
		Background:    c.Background,
		Overlays:      rendered,
	}), nil
}

// Preview renders the composition as a standalone HTML fragment with
// every visible overlay absolutely positioned.
func (s *Service) Preview(ctx context.Context, compositionID string) (string, error) {
	env, err := s.message(ctx, compositionID)
	if err != nil {
		return "", err
	}
	update := env.Data.(protocol.CompositionUpdate)

	var b strings.Builder
	fmt.Fprintf(&b, `<div style="position:relative;overflow:hidden;width:%dpx;height:%dpx;%s">`,
		update.Resolution.Width, update.Resolution.Height, backgroundCSS(update.Background))
	for _, o := range update.Overlays {
		fmt.Fprintf(&b, `<div data-placement="%s" style="position:absolute;left:%dpx;top:%dpx;width:%dpx;height:%dpx;z-index:%d;">%s</div>`,
			html.EscapeString(o.PlacementID), o.Position.X, o.Position.Y, o.Position.Width, o.Position.Height, o.ZIndex, o.HTML)
	}
	b.WriteString(`</div>`)
	return b.String(), nil
}

func backgroundCSS(bg types.Background) string {
	switch bg.Type {
	case types.BackgroundColor:
		return "background-color:" + html.EscapeString(bg.Color) + ";"
	case types.BackgroundImage:
		src := bg.ImageURL
		if src == "" {
			src = "/api/v1/content/" + bg.ImageID + "/data"
		}
		return fmt.Sprintf("background-image:url('%s');background-size:%s;background-repeat:%s;background-position:center;",
			html.EscapeString(src), backgroundSize(bg.ScaleMode), backgroundRepeat(bg.ScaleMode))
	}
	return ""
}

func backgroundSize(m types.ScaleMode) string {
	switch m {
	case types.ScaleFit:
		return "contain"
	case types.ScaleStretch:
		return "100% 100%"
	case types.ScaleCenter, types.ScaleTile:
		return "auto"
	}
	return "cover"
}

func backgroundRepeat(m types.ScaleMode) string {
	if m == types.ScaleTile {
		return "repeat"
	}
	return "no-repeat"
}

func compositionNotFound(id string) error {
	return fmt.Errorf("composition %s: %w", id, types.ErrNotFound)
}

func placementNotFound(id string) error {
	return fmt.Errorf("placement %s: %w", id, types.ErrNotFound)
}
