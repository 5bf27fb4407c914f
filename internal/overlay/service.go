package overlay

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

// Dispatcher is the registry's outbound surface.
type Dispatcher interface {
	SendMany(ctx context.Context, clientIDs []string, env protocol.Envelope) []protocol.Delivery
}

// Service stores overlay definitions and delivers rendered overlays to
// clients.
type Service struct {
	mu          sync.RWMutex
	overlays    map[string]*types.Overlay
	assignments map[string][]string // client id -> overlay ids

	renderer   *Renderer
	dispatcher Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
}

func NewService(renderer *Renderer, dispatcher Dispatcher, clk clock.Clock, logger *zap.Logger) *Service {
	return &Service{
		overlays:    make(map[string]*types.Overlay),
		assignments: make(map[string][]string),
		renderer:    renderer,
		dispatcher:  dispatcher,
		clock:       clk,
		logger:      logger,
	}
}

func prepare(o *types.Overlay) error {
	o.Name = strings.TrimSpace(o.Name)
	if o.Name == "" {
		return fmt.Errorf("%w: overlay name is required", types.ErrInvalidInput)
	}
	if o.Settings == nil {
		settings, err := types.NewOverlaySettings(o.Type)
		if err != nil {
			return err
		}
		o.Settings = settings
	}
	o.Settings = types.NormalizeSettings(o.Settings)
	if err := o.Validate(); err != nil {
		return err
	}
	if o.RefreshIntervalSeconds < 0 {
		return fmt.Errorf("%w: refresh interval must not be negative", types.ErrInvalidInput)
	}
	if o.Position.Anchor == "" {
		o.Position.Anchor = types.AnchorTopLeft
	}
	return nil
}

// Create stores o under a new id.
func (s *Service) Create(o types.Overlay) (types.Overlay, error) {
	if err := prepare(&o); err != nil {
		return types.Overlay{}, err
	}

	now := s.clock.Now()
	o.ID = uuid.NewString()
	o.CreatedAt = now
	o.UpdatedAt = now

	s.mu.Lock()
	s.overlays[o.ID] = &o
	s.mu.Unlock()

	s.logger.Info("Overlay created",
		zap.String("overlay_id", o.ID),
		zap.String("name", o.Name),
		zap.String("type", string(o.Type)))

	return o, nil
}

func (s *Service) Get(overlayID string) (types.Overlay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.overlays[overlayID]
	if !ok {
		return types.Overlay{}, overlayNotFound(overlayID)
	}
	return *o, nil
}

func (s *Service) List() []types.Overlay {
	s.mu.RLock()
	out := make([]types.Overlay, 0, len(s.overlays))
	for _, o := range s.overlays {
		out = append(out, *o)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Update replaces the definition of an existing overlay; id and creation
// time are kept.
func (s *Service) Update(overlayID string, o types.Overlay) (types.Overlay, error) {
	if err := prepare(&o); err != nil {
		return types.Overlay{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.overlays[overlayID]
	if !ok {
		return types.Overlay{}, overlayNotFound(overlayID)
	}
	o.ID = existing.ID
	o.CreatedAt = existing.CreatedAt
	o.UpdatedAt = s.clock.Now()
	s.overlays[overlayID] = &o

	return o, nil
}

func (s *Service) Delete(overlayID string) error {
	s.mu.Lock()
	if _, ok := s.overlays[overlayID]; !ok {
		s.mu.Unlock()
		return overlayNotFound(overlayID)
	}
	delete(s.overlays, overlayID)
	for clientID, ids := range s.assignments {
		s.assignments[clientID] = slices.DeleteFunc(ids, func(id string) bool { return id == overlayID })
	}
	s.mu.Unlock()

	s.renderer.Forget(overlayID)
	s.logger.Info("Overlay deleted", zap.String("overlay_id", overlayID))
	return nil
}

// Render renders one stored overlay.
func (s *Service) Render(ctx context.Context, overlayID string) (protocol.RenderedOverlay, error) {
	o, err := s.Get(overlayID)
	if err != nil {
		return protocol.RenderedOverlay{}, err
	}
	return s.renderer.Render(ctx, o), nil
}

// RenderOverlay renders a definition that may not be stored.
func (s *Service) RenderOverlay(ctx context.Context, o types.Overlay) protocol.RenderedOverlay {
	return s.renderer.Render(ctx, o)
}

// Assign records the overlays for each client and sends OVERLAY_UPDATE
// with the rendered overlays.
func (s *Service) Assign(ctx context.Context, overlayIDs, clientIDs []string) ([]protocol.Delivery, error) {
	if len(overlayIDs) == 0 {
		return nil, fmt.Errorf("%w: no overlays to assign", types.ErrInvalidInput)
	}

	rendered := make([]protocol.RenderedOverlay, 0, len(overlayIDs))
	for _, id := range overlayIDs {
		r, err := s.Render(ctx, id)
		if err != nil {
			return nil, err
		}
		rendered = append(rendered, r)
	}

	s.mu.Lock()
	for _, clientID := range clientIDs {
		for _, id := range overlayIDs {
			if !slices.Contains(s.assignments[clientID], id) {
				s.assignments[clientID] = append(s.assignments[clientID], id)
			}
		}
	}
	s.mu.Unlock()

	if len(clientIDs) == 0 {
		return []protocol.Delivery{}, nil
	}

	env := protocol.NewEnvelope(protocol.TypeOverlayUpdate, "", protocol.OverlayUpdate{Overlays: rendered})
	deliveries := s.dispatcher.SendMany(ctx, clientIDs, env)

	sum := protocol.Summarize(deliveries)
	s.logger.Info("Overlays assigned",
		zap.Strings("overlay_ids", overlayIDs),
		zap.Int("sent", sum.Sent),
		zap.Int("failed", sum.SendFailed),
		zap.Int("not_found", sum.NotFound))

	return deliveries, nil
}

// AssignedTo returns the overlay ids assigned to a client.
func (s *Service) AssignedTo(clientID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.assignments[clientID])
}

func overlayNotFound(id string) error {
	return fmt.Errorf("overlay %s: %w", id, types.ErrNotFound)
}
