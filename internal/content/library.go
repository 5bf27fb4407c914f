package content

import (
	"context"
	"encoding/hex"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenSignageCore/internal/clock"
	"github.com/KevinKickass/OpenSignageCore/internal/protocol"
	"github.com/KevinKickass/OpenSignageCore/internal/storage"
	"github.com/KevinKickass/OpenSignageCore/internal/types"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

// Dispatcher is the registry's outbound surface.
type Dispatcher interface {
	SendMany(ctx context.Context, clientIDs []string, env protocol.Envelope) []protocol.Delivery
	Broadcast(ctx context.Context, env protocol.Envelope) []protocol.Delivery
}

// Library keeps content metadata in memory and the bytes in a ByteStore
// under the content id.
type Library struct {
	mu    sync.RWMutex
	items map[string]*types.ContentItem

	store      storage.ByteStore
	dispatcher Dispatcher
	clock      clock.Clock
	logger     *zap.Logger
}

func NewLibrary(store storage.ByteStore, dispatcher Dispatcher, clk clock.Clock, logger *zap.Logger) *Library {
	return &Library{
		items:      make(map[string]*types.ContentItem),
		store:      store,
		dispatcher: dispatcher,
		clock:      clk,
		logger:     logger,
	}
}

type CreateRequest struct {
	Name            string            `json:"name"`
	Type            types.ContentType `json:"type"`
	MimeType        string            `json:"mimeType"`
	DurationSeconds int               `json:"durationSeconds"`
	Metadata        map[string]string `json:"metadata"`
}

type UpdateRequest struct {
	Name            *string           `json:"name"`
	DurationSeconds *int              `json:"durationSeconds"`
	Metadata        map[string]string `json:"metadata"`
}

// Checksum is the hex BLAKE3-256 digest devices verify downloads against.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// inferType guesses the content type from a MIME type.
func inferType(mimeType string) (types.ContentType, bool) {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return types.ContentImage, true
	case strings.HasPrefix(mimeType, "video/"):
		return types.ContentVideo, true
	case mimeType == "text/html":
		return types.ContentHTML, true
	case mimeType == "text/uri-list":
		return types.ContentURL, true
	}
	return "", false
}

func (l *Library) Create(ctx context.Context, req CreateRequest, data []byte) (types.ContentItem, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return types.ContentItem{}, fmt.Errorf("%w: content name is required", types.ErrInvalidInput)
	}
	if len(data) == 0 {
		return types.ContentItem{}, fmt.Errorf("%w: content data is empty", types.ErrInvalidInput)
	}

	contentType := req.Type
	if contentType == "" {
		inferred, ok := inferType(req.MimeType)
		if !ok {
			return types.ContentItem{}, fmt.Errorf("%w: cannot infer content type from %q", types.ErrInvalidInput, req.MimeType)
		}
		contentType = inferred
	} else if _, err := types.ParseContentType(string(contentType)); err != nil {
		return types.ContentItem{}, err
	}

	duration := req.DurationSeconds
	if duration <= 0 {
		duration = types.DefaultContentDuration
	}

	now := l.clock.Now()
	item := &types.ContentItem{
		ID:              uuid.NewString(),
		Name:            name,
		Type:            contentType,
		MimeType:        req.MimeType,
		Size:            int64(len(data)),
		Checksum:        Checksum(data),
		DurationSeconds: duration,
		CreatedAt:       now,
		UpdatedAt:       now,
		Metadata:        maps.Clone(req.Metadata),
	}

	if err := l.store.Put(ctx, item.ID, data); err != nil {
		return types.ContentItem{}, fmt.Errorf("failed to store content bytes: %w", err)
	}

	l.mu.Lock()
	l.items[item.ID] = item
	l.mu.Unlock()

	l.logger.Info("Content created",
		zap.String("content_id", item.ID),
		zap.String("name", item.Name),
		zap.String("type", string(item.Type)),
		zap.Int64("size", item.Size))

	return item.Clone(), nil
}

func (l *Library) Get(contentID string) (types.ContentItem, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	item, ok := l.items[contentID]
	if !ok {
		return types.ContentItem{}, contentNotFound(contentID)
	}
	return item.Clone(), nil
}

// List returns all items, newest first.
func (l *Library) List() []types.ContentItem {
	l.mu.RLock()
	out := make([]types.ContentItem, 0, len(l.items))
	for _, item := range l.items {
		out = append(out, item.Clone())
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListContent satisfies the registry's CONTENT_LIST provider.
func (l *Library) ListContent() []types.ContentItem {
	return l.List()
}

func (l *Library) Update(contentID string, req UpdateRequest) (types.ContentItem, error) {
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		return types.ContentItem{}, fmt.Errorf("%w: content name must not be empty", types.ErrInvalidInput)
	}
	if req.DurationSeconds != nil && *req.DurationSeconds <= 0 {
		return types.ContentItem{}, fmt.Errorf("%w: duration must be positive", types.ErrInvalidInput)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[contentID]
	if !ok {
		return types.ContentItem{}, contentNotFound(contentID)
	}
	if req.Name != nil {
		item.Name = strings.TrimSpace(*req.Name)
	}
	if req.DurationSeconds != nil {
		item.DurationSeconds = *req.DurationSeconds
	}
	if req.Metadata != nil {
		item.Metadata = maps.Clone(req.Metadata)
	}
	item.UpdatedAt = l.clock.Now()

	return item.Clone(), nil
}

// Replace swaps the bytes of an existing item. An empty mimeType keeps
// the current one.
func (l *Library) Replace(ctx context.Context, contentID string, data []byte, mimeType string) (types.ContentItem, error) {
	if len(data) == 0 {
		return types.ContentItem{}, fmt.Errorf("%w: content data is empty", types.ErrInvalidInput)
	}
	if _, err := l.Get(contentID); err != nil {
		return types.ContentItem{}, err
	}

	if err := l.store.Put(ctx, contentID, data); err != nil {
		return types.ContentItem{}, fmt.Errorf("failed to store content bytes: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.items[contentID]
	if !ok {
		// Deleted while the bytes were being written.
		l.store.Delete(ctx, contentID)
		return types.ContentItem{}, contentNotFound(contentID)
	}
	item.Size = int64(len(data))
	item.Checksum = Checksum(data)
	if mimeType != "" {
		item.MimeType = mimeType
	}
	item.UpdatedAt = l.clock.Now()

	l.logger.Info("Content replaced",
		zap.String("content_id", contentID),
		zap.Int64("size", item.Size))

	return item.Clone(), nil
}

// Delete removes the item and its bytes.
func (l *Library) Delete(ctx context.Context, contentID string) error {
	l.mu.Lock()
	_, ok := l.items[contentID]
	delete(l.items, contentID)
	l.mu.Unlock()

	if !ok {
		return contentNotFound(contentID)
	}

	if err := l.store.Delete(ctx, contentID); err != nil {
		l.logger.Warn("Content bytes not removed",
			zap.String("content_id", contentID),
			zap.Error(err))
	}

	l.logger.Info("Content deleted", zap.String("content_id", contentID))
	return nil
}

// Data returns the item together with its bytes.
func (l *Library) Data(ctx context.Context, contentID string) (types.ContentItem, []byte, error) {
	item, err := l.Get(contentID)
	if err != nil {
		return types.ContentItem{}, nil, err
	}
	data, err := l.store.Get(ctx, contentID)
	if err != nil {
		return types.ContentItem{}, nil, err
	}
	return item, data, nil
}

func (l *Library) delivery(ctx context.Context, contentID string) (protocol.Envelope, error) {
	item, data, err := l.Data(ctx, contentID)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.NewEnvelope(protocol.TypeContentUpdate, "", protocol.ContentDelivery{
		ContentID:       item.ID,
		Name:            item.Name,
		Type:            item.Type,
		MimeType:        item.MimeType,
		Checksum:        item.Checksum,
		DurationSeconds: item.DurationSeconds,
		Data:            data,
	}), nil
}

// Push sends the item with its bytes to clientIDs. An empty list sends
// to nobody; use PushAll for the whole fleet.
func (l *Library) Push(ctx context.Context, contentID string, clientIDs []string) ([]protocol.Delivery, error) {
	env, err := l.delivery(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if len(clientIDs) == 0 {
		return []protocol.Delivery{}, nil
	}

	deliveries := l.dispatcher.SendMany(ctx, clientIDs, env)
	l.logPush(contentID, deliveries)
	return deliveries, nil
}

func (l *Library) PushAll(ctx context.Context, contentID string) ([]protocol.Delivery, error) {
	env, err := l.delivery(ctx, contentID)
	if err != nil {
		return nil, err
	}

	deliveries := l.dispatcher.Broadcast(ctx, env)
	l.logPush(contentID, deliveries)
	return deliveries, nil
}

func (l *Library) logPush(contentID string, deliveries []protocol.Delivery) {
	s := protocol.Summarize(deliveries)
	l.logger.Info("Content pushed",
		zap.String("content_id", contentID),
		zap.Int("sent", s.Sent),
		zap.Int("failed", s.SendFailed),
		zap.Int("not_found", s.NotFound))
}

func contentNotFound(id string) error {
	return fmt.Errorf("content %s: %w", id, types.ErrNotFound)
}
