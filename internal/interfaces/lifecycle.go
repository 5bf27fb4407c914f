package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenSignageCore/internal/api/websocket"
	"github.com/KevinKickass/OpenSignageCore/internal/composition"
	"github.com/KevinKickass/OpenSignageCore/internal/config"
	"github.com/KevinKickass/OpenSignageCore/internal/content"
	"github.com/KevinKickass/OpenSignageCore/internal/emergency"
	"github.com/KevinKickass/OpenSignageCore/internal/groups"
	"github.com/KevinKickass/OpenSignageCore/internal/health"
	"github.com/KevinKickass/OpenSignageCore/internal/overlay"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string `json:"state"`
	UptimeSeconds    int64  `json:"uptimeSeconds"`
	ConnectedClients int    `json:"connectedClients"`
	OnlineClients    int    `json:"onlineClients"`
	StaleClients     int    `json:"staleClients"`
	Watchers         int    `json:"watchers"`
	StorageBackend   string `json:"storageBackend"`
}

// LifecycleManager is what the admin API sees of the running system.
type LifecycleManager interface {
	Config() *config.Config
	Hub() *websocket.Hub
	Monitor() *health.Monitor
	Events() *websocket.EventStream
	Groups() *groups.Directory
	Library() *content.Library
	Playlists() *content.Playlists
	Overlays() *overlay.Service
	Compositions() *composition.Service
	Emergency() *emergency.Broadcaster
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
