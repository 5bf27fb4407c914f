package types

import (
	"maps"
	"slices"
	"time"
)

// Group is a named, connection-independent set of client ids used for
// targeting.
type Group struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Description       string            `json:"description,omitempty"`
	ClientIDs         []string          `json:"clientIds"`
	DefaultPlaylistID string            `json:"defaultPlaylistId,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

func (g Group) Clone() Group {
	g.ClientIDs = slices.Clone(g.ClientIDs)
	g.Metadata = maps.Clone(g.Metadata)
	return g
}

func (g Group) HasMember(clientID string) bool {
	return slices.Contains(g.ClientIDs, clientID)
}
