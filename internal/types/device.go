package types

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// ClientStatus is the health state of a display device.
type ClientStatus string

const (
	StatusUnknown    ClientStatus = "Unknown"
	StatusOnline     ClientStatus = "Online"
	StatusOffline    ClientStatus = "Offline"
	StatusInstalling ClientStatus = "Installing"
	StatusError      ClientStatus = "Error"
)

// ParseClientStatus accepts the canonical names case-insensitively.
func ParseClientStatus(s string) (ClientStatus, error) {
	for _, st := range []ClientStatus{StatusUnknown, StatusOnline, StatusOffline, StatusInstalling, StatusError} {
		if strings.EqualFold(string(st), s) {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown client status %q", ErrInvalidInput, s)
}

// ValidateTransition reports whether a client may move from one status
// to another. Same-status moves are handled by callers as no-ops.
func ValidateTransition(from, to ClientStatus) error {
	switch to {
	case StatusInstalling, StatusError:
		return nil
	}

	validTransitions := map[ClientStatus][]ClientStatus{
		StatusUnknown:    {StatusOnline},
		StatusOnline:     {StatusOffline},
		StatusOffline:    {StatusOnline},
		StatusInstalling: {StatusOnline},
		StatusError:      {StatusOnline},
	}

	for _, validTo := range validTransitions[from] {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// Client is a registered signage display device. The connection registry
// owns the live copy; everything else works on snapshots.
type Client struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	IPAddress      string            `json:"ipAddress"`
	MacAddress     string            `json:"macAddress"`
	Version        string            `json:"version"`
	Platform       string            `json:"platform,omitempty"`
	Status         ClientStatus      `json:"status"`
	ReportedStatus string            `json:"reportedStatus,omitempty"`
	LastError      string            `json:"lastError,omitempty"`
	ConnectedAt    time.Time         `json:"connectedAt"`
	LastSeen       time.Time         `json:"lastSeen"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Clone returns a copy that shares no mutable state with c.
func (c Client) Clone() Client {
	c.Metadata = maps.Clone(c.Metadata)
	return c
}
