package types

import (
	"fmt"
	"slices"
	"time"
)

type EmergencyPriority int

const (
	EmergencyLow      EmergencyPriority = 0
	EmergencyMedium   EmergencyPriority = 50
	EmergencyHigh     EmergencyPriority = 100
	EmergencyCritical EmergencyPriority = 200
)

type EmergencyType string

const (
	EmergencyInfo       EmergencyType = "info"
	EmergencyAlert      EmergencyType = "alert"
	EmergencyWarning    EmergencyType = "warning"
	EmergencyEmergency  EmergencyType = "emergency"
	EmergencyEvacuation EmergencyType = "evacuation"
)

func ParseEmergencyType(s string) (EmergencyType, error) {
	switch t := EmergencyType(s); t {
	case EmergencyInfo, EmergencyAlert, EmergencyWarning, EmergencyEmergency, EmergencyEvacuation:
		return t, nil
	}
	return "", fmt.Errorf("%w: emergency type %q", ErrInvalidInput, s)
}

// BroadcastState is derived from the broadcast's flags and the current
// time; it is never stored.
type BroadcastState string

const (
	BroadcastCreated BroadcastState = "created"
	BroadcastActive  BroadcastState = "active"
	BroadcastCleared BroadcastState = "cleared"
	BroadcastExpired BroadcastState = "expired"
)

type EmergencyStyle struct {
	BackgroundColor string `json:"backgroundColor"`
	TextColor       string `json:"textColor"`
	FontSize        int    `json:"fontSize"`
	Flashing        bool   `json:"flashing"`
	FullScreen      bool   `json:"fullScreen"`

	// DurationSeconds of 0 keeps the alert up until it is cleared.
	DurationSeconds int `json:"durationSeconds"`
}

// DefaultEmergencyStyle picks colors by alert type.
func DefaultEmergencyStyle(t EmergencyType) EmergencyStyle {
	style := EmergencyStyle{
		BackgroundColor: "#FF0000",
		TextColor:       "#FFFFFF",
		FontSize:        48,
		FullScreen:      true,
	}
	switch t {
	case EmergencyInfo:
		style.BackgroundColor = "#0066CC"
	case EmergencyWarning:
		style.BackgroundColor = "#FF9900"
		style.TextColor = "#000000"
	case EmergencyEmergency, EmergencyEvacuation:
		style.Flashing = true
	}
	return style
}

type EmergencyBroadcast struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Message         string            `json:"message"`
	Priority        EmergencyPriority `json:"priority"`
	Type            EmergencyType     `json:"type"`
	Style           EmergencyStyle    `json:"style"`
	TargetClientIDs []string          `json:"targetClientIds,omitempty"`
	TargetGroupIDs  []string          `json:"targetGroupIds,omitempty"`
	Active          bool              `json:"active"`
	CreatedBy       string            `json:"createdBy,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	ExpiresAt       *time.Time        `json:"expiresAt,omitempty"`
	SentAt          *time.Time        `json:"sentAt,omitempty"`
	ClearedAt       *time.Time        `json:"clearedAt,omitempty"`
}

func (b EmergencyBroadcast) Clone() EmergencyBroadcast {
	b.TargetClientIDs = slices.Clone(b.TargetClientIDs)
	b.TargetGroupIDs = slices.Clone(b.TargetGroupIDs)
	return b
}

// Expired reports whether the broadcast's expiry lies before now.
func (b EmergencyBroadcast) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && now.After(*b.ExpiresAt)
}

func (b EmergencyBroadcast) State(now time.Time) BroadcastState {
	switch {
	case b.Active && b.Expired(now):
		return BroadcastExpired
	case b.Active:
		return BroadcastActive
	case b.ClearedAt != nil:
		return BroadcastCleared
	default:
		return BroadcastCreated
	}
}
