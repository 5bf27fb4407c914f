package protocol

import (
	"github.com/KevinKickass/OpenSignageCore/internal/types"
)

// PayloadKind discriminates the envelope's data union.
type PayloadKind string

const (
	KindRegistration   PayloadKind = "registration"
	KindRegisterAck    PayloadKind = "register-ack"
	KindClients        PayloadKind = "clients"
	KindContentList    PayloadKind = "content-list"
	KindClient         PayloadKind = "client"
	KindContentItem    PayloadKind = "content-item"
	KindCommand        PayloadKind = "command"
	KindStatus         PayloadKind = "status"
	KindError          PayloadKind = "error"
	KindRaw            PayloadKind = "raw"
	KindPlaylist       PayloadKind = "playlist"
	KindOverlays       PayloadKind = "overlays"
	KindComposition    PayloadKind = "composition"
	KindEmergency      PayloadKind = "emergency"
	KindEmergencyClear PayloadKind = "emergency-clear"
	KindInstall        PayloadKind = "install"
)

// Payload is implemented by every variant of the data union.
type Payload interface {
	Kind() PayloadKind
}

// newPayload returns a pointer to an empty variant for decoding.
func newPayload(k PayloadKind) (Payload, bool) {
	switch k {
	case KindRegistration:
		return &Registration{}, true
	case KindRegisterAck:
		return &RegisterAck{}, true
	case KindClients:
		return &ClientList{}, true
	case KindContentList:
		return &ContentList{}, true
	case KindClient:
		return &ClientInfo{}, true
	case KindContentItem:
		return &ContentDelivery{}, true
	case KindCommand:
		return &Command{}, true
	case KindStatus:
		return &StatusReport{}, true
	case KindError:
		return &ErrorReport{}, true
	case KindRaw:
		return &Raw{}, true
	case KindPlaylist:
		return &PlaylistAssignment{}, true
	case KindOverlays:
		return &OverlayUpdate{}, true
	case KindComposition:
		return &CompositionUpdate{}, true
	case KindEmergency:
		return &EmergencyAlert{}, true
	case KindEmergencyClear:
		return &EmergencyClear{}, true
	case KindInstall:
		return &InstallRequest{}, true
	}
	return nil, false
}

// Registration is what a device announces about itself. ClientID is
// whatever the device believes its id is; the server never binds it.
type Registration struct {
	ClientID        string            `json:"clientId,omitempty"`
	Name            string            `json:"name"`
	MacAddress      string            `json:"macAddress"`
	Version         string            `json:"version"`
	Platform        string            `json:"platform,omitempty"`
	PlatformVersion string            `json:"platformVersion,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type RegisterAck struct {
	Success  bool   `json:"success"`
	ClientID string `json:"clientId"`
}

type ClientList []types.Client

type ContentList []types.ContentItem

type ClientInfo struct {
	types.Client
}

// ContentDelivery carries a content item with its bytes.
type ContentDelivery struct {
	ContentID       string            `json:"contentId"`
	Name            string            `json:"name"`
	Type            types.ContentType `json:"type"`
	MimeType        string            `json:"mimeType"`
	Checksum        string            `json:"checksum"`
	DurationSeconds int               `json:"durationSeconds"`
	Data            []byte            `json:"data,omitempty"`
}

type Command struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// StatusReport is a device's self-reported state, e.g. content_received.
type StatusReport struct {
	Status    string         `json:"status"`
	ContentID string         `json:"contentId,omitempty"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

type ErrorReport struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Raw holds data of an unrecognized shape.
type Raw map[string]any

type PlaylistAssignment struct {
	Action   string              `json:"action"`
	Playlist types.Playlist      `json:"playlist"`
	Content  []types.ContentItem `json:"content,omitempty"`
}

// RenderedOverlay is an overlay resolved to a delivery-ready payload.
type RenderedOverlay struct {
	OverlayID              string                `json:"overlayId"`
	PlacementID            string                `json:"placementId,omitempty"`
	Name                   string                `json:"name"`
	Type                   types.OverlayType     `json:"type"`
	Position               types.OverlayPosition `json:"position"`
	ZIndex                 int                   `json:"zIndex"`
	Style                  types.OverlayStyle    `json:"style"`
	HTML                   string                `json:"html"`
	Data                   map[string]any        `json:"data,omitempty"`
	Unavailable            bool                  `json:"unavailable,omitempty"`
	RefreshIntervalSeconds int                   `json:"refreshIntervalSeconds,omitempty"`
	RenderedAt             string                `json:"renderedAt"`
}

type OverlayUpdate struct {
	Overlays []RenderedOverlay `json:"overlays"`
}

// CompositionUpdate is published as a COMMAND; Command is always
// "composition_update" so devices that ignore kind still route it.
type CompositionUpdate struct {
	Command       string            `json:"command"`
	CompositionID string            `json:"compositionId"`
	Name          string            `json:"name"`
	Resolution    types.Resolution  `json:"resolution"`
	AspectRatio   string            `json:"aspectRatio"`
	Background    types.Background  `json:"background"`
	Overlays      []RenderedOverlay `json:"overlays"`
}

type EmergencyAlert struct {
	BroadcastID string                  `json:"broadcastId"`
	Title       string                  `json:"title"`
	Message     string                  `json:"message"`
	Priority    types.EmergencyPriority `json:"priority"`
	Type        types.EmergencyType     `json:"type"`
	Style       types.EmergencyStyle    `json:"style"`
	ExpiresAt   string                  `json:"expiresAt,omitempty"`
}

type EmergencyClear struct {
	BroadcastID string `json:"broadcastId,omitempty"`
	ClearAll    bool   `json:"clearAll"`
}

type InstallRequest struct {
	PackageURL string `json:"packageUrl"`
	Version    string `json:"version,omitempty"`
	Checksum   string `json:"checksum,omitempty"`
}

func (Registration) Kind() PayloadKind       { return KindRegistration }
func (RegisterAck) Kind() PayloadKind        { return KindRegisterAck }
func (ClientList) Kind() PayloadKind         { return KindClients }
func (ContentList) Kind() PayloadKind        { return KindContentList }
func (ClientInfo) Kind() PayloadKind         { return KindClient }
func (ContentDelivery) Kind() PayloadKind    { return KindContentItem }
func (Command) Kind() PayloadKind            { return KindCommand }
func (StatusReport) Kind() PayloadKind       { return KindStatus }
func (ErrorReport) Kind() PayloadKind        { return KindError }
func (Raw) Kind() PayloadKind                { return KindRaw }
func (PlaylistAssignment) Kind() PayloadKind { return KindPlaylist }
func (OverlayUpdate) Kind() PayloadKind      { return KindOverlays }
func (CompositionUpdate) Kind() PayloadKind  { return KindComposition }
func (EmergencyAlert) Kind() PayloadKind     { return KindEmergency }
func (EmergencyClear) Kind() PayloadKind     { return KindEmergencyClear }
func (InstallRequest) Kind() PayloadKind     { return KindInstall }
