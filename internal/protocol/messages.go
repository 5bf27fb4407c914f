package protocol

import (
	"time"

	"github.com/KevinKickass/OpenSignageCore/internal/types"
)

// MessageType is the envelope's "type" tag.
type MessageType string

const (
	// Device session
	TypeRegister  MessageType = "REGISTER"
	TypeHeartbeat MessageType = "HEARTBEAT"
	TypeStatus    MessageType = "STATUS"
	TypeError     MessageType = "ERROR"

	// Distribution
	TypeContentUpdate  MessageType = "CONTENT_UPDATE"
	TypeCommand        MessageType = "COMMAND"
	TypeInstallClient  MessageType = "INSTALL_CLIENT"
	TypePlaylistUpdate MessageType = "PLAYLIST_UPDATE"
	TypeOverlayUpdate  MessageType = "OVERLAY_UPDATE"

	// Listings for management consoles
	TypeClientList  MessageType = "CLIENT_LIST"
	TypeContentList MessageType = "CONTENT_LIST"

	// Emergency override
	TypeEmergencyBroadcast MessageType = "EMERGENCY_BROADCAST"
	TypeEmergencyClear     MessageType = "EMERGENCY_CLEAR"
)

var knownTypes = map[MessageType]PayloadKind{
	TypeRegister:           KindRegistration,
	TypeHeartbeat:          KindRaw,
	TypeStatus:             KindStatus,
	TypeError:              KindError,
	TypeContentUpdate:      KindContentItem,
	TypeCommand:            KindCommand,
	TypeInstallClient:      KindInstall,
	TypePlaylistUpdate:     KindPlaylist,
	TypeOverlayUpdate:      KindOverlays,
	TypeClientList:         KindClients,
	TypeContentList:        KindContentList,
	TypeEmergencyBroadcast: KindEmergency,
	TypeEmergencyClear:     KindEmergencyClear,
}

// Known reports whether t is part of the protocol.
func (t MessageType) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// defaultKind is the payload kind assumed when a frame omits "kind".
func (t MessageType) defaultKind() PayloadKind {
	if k, ok := knownTypes[t]; ok {
		return k
	}
	return KindRaw
}

// Envelope is the only structure that crosses the device socket. Data's
// concrete type is the discriminant written as "kind" on the wire.
type Envelope struct {
	Type      MessageType
	ClientID  string
	Data      Payload
	Timestamp time.Time
}

// Kind returns the payload discriminant, empty when there is no payload.
func (e Envelope) Kind() PayloadKind {
	if e.Data == nil {
		return ""
	}
	return e.Data.Kind()
}

// NewEnvelope stamps a message with the current UTC time.
func NewEnvelope(msgType MessageType, clientID string, data Payload) Envelope {
	return Envelope{
		Type:      msgType,
		ClientID:  clientID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// Helper functions for creating specific message types

func NewRegisterAck(clientID string) Envelope {
	return NewEnvelope(TypeRegister, clientID, RegisterAck{Success: true, ClientID: clientID})
}

func NewCommand(clientID, command string, params map[string]any) Envelope {
	return NewEnvelope(TypeCommand, clientID, Command{Command: command, Parameters: params})
}

func NewErrorMessage(clientID, code, message string) Envelope {
	return NewEnvelope(TypeError, clientID, ErrorReport{Code: code, Message: message})
}

func NewClientList(clients []types.Client) Envelope {
	return NewEnvelope(TypeClientList, "", ClientList(clients))
}

func NewContentList(items []types.ContentItem) Envelope {
	return NewEnvelope(TypeContentList, "", ContentList(items))
}
