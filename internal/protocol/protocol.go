package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Represents the name carried in every frame's "event" field
type EventType string

// Client -> relay
const (
	EventJoin           EventType = "join"
	EventLeave          EventType = "leave"
	EventJoinApprove    EventType = "join-approve"
	EventJoinDeny       EventType = "join-deny"
	EventUpdateSettings EventType = "update-settings"
	EventSyncCode       EventType = "sync-code"
	EventSyncLanguage   EventType = "sync-language"
	EventSyncInput      EventType = "sync-input"
	EventVoiceJoin      EventType = "voice-join"
	EventVoiceLeave     EventType = "voice-leave"
)

// Both directions
const (
	EventCodeDelta      EventType = "code-delta"
	EventCodeChange     EventType = "code-change"
	EventLanguageChange EventType = "language-change"
	EventInputChange    EventType = "input-change"
	EventCursorChange   EventType = "cursor-change"
	EventCodeOutput     EventType = "code-output"
	EventVoiceSignal    EventType = "voice-signal"
	EventVoiceMute      EventType = "voice-mute"
)

// Relay -> client
const (
	EventConnected       EventType = "connected"
	EventJoined          EventType = "joined"
	EventDisconnected    EventType = "disconnected"
	EventAdminStatus     EventType = "admin-status"
	EventJoinPending     EventType = "join-request-pending"
	EventJoinRequest     EventType = "join-request"
	EventJoinApproved    EventType = "join-approved"
	EventJoinDenied      EventType = "join-denied"
	EventVoiceUserJoined EventType = "voice-user-joined"
	EventVoiceUserLeft   EventType = "voice-user-left"
	EventVoiceRoster     EventType = "voice-roster"
)

// Room privacy values accepted by update-settings
const (
	StatusPublic  = "public"
	StatusPrivate = "private"
)

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrMalformed    = errors.New("malformed payload")
)

// Envelope is the JSON frame exchanged over the socket.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Member is one entry of the room membership list.
type Member struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

// VoiceUser is one entry of the voice roster.
type VoiceUser struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	IsMuted      bool   `json:"isMuted"`
}

// Splits a raw frame into its event name and payload
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if len(data) == 0 {
		return env, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Event == "" {
		return env, fmt.Errorf("%w: missing event", ErrMalformed)
	}
	return env, nil
}
