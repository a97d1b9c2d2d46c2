package protocol

import (
	"encoding/json"
	"fmt"
)

// Outbound is any message the relay emits to a client.
type Outbound interface {
	Event() EventType
}

type Connected struct {
	ConnectionID string `json:"connectionId"`
}

type Joined struct {
	Members            []Member `json:"members"`
	DisplayName        string   `json:"displayName"`
	JoinerConnectionID string   `json:"joinerConnectionId"`
}

type Disconnected struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
}

type AdminStatus struct {
	IsAdmin  bool   `json:"isAdmin"`
	Status   string `json:"status"`
	ReadOnly bool   `json:"readOnly"`
}

type JoinPending struct {
	Status      string `json:"status"`
	DisplayName string `json:"displayName"`
	RoomID      string `json:"roomId"`
}

type JoinNotice struct {
	DisplayName           string `json:"displayName"`
	RequesterConnectionID string `json:"requesterConnectionId"`
	RoomID                string `json:"roomId"`
}

type JoinApproved struct {
	RoomID                string `json:"roomId"`
	RequesterConnectionID string `json:"requesterConnectionId"`
}

type JoinDenied struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

type DeltaBroadcast struct {
	Delta              json.RawMessage `json:"delta"`
	SenderConnectionID string          `json:"senderConnectionId"`
	Version            uint64          `json:"version"`
}

type DocumentSnapshot struct {
	Document string `json:"document"`
}

type LanguageUpdate struct {
	Language string `json:"language"`
}

type InputUpdate struct {
	Stdin string `json:"stdin"`
}

type CursorUpdate struct {
	Position           json.RawMessage `json:"position"`
	DisplayName        string          `json:"displayName"`
	SenderConnectionID string          `json:"senderConnectionId"`
}

type ExecutionOutput struct {
	Output  string `json:"output"`
	IsError bool   `json:"isError"`
}

type VoiceUserJoined struct {
	ConnectionID string      `json:"connectionId"`
	DisplayName  string      `json:"displayName"`
	VoiceUsers   []VoiceUser `json:"voiceUsers"`
}

type VoiceUserLeft struct {
	ConnectionID string      `json:"connectionId"`
	DisplayName  string      `json:"displayName"`
	VoiceUsers   []VoiceUser `json:"voiceUsers"`
}

type VoiceRoster struct {
	VoiceUsers []VoiceUser `json:"voiceUsers"`
}

type VoiceSignalRelay struct {
	Signal           json.RawMessage `json:"signal"`
	FromConnectionID string          `json:"fromConnectionId"`
}

type VoiceMuteUpdate struct {
	ConnectionID string `json:"connectionId"`
	IsMuted      bool   `json:"isMuted"`
	DisplayName  string `json:"displayName"`
}

func (Connected) Event() EventType        { return EventConnected }
func (Joined) Event() EventType           { return EventJoined }
func (Disconnected) Event() EventType     { return EventDisconnected }
func (AdminStatus) Event() EventType      { return EventAdminStatus }
func (JoinPending) Event() EventType      { return EventJoinPending }
func (JoinNotice) Event() EventType       { return EventJoinRequest }
func (JoinApproved) Event() EventType     { return EventJoinApproved }
func (JoinDenied) Event() EventType       { return EventJoinDenied }
func (DeltaBroadcast) Event() EventType   { return EventCodeDelta }
func (DocumentSnapshot) Event() EventType { return EventCodeChange }
func (LanguageUpdate) Event() EventType   { return EventLanguageChange }
func (InputUpdate) Event() EventType      { return EventInputChange }
func (CursorUpdate) Event() EventType     { return EventCursorChange }
func (ExecutionOutput) Event() EventType  { return EventCodeOutput }
func (VoiceUserJoined) Event() EventType  { return EventVoiceUserJoined }
func (VoiceUserLeft) Event() EventType    { return EventVoiceUserLeft }
func (VoiceRoster) Event() EventType      { return EventVoiceRoster }
func (VoiceSignalRelay) Event() EventType { return EventVoiceSignal }
func (VoiceMuteUpdate) Event() EventType  { return EventVoiceMute }

// Encode wraps msg in an envelope and marshals it to a text frame.
func Encode(msg Outbound) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Event(), err)
	}
	return json.Marshal(Envelope{Event: msg.Event(), Data: data})
}
