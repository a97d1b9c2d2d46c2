package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Inbound is the closed set of messages a client may send. Only the types
// in this file implement it.
type Inbound interface {
	Event() EventType
	validate() error
}

type Join struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

type Leave struct {
	RoomID string `json:"roomId"`
}

type ApproveJoin struct {
	RoomID                string `json:"roomId"`
	RequesterConnectionID string `json:"requesterConnectionId"`
}

type DenyJoin struct {
	RoomID                string `json:"roomId"`
	RequesterConnectionID string `json:"requesterConnectionId"`
	Reason                string `json:"reason,omitempty"`
}

// UpdateSettings carries a partial update: nil fields are left unchanged.
type UpdateSettings struct {
	RoomID   string  `json:"roomId"`
	Status   *string `json:"status,omitempty"`
	ReadOnly *bool   `json:"readOnly,omitempty"`
}

type DocumentDelta struct {
	RoomID string          `json:"roomId"`
	Delta  json.RawMessage `json:"delta"`
}

type DocumentFull struct {
	RoomID   string `json:"roomId"`
	Document string `json:"document"`
}

type LanguageChange struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
}

type InputChange struct {
	RoomID string `json:"roomId"`
	Stdin  string `json:"stdin"`
}

type CursorChange struct {
	RoomID      string          `json:"roomId"`
	Position    json.RawMessage `json:"position"`
	DisplayName string          `json:"displayName"`
}

type ExecutionResult struct {
	RoomID  string `json:"roomId"`
	Output  string `json:"output"`
	IsError bool   `json:"isError"`
}

type SyncDocument struct {
	TargetConnectionID string `json:"targetConnectionId"`
	Document           string `json:"document"`
}

type SyncLanguage struct {
	TargetConnectionID string `json:"targetConnectionId"`
	Language           string `json:"language"`
}

type SyncInput struct {
	TargetConnectionID string `json:"targetConnectionId"`
	Stdin              string `json:"stdin"`
}

type VoiceJoin struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

type VoiceLeave struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName"`
}

type VoiceSignal struct {
	RoomID             string          `json:"roomId"`
	TargetConnectionID string          `json:"targetConnectionId"`
	Signal             json.RawMessage `json:"signal"`
}

type VoiceMute struct {
	RoomID      string `json:"roomId"`
	IsMuted     bool   `json:"isMuted"`
	DisplayName string `json:"displayName"`
}

func (*Join) Event() EventType            { return EventJoin }
func (*Leave) Event() EventType           { return EventLeave }
func (*ApproveJoin) Event() EventType     { return EventJoinApprove }
func (*DenyJoin) Event() EventType        { return EventJoinDeny }
func (*UpdateSettings) Event() EventType  { return EventUpdateSettings }
func (*DocumentDelta) Event() EventType   { return EventCodeDelta }
func (*DocumentFull) Event() EventType    { return EventCodeChange }
func (*LanguageChange) Event() EventType  { return EventLanguageChange }
func (*InputChange) Event() EventType     { return EventInputChange }
func (*CursorChange) Event() EventType    { return EventCursorChange }
func (*ExecutionResult) Event() EventType { return EventCodeOutput }
func (*SyncDocument) Event() EventType    { return EventSyncCode }
func (*SyncLanguage) Event() EventType    { return EventSyncLanguage }
func (*SyncInput) Event() EventType       { return EventSyncInput }
func (*VoiceJoin) Event() EventType       { return EventVoiceJoin }
func (*VoiceLeave) Event() EventType      { return EventVoiceLeave }
func (*VoiceSignal) Event() EventType     { return EventVoiceSignal }
func (*VoiceMute) Event() EventType       { return EventVoiceMute }

func requireRoom(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("%w: missing roomId", ErrMalformed)
	}
	return nil
}

func requireTarget(target string) error {
	if target == "" {
		return fmt.Errorf("%w: missing targetConnectionId", ErrMalformed)
	}
	return nil
}

func requireRaw(name string, raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("%w: missing %s", ErrMalformed, name)
	}
	return nil
}

func (m *Join) validate() error  { return requireRoom(m.RoomID) }
func (m *Leave) validate() error { return requireRoom(m.RoomID) }

func (m *ApproveJoin) validate() error {
	if err := requireRoom(m.RoomID); err != nil {
		return err
	}
	if m.RequesterConnectionID == "" {
		return fmt.Errorf("%w: missing requesterConnectionId", ErrMalformed)
	}
	return nil
}

func (m *DenyJoin) validate() error {
	return (&ApproveJoin{RoomID: m.RoomID, RequesterConnectionID: m.RequesterConnectionID}).validate()
}

func (m *UpdateSettings) validate() error {
	if err := requireRoom(m.RoomID); err != nil {
		return err
	}
	if m.Status != nil && *m.Status != StatusPublic && *m.Status != StatusPrivate {
		return fmt.Errorf("%w: invalid status %q", ErrMalformed, *m.Status)
	}
	return nil
}

func (m *DocumentDelta) validate() error {
	if err := requireRoom(m.RoomID); err != nil {
		return err
	}
	return requireRaw("delta", m.Delta)
}

func (m *DocumentFull) validate() error    { return requireRoom(m.RoomID) }
func (m *LanguageChange) validate() error  { return requireRoom(m.RoomID) }
func (m *InputChange) validate() error     { return requireRoom(m.RoomID) }
func (m *CursorChange) validate() error    { return requireRoom(m.RoomID) }
func (m *ExecutionResult) validate() error { return requireRoom(m.RoomID) }
func (m *SyncDocument) validate() error    { return requireTarget(m.TargetConnectionID) }
func (m *SyncLanguage) validate() error    { return requireTarget(m.TargetConnectionID) }
func (m *SyncInput) validate() error       { return requireTarget(m.TargetConnectionID) }
func (m *VoiceJoin) validate() error       { return requireRoom(m.RoomID) }
func (m *VoiceLeave) validate() error      { return requireRoom(m.RoomID) }
func (m *VoiceMute) validate() error       { return requireRoom(m.RoomID) }

func (m *VoiceSignal) validate() error {
	if err := requireRoom(m.RoomID); err != nil {
		return err
	}
	if err := requireTarget(m.TargetConnectionID); err != nil {
		return err
	}
	return requireRaw("signal", m.Signal)
}

func newInbound(event EventType) (Inbound, bool) {
	switch event {
	case EventJoin:
		return &Join{}, true
	case EventLeave:
		return &Leave{}, true
	case EventJoinApprove:
		return &ApproveJoin{}, true
	case EventJoinDeny:
		return &DenyJoin{}, true
	case EventUpdateSettings:
		return &UpdateSettings{}, true
	case EventCodeDelta:
		return &DocumentDelta{}, true
	case EventCodeChange:
		return &DocumentFull{}, true
	case EventLanguageChange:
		return &LanguageChange{}, true
	case EventInputChange:
		return &InputChange{}, true
	case EventCursorChange:
		return &CursorChange{}, true
	case EventCodeOutput:
		return &ExecutionResult{}, true
	case EventSyncCode:
		return &SyncDocument{}, true
	case EventSyncLanguage:
		return &SyncLanguage{}, true
	case EventSyncInput:
		return &SyncInput{}, true
	case EventVoiceJoin:
		return &VoiceJoin{}, true
	case EventVoiceLeave:
		return &VoiceLeave{}, true
	case EventVoiceSignal:
		return &VoiceSignal{}, true
	case EventVoiceMute:
		return &VoiceMute{}, true
	}
	return nil, false
}

// Decode parses a client frame into one of the Inbound variants. The
// returned value is always a pointer to the concrete variant.
func Decode(data []byte) (Inbound, error) {
	env, err := DecodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	msg, ok := newInbound(env.Event)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s has no data", ErrMalformed, env.Event)
	}
	if err := json.Unmarshal(env.Data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, env.Event, err)
	}
	if err := msg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", env.Event, err)
	}
	return msg, nil
}
