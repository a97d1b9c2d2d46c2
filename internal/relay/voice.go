package relay

import (
	"github.com/manpreetbhatti/codesync-relay/internal/protocol"
	"github.com/manpreetbhatti/codesync-relay/internal/room"
)

func (e *Engine) voiceJoin(c *Connection, m *protocol.VoiceJoin) error {
	r, err := e.joinedRoom(c, m.RoomID)
	if err != nil {
		return err
	}
	r.AddVoice(room.VoiceParticipant{ConnectionID: c.ID, DisplayName: c.DisplayName})
	e.broadcast(r, protocol.VoiceUserJoined{
		ConnectionID: c.ID,
		DisplayName:  c.DisplayName,
		VoiceUsers:   wireVoice(r),
	}, "")
	e.notifyChanged(r)
	return nil
}

func (e *Engine) voiceLeave(c *Connection, m *protocol.VoiceLeave) error {
	r, err := e.joinedRoom(c, m.RoomID)
	if err != nil {
		return err
	}
	if _, ok := r.RemoveVoice(c.ID); !ok {
		return ErrNotInVoice
	}
	e.broadcast(r, protocol.VoiceUserLeft{
		ConnectionID: c.ID,
		DisplayName:  c.DisplayName,
		VoiceUsers:   wireVoice(r),
	}, "")
	e.notifyChanged(r)
	return nil
}

// The signal payload is forwarded untouched.
func (e *Engine) voiceSignal(c *Connection, m *protocol.VoiceSignal) error {
	r, err := e.joinedRoom(c, m.RoomID)
	if err != nil {
		return err
	}
	t, err := e.target(r, m.TargetConnectionID)
	if err != nil {
		return err
	}
	e.send(t, protocol.VoiceSignalRelay{Signal: m.Signal, FromConnectionID: c.ID})
	return nil
}

func (e *Engine) voiceMute(c *Connection, m *protocol.VoiceMute) error {
	r, err := e.joinedRoom(c, m.RoomID)
	if err != nil {
		return err
	}
	if !r.SetMuted(c.ID, m.IsMuted) {
		return ErrNotInVoice
	}
	e.broadcast(r, protocol.VoiceMuteUpdate{
		ConnectionID: c.ID,
		IsMuted:      m.IsMuted,
		DisplayName:  c.DisplayName,
	}, c.ID)
	return nil
}
