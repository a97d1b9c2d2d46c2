package relay

import (
	"github.com/manpreetbhatti/codesync-relay/internal/protocol"
	"github.com/manpreetbhatti/codesync-relay/internal/room"
)

func (e *Engine) editableRoom(c *Connection, roomID string) (*room.Room, error) {
	r, err := e.joinedRoom(c, roomID)
	if err != nil {
		return nil, err
	}
	if e.opts.EnforceReadOnly && r.ReadOnly && !r.IsAdmin(c.ID) {
		return nil, ErrReadOnly
	}
	return r, nil
}

func (e *Engine) documentDelta(c *Connection, m *protocol.DocumentDelta) error {
	r, err := e.editableRoom(c, m.RoomID)
	if err != nil {
		return err
	}
	version := r.BumpVersion()
	e.broadcast(r, protocol.DeltaBroadcast{
		Delta:              m.Delta,
		SenderConnectionID: c.ID,
		Version:            version,
	}, c.ID)
	return nil
}

func (e *Engine) documentFull(c *Connection, m *protocol.DocumentFull) error {
	r, err := e.editableRoom(c, m.RoomID)
	if err != nil {
		return err
	}
	r.Document = m.Document
	e.broadcast(r, protocol.DocumentSnapshot{Document: m.Document}, c.ID)
	return nil
}

func (e *Engine) languageChange(c *Connection, m *protocol.LanguageChange) error {
	r, err := e.joinedRoom(c, m.RoomID)
	if err != nil {
		return err
	}
	r.Language = m.Language
	e.broadcast(r, protocol.LanguageUpdate{Language: m.Language}, c.ID)
	e.notifyChanged(r)
	return nil
}

func (e *Engine) inputChange(c *Connection, m *protocol.InputChange) error {
	r, err := e.joinedRoom(c, m.RoomID)
	if err != nil {
		return err
	}
	r.Stdin = m.Stdin
	e.broadcast(r, protocol.InputUpdate{Stdin: m.Stdin}, c.ID)
	return nil
}

func (e *Engine) cursorChange(c *Connection, m *protocol.CursorChange) error {
	r, err := e.joinedRoom(c, m.RoomID)
	if err != nil {
		return err
	}
	e.broadcast(r, protocol.CursorUpdate{
		Position:           m.Position,
		DisplayName:        c.DisplayName,
		SenderConnectionID: c.ID,
	}, c.ID)
	return nil
}

func (e *Engine) executionResult(c *Connection, m *protocol.ExecutionResult) error {
	r, err := e.joinedRoom(c, m.RoomID)
	if err != nil {
		return err
	}
	e.broadcast(r, protocol.ExecutionOutput{Output: m.Output, IsError: m.IsError}, c.ID)
	return nil
}

// Unicast events resolve the sender's own room and only reach members of it.
func (e *Engine) syncTarget(c *Connection, targetID string) (*Connection, error) {
	if c.state != stateJoined {
		return nil, ErrNotJoined
	}
	r, err := e.joinedRoom(c, c.RoomID)
	if err != nil {
		return nil, err
	}
	return e.target(r, targetID)
}

func (e *Engine) syncDocument(c *Connection, m *protocol.SyncDocument) error {
	t, err := e.syncTarget(c, m.TargetConnectionID)
	if err != nil {
		return err
	}
	e.send(t, protocol.DocumentSnapshot{Document: m.Document})
	return nil
}

func (e *Engine) syncLanguage(c *Connection, m *protocol.SyncLanguage) error {
	t, err := e.syncTarget(c, m.TargetConnectionID)
	if err != nil {
		return err
	}
	e.send(t, protocol.LanguageUpdate{Language: m.Language})
	return nil
}

func (e *Engine) syncInput(c *Connection, m *protocol.SyncInput) error {
	t, err := e.syncTarget(c, m.TargetConnectionID)
	if err != nil {
		return err
	}
	e.send(t, protocol.InputUpdate{Stdin: m.Stdin})
	return nil
}
