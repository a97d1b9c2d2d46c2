package relay

import (
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/atomic"

	"github.com/manpreetbhatti/codesync-relay/internal/protocol"
	"github.com/manpreetbhatti/codesync-relay/internal/room"
)

var (
	ErrNotJoined         = errors.New("connection has not joined the room")
	ErrNotAdmin          = errors.New("operation requires room admin")
	ErrUnknownTarget     = errors.New("target connection is not in the room")
	ErrReadOnly          = errors.New("room is read-only")
	ErrNotInVoice        = errors.New("connection is not in voice")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrDuplicateID       = errors.New("connection id already registered")
)

// Observer is told about room lifecycle changes. Calls happen on the
// engine's serialized path, so implementations must return quickly.
type Observer interface {
	RoomOpened(room.Summary)
	RoomChanged(room.Summary)
	RoomClosed(room.Summary)
}

type Options struct {
	// Drop document edits from non-admins while the room is read-only.
	EnforceReadOnly bool
}

type Stats struct {
	Rooms       int    `json:"active_rooms"`
	Connections int    `json:"active_clients"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	Handled     uint64 `json:"handled"`
	Rejected    uint64 `json:"rejected"`
}

// Engine owns all room and connection state. It is not safe for concurrent
// use; the ws hub serializes every call.
type Engine struct {
	log       *slog.Logger
	opts      Options
	store     *room.Store
	conns     *Registry
	observers []Observer

	delivered atomic.Uint64
	dropped   atomic.Uint64
	handled   atomic.Uint64
	rejected  atomic.Uint64
}

func NewEngine(log *slog.Logger, opts Options, observers ...Observer) *Engine {
	return &Engine{
		log:       log,
		opts:      opts,
		store:     room.NewStore(),
		conns:     NewRegistry(),
		observers: observers,
	}
}

// Connect registers a new connection and greets it with its own id.
// identity is the authenticated username, or empty.
func (e *Engine) Connect(id, identity string, sink Sink) error {
	c := &Connection{ID: id, Identity: identity, sink: sink}
	if !e.conns.Add(c) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}
	e.send(c, protocol.Connected{ConnectionID: id})
	return nil
}

// Disconnect runs departure cleanup and forgets the connection.
func (e *Engine) Disconnect(id string) error {
	c, ok := e.conns.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	e.depart(c)
	e.conns.Remove(id)
	return nil
}

// Handle applies one inbound event from connection id.
func (e *Engine) Handle(id string, msg protocol.Inbound) error {
	c, ok := e.conns.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}

	err := e.dispatch(c, msg)
	if err != nil {
		e.rejected.Inc()
		return fmt.Errorf("%s: %w", msg.Event(), err)
	}
	e.handled.Inc()
	return nil
}

func (e *Engine) dispatch(c *Connection, msg protocol.Inbound) error {
	switch m := msg.(type) {
	case *protocol.Join:
		return e.join(c, m)
	case *protocol.Leave:
		return e.leave(c, m)
	case *protocol.ApproveJoin:
		return e.approve(c, m)
	case *protocol.DenyJoin:
		return e.deny(c, m)
	case *protocol.UpdateSettings:
		return e.updateSettings(c, m)
	case *protocol.DocumentDelta:
		return e.documentDelta(c, m)
	case *protocol.DocumentFull:
		return e.documentFull(c, m)
	case *protocol.LanguageChange:
		return e.languageChange(c, m)
	case *protocol.InputChange:
		return e.inputChange(c, m)
	case *protocol.CursorChange:
		return e.cursorChange(c, m)
	case *protocol.ExecutionResult:
		return e.executionResult(c, m)
	case *protocol.SyncDocument:
		return e.syncDocument(c, m)
	case *protocol.SyncLanguage:
		return e.syncLanguage(c, m)
	case *protocol.SyncInput:
		return e.syncInput(c, m)
	case *protocol.VoiceJoin:
		return e.voiceJoin(c, m)
	case *protocol.VoiceLeave:
		return e.voiceLeave(c, m)
	case *protocol.VoiceSignal:
		return e.voiceSignal(c, m)
	case *protocol.VoiceMute:
		return e.voiceMute(c, m)
	}
	return fmt.Errorf("%w: %T", protocol.ErrUnknownEvent, msg)
}

// Returns the room c has joined, provided it matches roomID
func (e *Engine) joinedRoom(c *Connection, roomID string) (*room.Room, error) {
	if !c.joinedTo(roomID) {
		return nil, ErrNotJoined
	}
	r, ok := e.store.Get(roomID)
	if !ok {
		return nil, ErrNotJoined
	}
	return r, nil
}

// Resolves a unicast target that shares r with the sender
func (e *Engine) target(r *room.Room, id string) (*Connection, error) {
	t, ok := e.conns.Get(id)
	if !ok || !t.joinedTo(r.ID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, id)
	}
	return t, nil
}

func (e *Engine) encode(msg protocol.Outbound) []byte {
	frame, err := protocol.Encode(msg)
	if err != nil {
		e.log.Error("encode failed", "event", msg.Event(), "err", err)
		return nil
	}
	return frame
}

func (e *Engine) deliver(c *Connection, frame []byte) {
	if c.sink.Send(frame) {
		e.delivered.Inc()
		return
	}
	e.dropped.Inc()
	e.log.Debug("frame dropped", "conn", c.ID, "room", c.RoomID)
}

func (e *Engine) send(c *Connection, msg protocol.Outbound) {
	if frame := e.encode(msg); frame != nil {
		e.deliver(c, frame)
	}
}

// Sends msg to every member of r except the connection with id except.
func (e *Engine) broadcast(r *room.Room, msg protocol.Outbound, except string) {
	frame := e.encode(msg)
	if frame == nil {
		return
	}
	for _, m := range r.Members() {
		if m.ConnectionID == except {
			continue
		}
		if c, ok := e.conns.Get(m.ConnectionID); ok {
			e.deliver(c, frame)
		}
	}
}

func (e *Engine) notifyOpened(r *room.Room) {
	s := r.Summary()
	for _, o := range e.observers {
		o.RoomOpened(s)
	}
}

func (e *Engine) notifyChanged(r *room.Room) {
	s := r.Summary()
	for _, o := range e.observers {
		o.RoomChanged(s)
	}
}

func (e *Engine) notifyClosed(r *room.Room) {
	s := r.Summary()
	for _, o := range e.observers {
		o.RoomClosed(s)
	}
}

func (e *Engine) Stats() Stats {
	return Stats{
		Rooms:       e.store.Len(),
		Connections: e.conns.Len(),
		Delivered:   e.delivered.Load(),
		Dropped:     e.dropped.Load(),
		Handled:     e.handled.Load(),
		Rejected:    e.rejected.Load(),
	}
}

func (e *Engine) Rooms() []room.Summary {
	return e.store.Summaries()
}

func (e *Engine) Room(id string) (room.Summary, bool) {
	r, ok := e.store.Get(id)
	if !ok {
		return room.Summary{}, false
	}
	return r.Summary(), true
}
