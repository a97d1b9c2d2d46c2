package relay

// Sink delivers encoded frames to one connection. Send must not block; it
// reports false when the frame was dropped.
type Sink interface {
	Send(frame []byte) bool
}

type connState int

const (
	stateUnjoined connState = iota
	statePending
	stateJoined
)

// Connection is one live participant. DisplayName is fixed by the first
// JOIN and never changes afterwards.
type Connection struct {
	ID          string
	Identity    string
	DisplayName string
	RoomID      string

	state connState
	sink  Sink
}

func (c *Connection) joinedTo(roomID string) bool {
	return c.state == stateJoined && c.RoomID == roomID
}

func (c *Connection) reset() {
	c.state = stateUnjoined
	c.RoomID = ""
}

// Registry maps connection ids to live connections.
type Registry struct {
	conns map[string]*Connection
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Connection)}
}

func (r *Registry) Add(c *Connection) bool {
	if _, ok := r.conns[c.ID]; ok {
		return false
	}
	r.conns[c.ID] = c
	return true
}

func (r *Registry) Get(id string) (*Connection, bool) {
	c, ok := r.conns[id]
	return c, ok
}

func (r *Registry) Remove(id string) {
	delete(r.conns, id)
}

func (r *Registry) Len() int {
	return len(r.conns)
}
