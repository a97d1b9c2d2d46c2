package room

import "sort"

// Store owns every live room. It holds no lock: all access happens on the
// hub's serialized event path.
type Store struct {
	rooms map[string]*Room
}

func NewStore() *Store {
	return &Store{rooms: make(map[string]*Room)}
}

// Returns the room for id, creating it if needed. The bool reports whether
// the room was created by this call.
func (s *Store) GetOrCreate(id string) (*Room, bool) {
	if r, ok := s.rooms[id]; ok {
		return r, false
	}
	r := NewRoom(id)
	s.rooms[id] = r
	return r, true
}

func (s *Store) Get(id string) (*Room, bool) {
	r, ok := s.rooms[id]
	return r, ok
}

func (s *Store) Delete(id string) {
	delete(s.rooms, id)
}

func (s *Store) Len() int {
	return len(s.rooms)
}

// Returns summaries of all rooms ordered by id
func (s *Store) Summaries() []Summary {
	out := make([]Summary, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
