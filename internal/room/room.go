package room

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPublic  Status = "public"
	StatusPrivate Status = "private"
)

const DefaultLanguage = "javascript"

var ErrNotMember = errors.New("connection is not a member of the room")

type Member struct {
	ConnectionID string
	DisplayName  string
}

type VoiceParticipant struct {
	ConnectionID string
	DisplayName  string
	Muted        bool
}

// A collaborative editing session. Rooms are not safe for concurrent use;
// callers serialize access (the hub does this for the whole process).
type Room struct {
	ID        string
	Document  string
	Language  string
	Stdin     string
	Version   uint64
	Admin     string
	Status    Status
	ReadOnly  bool
	CreatedAt time.Time

	members []Member
	allowed map[string]struct{}
	voice   []VoiceParticipant

	peakMembers int
	peakVoice   int
	deltas      uint64
}

// Creates a new room with the given ID
func NewRoom(id string) *Room {
	r := &Room{ID: id, CreatedAt: time.Now()}
	r.Reset()
	return r
}

// Returns the room to its initial state. Membership and the voice roster
// are left alone.
func (r *Room) Reset() {
	r.Document = ""
	r.Language = DefaultLanguage
	r.Stdin = ""
	r.Version = 0
	r.Admin = ""
	r.Status = StatusPublic
	r.ReadOnly = false
	r.allowed = make(map[string]struct{})
}

// Adds a member at the end of the join order. Re-adding an existing member
// is a no-op.
func (r *Room) AddMember(m Member) bool {
	if r.HasMember(m.ConnectionID) {
		return false
	}
	r.members = append(r.members, m)
	if len(r.members) > r.peakMembers {
		r.peakMembers = len(r.members)
	}
	return true
}

func (r *Room) RemoveMember(connID string) (Member, error) {
	for i, m := range r.members {
		if m.ConnectionID == connID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return m, nil
		}
	}
	return Member{}, ErrNotMember
}

func (r *Room) HasMember(connID string) bool {
	for _, m := range r.members {
		if m.ConnectionID == connID {
			return true
		}
	}
	return false
}

// Returns a copy of the members in join order
func (r *Room) Members() []Member {
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out
}

func (r *Room) MemberCount() int {
	return len(r.members)
}

func (r *Room) Allow(connID string) {
	r.allowed[connID] = struct{}{}
}

func (r *Room) IsAllowed(connID string) bool {
	_, ok := r.allowed[connID]
	return ok
}

// Makes connID the sole admin and keeps it on the allow-list
func (r *Room) AssignAdmin(connID string) {
	r.Admin = connID
	r.Allow(connID)
}

func (r *Room) IsAdmin(connID string) bool {
	return connID != "" && r.Admin == connID
}

// Applies a partial settings update; nil fields are left unchanged.
func (r *Room) ApplySettings(status *Status, readOnly *bool) {
	if status != nil {
		r.Status = *status
	}
	if readOnly != nil {
		r.ReadOnly = *readOnly
	}
}

// Records an accepted delta and returns the new version
func (r *Room) BumpVersion() uint64 {
	r.Version++
	r.deltas++
	return r.Version
}

// Adds a voice participant, replacing any stale entry for the same
// connection in place.
func (r *Room) AddVoice(p VoiceParticipant) {
	for i, v := range r.voice {
		if v.ConnectionID == p.ConnectionID {
			r.voice[i] = p
			return
		}
	}
	r.voice = append(r.voice, p)
	if len(r.voice) > r.peakVoice {
		r.peakVoice = len(r.voice)
	}
}

func (r *Room) RemoveVoice(connID string) (VoiceParticipant, bool) {
	for i, v := range r.voice {
		if v.ConnectionID == connID {
			r.voice = append(r.voice[:i], r.voice[i+1:]...)
			return v, true
		}
	}
	return VoiceParticipant{}, false
}

func (r *Room) InVoice(connID string) bool {
	for _, v := range r.voice {
		if v.ConnectionID == connID {
			return true
		}
	}
	return false
}

func (r *Room) SetMuted(connID string, muted bool) bool {
	for i, v := range r.voice {
		if v.ConnectionID == connID {
			r.voice[i].Muted = muted
			return true
		}
	}
	return false
}

// Returns a copy of the voice roster in join order
func (r *Room) VoiceParticipants() []VoiceParticipant {
	out := make([]VoiceParticipant, len(r.voice))
	copy(out, r.voice)
	return out
}

// Point-in-time view used by the journal, presence directory and HTTP API
type Summary struct {
	ID          string    `json:"id"`
	Members     int       `json:"members"`
	VoiceUsers  int       `json:"voice_users"`
	Language    string    `json:"language"`
	Status      Status    `json:"status"`
	ReadOnly    bool      `json:"read_only"`
	Version     uint64    `json:"version"`
	HasAdmin    bool      `json:"has_admin"`
	PeakMembers int       `json:"peak_members"`
	PeakVoice   int       `json:"peak_voice"`
	Deltas      uint64    `json:"deltas"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r *Room) Summary() Summary {
	return Summary{
		ID:          r.ID,
		Members:     len(r.members),
		VoiceUsers:  len(r.voice),
		Language:    r.Language,
		Status:      r.Status,
		ReadOnly:    r.ReadOnly,
		Version:     r.Version,
		HasAdmin:    r.Admin != "",
		PeakMembers: r.peakMembers,
		PeakVoice:   r.peakVoice,
		Deltas:      r.deltas,
		CreatedAt:   r.CreatedAt,
	}
}
