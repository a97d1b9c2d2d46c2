package relay

import (
	"fmt"

	"github.com/manpreetbhatti/codesync-relay/internal/protocol"
	"github.com/manpreetbhatti/codesync-relay/internal/room"
)

const (
	anonymousName      = "Anonymous"
	reasonUnavailable  = "admin unavailable"
	reasonDeniedByHost = "Your request to join was denied by the room admin"
)

func (e *Engine) join(c *Connection, m *protocol.Join) error {
	if c.state == stateJoined {
		if c.RoomID == m.RoomID {
			return nil
		}
		e.depart(c)
	}

	if c.DisplayName == "" {
		switch {
		case c.Identity != "":
			c.DisplayName = c.Identity
		case m.DisplayName != "":
			c.DisplayName = m.DisplayName
		default:
			c.DisplayName = anonymousName
		}
	}

	r, created := e.store.GetOrCreate(m.RoomID)
	if created {
		e.log.Info("room opened", "room", r.ID, "conn", c.ID)
	}
	if r.Admin == "" {
		r.AssignAdmin(c.ID)
	}

	if r.Status == room.StatusPrivate && !r.IsAllowed(c.ID) {
		admin, ok := e.conns.Get(r.Admin)
		if !ok || !admin.joinedTo(r.ID) {
			c.reset()
			e.send(c, protocol.JoinDenied{RoomID: r.ID, Reason: reasonUnavailable})
			return nil
		}

		c.state = statePending
		c.RoomID = r.ID
		e.send(admin, protocol.JoinNotice{
			DisplayName:           c.DisplayName,
			RequesterConnectionID: c.ID,
			RoomID:                r.ID,
		})
		e.send(c, protocol.JoinPending{
			Status:      "waiting",
			DisplayName: c.DisplayName,
			RoomID:      r.ID,
		})
		return nil
	}

	hadOthers := r.MemberCount() > 0
	c.state = stateJoined
	c.RoomID = r.ID
	r.AddMember(room.Member{ConnectionID: c.ID, DisplayName: c.DisplayName})

	e.broadcast(r, protocol.Joined{
		Members:            wireMembers(r),
		DisplayName:        c.DisplayName,
		JoinerConnectionID: c.ID,
	}, "")
	e.send(c, adminStatus(r, c.ID))

	if hadOthers {
		e.send(c, protocol.DocumentSnapshot{Document: r.Document})
		e.send(c, protocol.LanguageUpdate{Language: r.Language})
		e.send(c, protocol.InputUpdate{Stdin: r.Stdin})
	}
	if roster := wireVoice(r); len(roster) > 0 {
		e.send(c, protocol.VoiceRoster{VoiceUsers: roster})
	}

	if created {
		e.notifyOpened(r)
	} else {
		e.notifyChanged(r)
	}
	return nil
}

func (e *Engine) leave(c *Connection, m *protocol.Leave) error {
	if c.RoomID != m.RoomID || c.state == stateUnjoined {
		return ErrNotJoined
	}
	e.depart(c)
	return nil
}

func (e *Engine) approve(c *Connection, m *protocol.ApproveJoin) error {
	r, err := e.adminRoom(c, m.RoomID)
	if err != nil {
		return err
	}
	target, err := e.pendingRequester(r, m.RequesterConnectionID)
	if err != nil {
		return err
	}

	r.Allow(target.ID)
	e.send(target, protocol.JoinApproved{RoomID: r.ID, RequesterConnectionID: target.ID})
	return nil
}

func (e *Engine) deny(c *Connection, m *protocol.DenyJoin) error {
	r, err := e.adminRoom(c, m.RoomID)
	if err != nil {
		return err
	}
	target, err := e.pendingRequester(r, m.RequesterConnectionID)
	if err != nil {
		return err
	}

	reason := m.Reason
	if reason == "" {
		reason = reasonDeniedByHost
	}
	target.reset()
	e.send(target, protocol.JoinDenied{RoomID: r.ID, Reason: reason})
	return nil
}

// Resolves a connection waiting for admission to r
func (e *Engine) pendingRequester(r *room.Room, id string) (*Connection, error) {
	t, ok := e.conns.Get(id)
	if !ok || t.state != statePending || t.RoomID != r.ID {
		return nil, fmt.Errorf("%w: no pending request from %s", ErrUnknownTarget, id)
	}
	return t, nil
}

func (e *Engine) updateSettings(c *Connection, m *protocol.UpdateSettings) error {
	r, err := e.adminRoom(c, m.RoomID)
	if err != nil {
		return err
	}

	var status *room.Status
	if m.Status != nil {
		s := room.Status(*m.Status)
		status = &s
	}
	r.ApplySettings(status, m.ReadOnly)

	e.sendAdminStatusAll(r)
	e.notifyChanged(r)
	return nil
}

func (e *Engine) adminRoom(c *Connection, roomID string) (*room.Room, error) {
	r, err := e.joinedRoom(c, roomID)
	if err != nil {
		return nil, err
	}
	if !r.IsAdmin(c.ID) {
		return nil, ErrNotAdmin
	}
	return r, nil
}

// depart removes c from its room, or forgets a pending request. The room is
// reset when one member remains and deleted when none do. Any admin
// successor is chosen before the remaining members are notified.
func (e *Engine) depart(c *Connection) {
	if c.state != stateJoined {
		c.reset()
		return
	}

	r, ok := e.store.Get(c.RoomID)
	c.reset()
	if !ok {
		return
	}

	voice, inVoice := r.RemoveVoice(c.ID)
	member, err := r.RemoveMember(c.ID)
	if err != nil {
		e.log.Warn("departing connection missing from room", "room", r.ID, "conn", c.ID, "err", err)
		return
	}
	wasAdmin := r.IsAdmin(c.ID)

	remaining := r.Members()
	switch {
	case len(remaining) == 0:
		e.store.Delete(r.ID)
		e.log.Info("room closed", "room", r.ID)
		e.notifyClosed(r)
		return
	case len(remaining) == 1:
		r.Reset()
		r.AssignAdmin(remaining[0].ConnectionID)
	case wasAdmin:
		r.AssignAdmin(remaining[0].ConnectionID)
	}

	if inVoice {
		e.broadcast(r, protocol.VoiceUserLeft{
			ConnectionID: voice.ConnectionID,
			DisplayName:  voice.DisplayName,
			VoiceUsers:   wireVoice(r),
		}, "")
	}
	e.broadcast(r, protocol.Disconnected{
		ConnectionID: member.ConnectionID,
		DisplayName:  member.DisplayName,
	}, "")

	if len(remaining) == 1 || wasAdmin {
		e.sendAdminStatusAll(r)
	}
	e.notifyChanged(r)
}

func (e *Engine) sendAdminStatusAll(r *room.Room) {
	for _, m := range r.Members() {
		if t, ok := e.conns.Get(m.ConnectionID); ok {
			e.send(t, adminStatus(r, t.ID))
		}
	}
}

func adminStatus(r *room.Room, connID string) protocol.AdminStatus {
	return protocol.AdminStatus{
		IsAdmin:  r.IsAdmin(connID),
		Status:   string(r.Status),
		ReadOnly: r.ReadOnly,
	}
}

func wireMembers(r *room.Room) []protocol.Member {
	members := r.Members()
	out := make([]protocol.Member, len(members))
	for i, m := range members {
		out[i] = protocol.Member{ConnectionID: m.ConnectionID, DisplayName: m.DisplayName}
	}
	return out
}

func wireVoice(r *room.Room) []protocol.VoiceUser {
	roster := r.VoiceParticipants()
	out := make([]protocol.VoiceUser, len(roster))
	for i, v := range roster {
		out[i] = protocol.VoiceUser{ConnectionID: v.ConnectionID, DisplayName: v.DisplayName, IsMuted: v.Muted}
	}
	return out
}
