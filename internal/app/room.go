package app

import (
	"time"

	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/domain"
)

// Membership is one connection admitted to a room.
type Membership struct {
	Conn        core.ConnID
	User        domain.User
	Fingerprint domain.Fingerprint
	// Pending members are admitted but excluded from room fan-out until the
	// eviction grace elapses.
	Pending  bool
	JoinedAt time.Time

	admit  *time.Timer
	status *time.Timer
}

func (m *Membership) SetAdmitTimer(t *time.Timer)  { m.admit = t }
func (m *Membership) SetStatusTimer(t *time.Timer) { m.status = t }

// StopTimers cancels the pending admission and the deferred status push.
func (m *Membership) StopTimers() {
	if m.admit != nil {
		m.admit.Stop()
		m.admit = nil
	}
	if m.status != nil {
		m.status.Stop()
		m.status = nil
	}
}

// SessionRecord names the one connection that currently represents a user in
// a room.
type SessionRecord struct {
	Conn        core.ConnID
	LastSeen    time.Time
	Fingerprint domain.Fingerprint
}

// Room holds all per-room coordinator state. It is not safe for concurrent
// use; the orchestrator serializes access.
type Room struct {
	ID domain.RoomID

	members  map[core.ConnID]*Membership
	sessions map[domain.UserID]*SessionRecord

	Broadcast     *BroadcastState
	Transcription *TranscriptionSession
}

func NewRoom(id domain.RoomID) *Room {
	return &Room{
		ID:       id,
		members:  make(map[core.ConnID]*Membership),
		sessions: make(map[domain.UserID]*SessionRecord),
	}
}

func (r *Room) Member(conn core.ConnID) (*Membership, bool) {
	m, ok := r.members[conn]
	return m, ok
}

func (r *Room) Session(uid domain.UserID) (*SessionRecord, bool) {
	s, ok := r.sessions[uid]
	return s, ok
}

// Admit records the membership and makes its connection the owner of the
// user's session in this room.
func (r *Room) Admit(m *Membership, now time.Time) *SessionRecord {
	r.members[m.Conn] = m
	rec := &SessionRecord{Conn: m.Conn, LastSeen: now, Fingerprint: m.Fingerprint}
	r.sessions[m.User.ID] = rec
	return rec
}

// RemoveMember drops the membership of conn. The user's session record is
// removed only while it still points at conn.
func (r *Room) RemoveMember(conn core.ConnID) (*Membership, bool) {
	m, ok := r.members[conn]
	if !ok {
		return nil, false
	}
	m.StopTimers()
	delete(r.members, conn)
	if rec, ok := r.sessions[m.User.ID]; ok && rec.Conn == conn {
		delete(r.sessions, m.User.ID)
	}
	return m, true
}

// Touch refreshes lastSeen only when conn owns the user's session.
func (r *Room) Touch(uid domain.UserID, conn core.ConnID, now time.Time) bool {
	rec, ok := r.sessions[uid]
	if !ok || rec.Conn != conn {
		return false
	}
	rec.LastSeen = now
	return true
}

// ActiveMembers returns members that receive room fan-out.
func (r *Room) ActiveMembers() []*Membership {
	out := make([]*Membership, 0, len(r.members))
	for _, m := range r.members {
		if !m.Pending {
			out = append(out, m)
		}
	}
	return out
}

// Members returns every membership, pending ones included.
func (r *Room) Members() []*Membership {
	out := make([]*Membership, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	return out
}

func (r *Room) MemberCount() int  { return len(r.members) }
func (r *Room) SessionCount() int { return len(r.sessions) }

// Sessions returns a copy of the session table.
func (r *Room) Sessions() map[domain.UserID]SessionRecord {
	out := make(map[domain.UserID]SessionRecord, len(r.sessions))
	for uid, rec := range r.sessions {
		out[uid] = *rec
	}
	return out
}

// IsIdle reports whether nothing keeps the room alive.
func (r *Room) IsIdle() bool {
	return len(r.members) == 0 && r.Broadcast == nil && r.Transcription == nil
}
