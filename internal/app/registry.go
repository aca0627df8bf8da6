package app

import (
	"time"

	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/domain"
)

type connEntry struct {
	Conn        core.SignalConnection
	Meta        domain.DeviceMeta
	Fingerprint domain.Fingerprint
	Room        domain.RoomID
	ConnectedAt time.Time
	// Closing is set once the coordinator decided to drop the connection;
	// events from it are ignored from then on.
	Closing bool
}

// Registry maps live connections to the room they last joined.
// It relies on the orchestrator lock.
type Registry struct {
	conns map[core.ConnID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[core.ConnID]*connEntry)}
}

func (r *Registry) Bind(conn core.SignalConnection, meta domain.DeviceMeta, now time.Time) {
	r.conns[conn.ID()] = &connEntry{
		Conn:        conn,
		Meta:        meta,
		Fingerprint: meta.Fingerprint(),
		ConnectedAt: now,
	}
}

func (r *Registry) Unbind(id core.ConnID) {
	delete(r.conns, id)
}

func (r *Registry) Conn(id core.ConnID) (core.SignalConnection, bool) {
	e, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

func (r *Registry) Fingerprint(id core.ConnID) (domain.Fingerprint, bool) {
	e, ok := r.conns[id]
	if !ok {
		return "", false
	}
	return e.Fingerprint, true
}

// Live reports whether the connection is bound and not being dropped.
func (r *Registry) Live(id core.ConnID) bool {
	e, ok := r.conns[id]
	return ok && !e.Closing
}

func (r *Registry) MarkClosing(id core.ConnID) {
	if e, ok := r.conns[id]; ok {
		e.Closing = true
	}
}

func (r *Registry) RoomOf(id core.ConnID) (domain.RoomID, bool) {
	e, ok := r.conns[id]
	if !ok || e.Room == "" {
		return "", false
	}
	return e.Room, true
}

func (r *Registry) UpdateRoom(id core.ConnID, room domain.RoomID) bool {
	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.Room = room
	return true
}

func (r *Registry) RemoveRoom(id core.ConnID) {
	if e, ok := r.conns[id]; ok {
		e.Room = ""
	}
}

func (r *Registry) Len() int { return len(r.conns) }

// IDs returns all bound connection ids.
func (r *Registry) IDs() []core.ConnID {
	out := make([]core.ConnID, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}
