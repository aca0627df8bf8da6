package app

import (
	"sort"

	"github.com/dkeye/Boardly/internal/domain"
)

type RoomInfo struct {
	ID            domain.RoomID `json:"id"`
	MemberCount   int           `json:"client_count"`
	Broadcast     string        `json:"broadcast"`
	Transcription string        `json:"transcription"`
}

// RoomManager owns the live rooms. Like Room it relies on the orchestrator
// lock.
type RoomManager struct {
	rooms map[domain.RoomID]*Room
}

func NewRoomManager() *RoomManager {
	return &RoomManager{rooms: make(map[domain.RoomID]*Room)}
}

func (f *RoomManager) GetOrCreate(id domain.RoomID) *Room {
	if room, ok := f.rooms[id]; ok {
		return room
	}
	room := NewRoom(id)
	f.rooms[id] = room
	return room
}

func (f *RoomManager) Get(id domain.RoomID) (*Room, bool) {
	room, ok := f.rooms[id]
	return room, ok
}

// StopRoomIfIdle forgets the room once nothing references it.
func (f *RoomManager) StopRoomIfIdle(id domain.RoomID) bool {
	room, ok := f.rooms[id]
	if !ok || !room.IsIdle() {
		return false
	}
	delete(f.rooms, id)
	return true
}

func (f *RoomManager) Each(fn func(*Room)) {
	for _, r := range f.rooms {
		fn(r)
	}
}

func (f *RoomManager) Len() int { return len(f.rooms) }

func (f *RoomManager) List() []RoomInfo {
	out := make([]RoomInfo, 0, len(f.rooms))
	for id, r := range f.rooms {
		info := RoomInfo{
			ID:            id,
			MemberCount:   r.MemberCount(),
			Broadcast:     BroadcastIdle.String(),
			Transcription: "closed",
		}
		if r.Broadcast != nil {
			info.Broadcast = r.Broadcast.Phase.String()
		}
		if r.Transcription != nil {
			info.Transcription = r.Transcription.Phase.String()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
