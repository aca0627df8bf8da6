package app

import (
	"sort"

	"github.com/dkeye/Boardly/internal/domain"
)

type PresenceUser struct {
	ID      domain.UserID `json:"id"`
	Name    string        `json:"name"`
	IsTutor bool          `json:"isTutor"`
}

// RoomStats is the payload of room-stats-update.
type RoomStats struct {
	TotalUsers int            `json:"totalUsers"`
	Students   int            `json:"students"`
	Tutors     int            `json:"tutors"`
	UserList   []PresenceUser `json:"userList"`
}

// Stats counts distinct users, not connections. Pending members count: their
// user already owns the session.
func Stats(r *Room) RoomStats {
	st := RoomStats{UserList: []PresenceUser{}}
	if r == nil {
		return st
	}
	seen := make(map[domain.UserID]struct{}, len(r.members))
	for _, m := range r.members {
		if _, dup := seen[m.User.ID]; dup {
			continue
		}
		seen[m.User.ID] = struct{}{}
		st.UserList = append(st.UserList, PresenceUser{ID: m.User.ID, Name: m.User.Name, IsTutor: m.User.IsTutor})
		if m.User.IsTutor {
			st.Tutors++
		} else {
			st.Students++
		}
	}
	st.TotalUsers = len(st.UserList)
	sort.Slice(st.UserList, func(i, j int) bool {
		a, b := st.UserList[i], st.UserList[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	return st
}
