package roomstore

import (
	"context"
	"sync"

	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/domain"
)

// Memory is an in-process room table. While empty it accepts any room id.
type Memory struct {
	mu       sync.RWMutex
	rooms    map[domain.RoomID]domain.Room
	allowAll bool
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[domain.RoomID]domain.Room), allowAll: true}
}

// Put stores r and switches the table to strict mode: unknown rooms are
// reported as not found from now on.
func (m *Memory) Put(r domain.Room) {
	m.mu.Lock()
	m.rooms[r.ID] = r
	m.allowAll = false
	m.mu.Unlock()
}

func (m *Memory) LookupRoom(_ context.Context, id domain.RoomID) (*domain.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	if !ok {
		if m.allowAll {
			return &domain.Room{ID: id}, nil
		}
		return nil, core.ErrRoomNotFound
	}
	return &r, nil
}

func (m *Memory) Close() error { return nil }
