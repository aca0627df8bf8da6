package core

import (
	"context"
	"errors"

	"github.com/dkeye/Boardly/internal/domain"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomLookup reads persisted room records. Only the current view is used.
type RoomLookup interface {
	LookupRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
}
