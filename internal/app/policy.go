package app

import (
	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/domain"
)

type BackpressureAction int

const (
	// DropMessage loses the message and keeps the connection.
	DropMessage BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a connection whose outbound buffer is full.
// roomID is empty for messages not tied to a room.
type Policy interface {
	OnBackPressure(roomID domain.RoomID, conn core.ConnID) BackpressureAction
}

// SimplePolicy kicks slow consumers.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.RoomID, core.ConnID) BackpressureAction {
	return KickMember
}

// LenientPolicy only drops the message.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(domain.RoomID, core.ConnID) BackpressureAction {
	return DropMessage
}
