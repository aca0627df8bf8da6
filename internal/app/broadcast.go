package app

import (
	"time"

	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/domain"
)

type BroadcastPhase int

const (
	BroadcastIdle BroadcastPhase = iota
	BroadcastActive
	BroadcastEnding
)

func (p BroadcastPhase) String() string {
	switch p {
	case BroadcastActive:
		return "broadcasting"
	case BroadcastEnding:
		return "ending"
	default:
		return "idle"
	}
}

// BroadcastState is the voice broadcast of a room. A nil state means idle.
type BroadcastState struct {
	Presenter     core.ConnID
	PresenterUser domain.UserID
	Phase         BroadcastPhase
	StartedAt     time.Time
	EndedAt       time.Time

	grace *time.Timer
}

func (b *BroadcastState) IsActive() bool {
	return b != nil && b.Phase == BroadcastActive
}

// SetGrace replaces the pending deletion timer.
func (b *BroadcastState) SetGrace(t *time.Timer) {
	b.StopGrace()
	b.grace = t
}

// StopGrace cancels the pending deletion, if any.
func (b *BroadcastState) StopGrace() {
	if b.grace != nil {
		b.grace.Stop()
		b.grace = nil
	}
}
