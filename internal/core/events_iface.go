package core

import (
	"time"

	"github.com/dkeye/Boardly/internal/domain"
)

type SessionEventKind string

const (
	EventJoined              SessionEventKind = "joined"
	EventLeft                SessionEventKind = "left"
	EventEvicted             SessionEventKind = "evicted"
	EventExpired             SessionEventKind = "expired"
	EventBroadcastStarted    SessionEventKind = "broadcast_started"
	EventBroadcastEnded      SessionEventKind = "broadcast_ended"
	EventTranscriptionOpened SessionEventKind = "transcription_opened"
	EventTranscriptionClosed SessionEventKind = "transcription_closed"
)

// SessionEvent is a lifecycle notification for downstream consumers
// (analytics, attendance). Delivery is best effort.
type SessionEvent struct {
	Kind   SessionEventKind `json:"kind"`
	Room   domain.RoomID    `json:"room"`
	User   domain.UserID    `json:"user,omitempty"`
	Conn   ConnID           `json:"conn,omitempty"`
	Reason string           `json:"reason,omitempty"`
	At     time.Time        `json:"at"`
}

type EventPublisher interface {
	// Publish must not block the caller.
	Publish(SessionEvent)
}

type NopPublisher struct{}

func (NopPublisher) Publish(SessionEvent) {}
