package app

import (
	"time"

	"github.com/dkeye/Boardly/internal/core"
)

type TranscriptionPhase int

const (
	TranscriptionOpening TranscriptionPhase = iota + 1
	TranscriptionOpen
)

func (p TranscriptionPhase) String() string {
	switch p {
	case TranscriptionOpening:
		return "opening"
	case TranscriptionOpen:
		return "open"
	default:
		return "closed"
	}
}

// TranscriptionSession is the upstream speech-to-text channel of a room.
// A nil session means closed. Identity is by pointer: late upstream
// callbacks for a replaced session are ignored.
type TranscriptionSession struct {
	Owner    core.ConnID
	Phase    TranscriptionPhase
	Stream   core.TranscriptStream
	OpenedAt time.Time
}
