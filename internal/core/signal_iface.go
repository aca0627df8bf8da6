package core

import "errors"

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is a raw payload written to a connection as one message.
type Frame []byte

// ConnID identifies a single live event-channel connection.
type ConnID string

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	ID() ConnID
	// TrySend never blocks; it fails when the connection is closed or its
	// outbound buffer is full.
	TrySend(Frame) error
	// Close flushes what is already queued and then tears the transport down.
	Close()
}
