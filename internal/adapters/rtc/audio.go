package rtc

import (
	"errors"
	"fmt"

	"github.com/dkeye/Boardly/internal/core"
	"github.com/pion/rtp"
)

var ErrOddPayload = errors.New("l16 payload has an odd length")

// DecodeL16 unwraps an RTP packet carrying L16 audio and returns the samples
// as little-endian linear16, the byte order the transcriber expects.
func DecodeL16(packet []byte) (core.Frame, error) {
	var p rtp.Packet
	if err := p.Unmarshal(packet); err != nil {
		return nil, fmt.Errorf("unmarshal rtp: %w", err)
	}
	if len(p.Payload)%2 != 0 {
		return nil, ErrOddPayload
	}
	out := make(core.Frame, len(p.Payload))
	for i := 0; i < len(p.Payload); i += 2 {
		out[i], out[i+1] = p.Payload[i+1], p.Payload[i]
	}
	return out, nil
}
