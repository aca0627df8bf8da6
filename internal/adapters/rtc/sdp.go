package rtc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/ice/v4"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

var (
	ErrWrongSDPType = errors.New("unexpected session description type")
	ErrNoAudio      = errors.New("session description has no audio section")
)

// ValidateDescription checks that desc is of the wanted type and negotiates
// audio. The relay never applies descriptions; this only rejects garbage
// before it reaches other peers.
func ValidateDescription(desc webrtc.SessionDescription, want webrtc.SDPType) error {
	if desc.Type != want {
		return fmt.Errorf("%w: got %s, want %s", ErrWrongSDPType, desc.Type, want)
	}
	var parsed sdp.SessionDescription
	if err := parsed.UnmarshalString(desc.SDP); err != nil {
		return fmt.Errorf("parse sdp: %w", err)
	}
	for _, m := range parsed.MediaDescriptions {
		if m.MediaName.Media == "audio" {
			return nil
		}
	}
	return ErrNoAudio
}

// ValidateCandidate parses a trickled candidate. An empty candidate marks
// the end of candidates and is valid.
func ValidateCandidate(c webrtc.ICECandidateInit) error {
	raw := strings.TrimPrefix(c.Candidate, "candidate:")
	if raw == "" {
		return nil
	}
	if _, err := ice.UnmarshalCandidate(raw); err != nil {
		return fmt.Errorf("parse candidate: %w", err)
	}
	return nil
}
