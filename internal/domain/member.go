package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// DeviceMeta is transport-level metadata captured when a connection is accepted.
type DeviceMeta struct {
	UserAgent   string
	RemoteAddr  string
	DeviceToken string
}

// Fingerprint identifies "the same browser on the same network".
// It is a heuristic, not a security boundary.
type Fingerprint string

func (m DeviceMeta) Fingerprint() Fingerprint {
	h := sha256.New()
	h.Write([]byte(m.UserAgent))
	h.Write([]byte{0})
	h.Write([]byte(m.RemoteAddr))
	h.Write([]byte{0})
	h.Write([]byte(m.DeviceToken))
	return Fingerprint(hex.EncodeToString(h.Sum(nil))[:32])
}
