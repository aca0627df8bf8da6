package orch

import (
	"encoding/json"

	"github.com/dkeye/Boardly/internal/app"
	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Outbound event types.
const (
	MsgConnected            = "connected"
	MsgRoomJoined           = "room-joined"
	MsgChangeView           = "change-view"
	MsgRoomStats            = "room-stats-update"
	MsgForceDisconnect      = "force-disconnect"
	MsgBroadcastStarted     = "voice-broadcast-started"
	MsgBroadcastEnded       = "voice-broadcast-ended"
	MsgOffer                = "voice-offer"
	MsgAnswer               = "voice-answer"
	MsgICECandidate         = "voice-ice-candidate"
	MsgStudentJoin          = "student-join-broadcast"
	MsgQualityUpdate        = "voice-quality-update"
	MsgSubtitle             = "subtitle-received"
	MsgTranscriptionStarted = "transcription-started"
	MsgTranscriptionStopped = "transcription-stopped"
	MsgTranscriptionError   = "transcription-error"
	MsgSubtitleSettings     = "subtitle-settings-updated"
	MsgSubtitlesCleared     = "subtitles-cleared"
)

// Force-disconnect codes.
const (
	CodeMultiDevice    = "MULTI_DEVICE_ACCESS"
	CodeSessionExpired = "SESSION_EXPIRED"
)

// Broadcast-ended and transcription-stopped reasons.
const (
	ReasonTutorDisconnected = "tutor_disconnected"
	ReasonTutorLeft         = "tutor_left"
	ReasonTutorEvicted      = "tutor_evicted"
	ReasonTutorTimeout      = "tutor_timeout"
	ReasonOwnerDisconnected = "owner_disconnected"
	ReasonUpstreamError     = "upstream_error"
	ReasonUpstreamClosed    = "upstream_closed"
)

type connectedMsg struct {
	Type       string             `json:"type"`
	SocketID   core.ConnID        `json:"socketId"`
	ICEServers []webrtc.ICEServer `json:"iceServers"`
}

type roomJoinedMsg struct {
	Type     string        `json:"type"`
	RoomID   domain.RoomID `json:"roomId"`
	SocketID core.ConnID   `json:"socketId"`
}

type changeViewMsg struct {
	Type string `json:"type"`
	View string `json:"view"`
}

type statsMsg struct {
	Type string `json:"type"`
	app.RoomStats
}

type forceDisconnectMsg struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

type broadcastStartedMsg struct {
	Type          string        `json:"type"`
	RoomID        domain.RoomID `json:"roomId"`
	TutorSocketID core.ConnID   `json:"tutorSocketId"`
	Resumed       bool          `json:"resumed,omitempty"`
}

type broadcastEndedMsg struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	Reason string        `json:"reason,omitempty"`
}

type offerMsg struct {
	Type          string                    `json:"type"`
	RoomID        domain.RoomID             `json:"roomId"`
	Offer         webrtc.SessionDescription `json:"offer"`
	TutorSocketID core.ConnID               `json:"tutorSocketId"`
}

type answerMsg struct {
	Type            string                    `json:"type"`
	RoomID          domain.RoomID             `json:"roomId"`
	Answer          webrtc.SessionDescription `json:"answer"`
	StudentSocketID core.ConnID               `json:"studentSocketId"`
}

type candidateMsg struct {
	Type         string                  `json:"type"`
	RoomID       domain.RoomID           `json:"roomId"`
	Candidate    webrtc.ICECandidateInit `json:"candidate"`
	FromSocketID core.ConnID             `json:"fromSocketId"`
}

type studentJoinMsg struct {
	Type            string        `json:"type"`
	RoomID          domain.RoomID `json:"roomId"`
	StudentSocketID core.ConnID   `json:"studentSocketId"`
}

type qualityMsg struct {
	Type         string          `json:"type"`
	RoomID       domain.RoomID   `json:"roomId"`
	Quality      json.RawMessage `json:"quality"`
	FromSocketID core.ConnID     `json:"fromSocketId"`
}

type subtitleMsg struct {
	Type       string  `json:"type"`
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"isFinal"`
	Timestamp  int64   `json:"timestamp"`
	Confidence float64 `json:"confidence"`
}

type transcriptionMsg struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
	Reason string        `json:"reason,omitempty"`
	Error  string        `json:"error,omitempty"`
}

type subtitleSettingsMsg struct {
	Type     string          `json:"type"`
	Settings json.RawMessage `json:"settings"`
}

type subtitlesClearedMsg struct {
	Type   string        `json:"type"`
	RoomID domain.RoomID `json:"roomId"`
}

type errorMsg struct {
	Type  string `json:"type"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

type pongMsg struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}
