package app

import "fmt"

// Client protocol error codes.
const (
	CodeBadPayload    = "bad_payload"
	CodeUnknownType   = "unknown_type"
	CodeNotInRoom     = "not_in_room"
	CodeNotPresenter  = "not_presenter"
	CodeNoBroadcast   = "no_active_broadcast"
	CodeRoomNotFound  = "room_not_found"
	CodeRateLimited   = "rate_limited"
	CodeUnknownConn   = "unknown_connection"
	CodeUnknownTarget = "unknown_target"
	CodeNoTranscriber = "transcription_unavailable"
)

// ProtocolError is reported to the originating connection only and never
// changes coordinator state.
type ProtocolError struct {
	Code    string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func Errorf(code, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}
