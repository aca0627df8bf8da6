package signal

import (
	"context"
	"encoding/json"

	"github.com/dkeye/Boardly/internal/adapters/rtc"
	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/domain"
	"github.com/rs/zerolog/log"
)

type audioPayload struct {
	RoomID    domain.RoomID `json:"roomId" validate:"max=64"`
	AudioData []byte        `json:"audioData" validate:"required"`
}

type subtitleSettingsPayload struct {
	RoomID   domain.RoomID   `json:"roomId" validate:"required,max=64"`
	Settings json.RawMessage `json:"settings" validate:"required"`
}

func (ctl *SignalWSController) handleStartTranscription(ctx context.Context, c *WsSignalConn, data []byte) error {
	roomID, err := ctl.roomOf(data)
	if err != nil {
		return err
	}
	return ctl.Orch.StartTranscription(ctx, c.id, roomID)
}

func (ctl *SignalWSController) handleStopTranscription(c *WsSignalConn, data []byte) error {
	roomID, err := ctl.roomOf(data)
	if err != nil {
		return err
	}
	return ctl.Orch.StopTranscription(c.id, roomID)
}

// handleAudioData takes base64 linear16 inside a JSON event.
func (ctl *SignalWSController) handleAudioData(c *WsSignalConn, data []byte) error {
	var p audioPayload
	if err := ctl.bind(data, &p); err != nil {
		return err
	}
	ctl.Orch.PushAudio(c.id, p.RoomID, core.Frame(p.AudioData))
	return nil
}

// handleAudioFrame takes an RTP packet with L16 audio for the sender's room.
func (ctl *SignalWSController) handleAudioFrame(c *WsSignalConn, packet []byte) {
	frame, err := rtc.DecodeL16(packet)
	if err != nil {
		log.Debug().Str("module", "signal").Str("conn", string(c.id)).Err(err).Msg("bad audio frame")
		return
	}
	ctl.Orch.PushAudio(c.id, "", frame)
}

func (ctl *SignalWSController) handleSubtitleSettings(c *WsSignalConn, data []byte) error {
	var p subtitleSettingsPayload
	if err := ctl.bind(data, &p); err != nil {
		return err
	}
	return ctl.Orch.UpdateSubtitleSettings(c.id, p.RoomID, p.Settings)
}

func (ctl *SignalWSController) handleClearSubtitles(c *WsSignalConn, data []byte) error {
	roomID, err := ctl.roomOf(data)
	if err != nil {
		return err
	}
	return ctl.Orch.ClearSubtitles(c.id, roomID)
}
