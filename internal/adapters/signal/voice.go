package signal

import (
	"encoding/json"

	"github.com/dkeye/Boardly/internal/adapters/rtc"
	"github.com/dkeye/Boardly/internal/app"
	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/domain"
	"github.com/pion/webrtc/v4"
)

type offerPayload struct {
	RoomID          domain.RoomID             `json:"roomId" validate:"required,max=64"`
	Offer           webrtc.SessionDescription `json:"offer"`
	TargetStudentID core.ConnID               `json:"targetStudentId"`
}

type answerPayload struct {
	RoomID domain.RoomID             `json:"roomId" validate:"required,max=64"`
	Answer webrtc.SessionDescription `json:"answer"`
}

type candidatePayload struct {
	RoomID    domain.RoomID           `json:"roomId" validate:"required,max=64"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type qualityPayload struct {
	RoomID  domain.RoomID   `json:"roomId" validate:"required,max=64"`
	Quality json.RawMessage `json:"quality" validate:"required"`
}

func (ctl *SignalWSController) roomOf(data []byte) (domain.RoomID, error) {
	var p struct {
		RoomID domain.RoomID `json:"roomId" validate:"required,max=64"`
	}
	if err := ctl.bind(data, &p); err != nil {
		return "", err
	}
	return p.RoomID, nil
}

func (ctl *SignalWSController) handleBroadcastStart(c *WsSignalConn, data []byte) error {
	roomID, err := ctl.roomOf(data)
	if err != nil {
		return err
	}
	return ctl.Orch.StartBroadcast(c.id, roomID)
}

func (ctl *SignalWSController) handleBroadcastEnd(c *WsSignalConn, data []byte) error {
	roomID, err := ctl.roomOf(data)
	if err != nil {
		return err
	}
	return ctl.Orch.EndBroadcast(c.id, roomID)
}

func (ctl *SignalWSController) handleOffer(c *WsSignalConn, data []byte) error {
	var p offerPayload
	if err := ctl.bind(data, &p); err != nil {
		return err
	}
	if err := rtc.ValidateDescription(p.Offer, webrtc.SDPTypeOffer); err != nil {
		return app.Errorf(app.CodeBadPayload, "%v", err)
	}
	return ctl.Orch.RelayOffer(c.id, p.RoomID, p.Offer, p.TargetStudentID)
}

func (ctl *SignalWSController) handleAnswer(c *WsSignalConn, data []byte) error {
	var p answerPayload
	if err := ctl.bind(data, &p); err != nil {
		return err
	}
	if err := rtc.ValidateDescription(p.Answer, webrtc.SDPTypeAnswer); err != nil {
		return app.Errorf(app.CodeBadPayload, "%v", err)
	}
	return ctl.Orch.RelayAnswer(c.id, p.RoomID, p.Answer)
}

func (ctl *SignalWSController) handleCandidate(c *WsSignalConn, data []byte) error {
	var p candidatePayload
	if err := ctl.bind(data, &p); err != nil {
		return err
	}
	if err := rtc.ValidateCandidate(p.Candidate); err != nil {
		return app.Errorf(app.CodeBadPayload, "%v", err)
	}
	return ctl.Orch.RelayCandidate(c.id, p.RoomID, p.Candidate)
}

// handleStatusRequest ignores any viewer id in the payload; the requester
// is always the viewer.
func (ctl *SignalWSController) handleStatusRequest(c *WsSignalConn, data []byte) error {
	roomID, err := ctl.roomOf(data)
	if err != nil {
		return err
	}
	return ctl.Orch.RequestBroadcastStatus(c.id, roomID)
}

func (ctl *SignalWSController) handleQuality(c *WsSignalConn, data []byte) error {
	var p qualityPayload
	if err := ctl.bind(data, &p); err != nil {
		return err
	}
	return ctl.Orch.ReportQuality(c.id, p.RoomID, p.Quality)
}
