package orch

import (
	"encoding/json"
	"time"

	"github.com/dkeye/Boardly/internal/app"
	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// StartBroadcast makes id the presenter of its room. A running broadcast of
// someone else is replaced; a broadcast still inside its grace window is
// resumed.
func (o *Orchestrator) StartBroadcast(id core.ConnID, roomID domain.RoomID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, m, err := o.memberLocked(id, roomID)
	if err != nil {
		return err
	}
	if !m.User.IsTutor {
		return app.Errorf(app.CodeNotPresenter, "only a tutor can start a broadcast")
	}

	b := r.Broadcast
	resumed := false
	switch {
	case b == nil:
		b = &app.BroadcastState{}
		r.Broadcast = b
	case b.Phase == app.BroadcastEnding:
		b.StopGrace()
		resumed = b.PresenterUser == m.User.ID
	case b.Presenter != id:
		log.Warn().Str("module", "orch").Str("room", string(r.ID)).Str("previous", string(b.Presenter)).
			Str("conn", string(id)).Msg("broadcast taken over by another presenter")
	}
	b.Presenter = id
	b.PresenterUser = m.User.ID
	b.Phase = app.BroadcastActive
	b.StartedAt = o.now()
	b.EndedAt = time.Time{}

	o.broadcastLocked(r, id, broadcastStartedMsg{
		Type:          MsgBroadcastStarted,
		RoomID:        r.ID,
		TutorSocketID: id,
		Resumed:       resumed,
	})
	o.publish(core.EventBroadcastStarted, r.ID, m.User.ID, id, "")
	o.metrics.Signals.WithLabelValues(MsgBroadcastStarted).Inc()
	o.refreshGaugesLocked()

	log.Info().Str("module", "orch").Str("room", string(r.ID)).Str("conn", string(id)).
		Bool("resumed", resumed).Msg("broadcast started")
	return nil
}

// EndBroadcast ends the broadcast of the sender's room.
func (o *Orchestrator) EndBroadcast(id core.ConnID, roomID domain.RoomID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, _, err := o.memberLocked(id, roomID)
	if err != nil {
		return err
	}
	b := r.Broadcast
	if !b.IsActive() {
		return app.Errorf(app.CodeNoBroadcast, "no broadcast in room %s", r.ID)
	}
	if b.Presenter != id {
		return app.Errorf(app.CodeNotPresenter, "only the presenter can end the broadcast")
	}
	o.endBroadcastLocked(r, id, "")
	o.refreshGaugesLocked()
	return nil
}

// endBroadcastLocked moves an active broadcast to ENDING, stops the room's
// transcription and schedules the deletion of the state.
func (o *Orchestrator) endBroadcastLocked(r *app.Room, except core.ConnID, reason string) {
	b := r.Broadcast
	if !b.IsActive() {
		return
	}
	b.Phase = app.BroadcastEnding
	b.EndedAt = o.now()

	o.stopTranscriptionLocked(r, "")
	o.broadcastLocked(r, except, broadcastEndedMsg{Type: MsgBroadcastEnded, RoomID: r.ID, Reason: reason})
	o.publish(core.EventBroadcastEnded, r.ID, b.PresenterUser, b.Presenter, reason)

	roomID := r.ID
	if o.cfg.BroadcastGrace <= 0 {
		r.Broadcast = nil
	} else {
		b.SetGrace(time.AfterFunc(o.cfg.BroadcastGrace, func() {
			o.expireBroadcast(roomID, b)
		}))
	}
	log.Info().Str("module", "orch").Str("room", string(roomID)).Str("reason", reason).Msg("broadcast ended")
}

func (o *Orchestrator) expireBroadcast(roomID domain.RoomID, b *app.BroadcastState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rooms.Get(roomID)
	if !ok || r.Broadcast != b || b.Phase != app.BroadcastEnding {
		return
	}
	r.Broadcast = nil
	o.rooms.StopRoomIfIdle(roomID)
	o.refreshGaugesLocked()
	log.Debug().Str("module", "orch").Str("room", string(roomID)).Msg("broadcast state removed")
}

// BroadcastPhase reports the broadcast phase of a room.
func (o *Orchestrator) BroadcastPhase(roomID domain.RoomID) app.BroadcastPhase {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rooms.Get(roomID)
	if !ok || r.Broadcast == nil {
		return app.BroadcastIdle
	}
	return r.Broadcast.Phase
}

// RelayOffer forwards the presenter's offer to one viewer or, without a
// target, to every other member.
func (o *Orchestrator) RelayOffer(id core.ConnID, roomID domain.RoomID, offer webrtc.SessionDescription, target core.ConnID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, m, err := o.memberLocked(id, roomID)
	if err != nil {
		return err
	}
	if !m.User.IsTutor {
		return app.Errorf(app.CodeNotPresenter, "only a tutor can send offers")
	}
	b := r.Broadcast
	if !b.IsActive() {
		return app.Errorf(app.CodeNoBroadcast, "no broadcast in room %s", r.ID)
	}
	if b.Presenter != id {
		return app.Errorf(app.CodeNotPresenter, "only the presenter can send offers")
	}

	msg := offerMsg{Type: MsgOffer, RoomID: r.ID, Offer: offer, TutorSocketID: id}
	if target == "" {
		o.broadcastLocked(r, id, msg)
	} else {
		tm, ok := r.Member(target)
		if !ok || tm.Pending || target == id {
			return app.Errorf(app.CodeUnknownTarget, "%s is not in room %s", target, r.ID)
		}
		o.sendLocked(target, msg)
	}
	o.metrics.Signals.WithLabelValues(MsgOffer).Inc()
	return nil
}

// RelayAnswer routes a viewer's answer to the presenter and nobody else.
func (o *Orchestrator) RelayAnswer(id core.ConnID, roomID domain.RoomID, answer webrtc.SessionDescription) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, _, err := o.memberLocked(id, roomID)
	if err != nil {
		return err
	}
	b := r.Broadcast
	if !b.IsActive() {
		return app.Errorf(app.CodeNoBroadcast, "no broadcast in room %s", r.ID)
	}
	if b.Presenter == id {
		return nil
	}
	o.sendLocked(b.Presenter, answerMsg{Type: MsgAnswer, RoomID: r.ID, Answer: answer, StudentSocketID: id})
	o.metrics.Signals.WithLabelValues(MsgAnswer).Inc()
	return nil
}

// RelayCandidate forwards a trickle ICE candidate to everyone else in the
// room.
func (o *Orchestrator) RelayCandidate(id core.ConnID, roomID domain.RoomID, candidate webrtc.ICECandidateInit) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, _, err := o.memberLocked(id, roomID)
	if err != nil {
		return err
	}
	o.broadcastLocked(r, id, candidateMsg{Type: MsgICECandidate, RoomID: r.ID, Candidate: candidate, FromSocketID: id})
	o.metrics.Signals.WithLabelValues(MsgICECandidate).Inc()
	return nil
}

// RequestBroadcastStatus asks the presenter to dial the requesting viewer.
// Nothing is sent when no broadcast is active.
func (o *Orchestrator) RequestBroadcastStatus(id core.ConnID, roomID domain.RoomID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, _, err := o.memberLocked(id, roomID)
	if err != nil {
		return err
	}
	b := r.Broadcast
	if !b.IsActive() || b.Presenter == id {
		return nil
	}
	o.sendLocked(b.Presenter, studentJoinMsg{Type: MsgStudentJoin, RoomID: r.ID, StudentSocketID: id})
	o.metrics.Signals.WithLabelValues(MsgStudentJoin).Inc()
	return nil
}

// ReportQuality forwards a connection quality report to the presenter.
func (o *Orchestrator) ReportQuality(id core.ConnID, roomID domain.RoomID, quality json.RawMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, _, err := o.memberLocked(id, roomID)
	if err != nil {
		return err
	}
	b := r.Broadcast
	if !b.IsActive() || b.Presenter == id {
		return nil
	}
	o.sendLocked(b.Presenter, qualityMsg{Type: MsgQualityUpdate, RoomID: r.ID, Quality: quality, FromSocketID: id})
	o.metrics.Signals.WithLabelValues(MsgQualityUpdate).Inc()
	return nil
}

// UpdateSubtitleSettings relays subtitle display settings to the rest of the
// room.
func (o *Orchestrator) UpdateSubtitleSettings(id core.ConnID, roomID domain.RoomID, settings json.RawMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, m, err := o.memberLocked(id, roomID)
	if err != nil {
		return err
	}
	if !m.User.IsTutor {
		return app.Errorf(app.CodeNotPresenter, "only a tutor can change subtitle settings")
	}
	o.broadcastLocked(r, id, subtitleSettingsMsg{Type: MsgSubtitleSettings, Settings: settings})
	o.metrics.Signals.WithLabelValues(MsgSubtitleSettings).Inc()
	return nil
}

// ClearSubtitles tells the rest of the room to drop displayed subtitles.
func (o *Orchestrator) ClearSubtitles(id core.ConnID, roomID domain.RoomID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, m, err := o.memberLocked(id, roomID)
	if err != nil {
		return err
	}
	if !m.User.IsTutor {
		return app.Errorf(app.CodeNotPresenter, "only a tutor can clear subtitles")
	}
	o.broadcastLocked(r, id, subtitlesClearedMsg{Type: MsgSubtitlesCleared, RoomID: r.ID})
	o.metrics.Signals.WithLabelValues(MsgSubtitlesCleared).Inc()
	return nil
}
