package orch

import (
	"context"
	"strings"

	"github.com/dkeye/Boardly/internal/app"
	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/domain"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// StartTranscription opens the room's upstream speech-to-text channel, or
// reuses the one already there.
func (o *Orchestrator) StartTranscription(ctx context.Context, id core.ConnID, roomID domain.RoomID) error {
	o.mu.Lock()
	r, m, err := o.memberLocked(id, roomID)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if !m.User.IsTutor {
		o.mu.Unlock()
		return app.Errorf(app.CodeNotPresenter, "only a tutor can start transcription")
	}
	if o.transcriber == nil {
		o.mu.Unlock()
		return app.Errorf(app.CodeNoTranscriber, "transcription is not configured")
	}
	if t := r.Transcription; t != nil {
		if t.Phase == app.TranscriptionOpen {
			o.sendLocked(id, transcriptionMsg{Type: MsgTranscriptionStarted, RoomID: r.ID})
		}
		o.mu.Unlock()
		return nil
	}
	t := &app.TranscriptionSession{Owner: id, Phase: app.TranscriptionOpening}
	r.Transcription = t
	roomID = r.ID
	o.refreshGaugesLocked()
	o.mu.Unlock()

	if o.cfg.OpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.OpenTimeout)
		defer cancel()
	}
	stream, err := o.transcriber.Open(ctx, o.cfg.Transcription, &transcriptHandler{o: o, room: roomID, session: t})

	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rooms.Get(roomID)
	current := ok && r.Transcription == t
	if err != nil {
		o.metrics.UpstreamErrors.Inc()
		log.Error().Str("module", "orch").Str("room", string(roomID)).Err(err).Msg("open transcription")
		if current {
			r.Transcription = nil
			o.rooms.StopRoomIfIdle(roomID)
			o.refreshGaugesLocked()
		}
		o.sendLocked(t.Owner, transcriptionMsg{Type: MsgTranscriptionError, RoomID: roomID, Error: err.Error()})
		return nil
	}
	// Stopped, replaced or shut down while the channel was opening.
	if !current || o.closed {
		stream.Finish()
		return nil
	}
	t.Stream = stream
	t.Phase = app.TranscriptionOpen
	t.OpenedAt = o.now()
	o.sendLocked(t.Owner, transcriptionMsg{Type: MsgTranscriptionStarted, RoomID: roomID})
	o.publish(core.EventTranscriptionOpened, roomID, "", t.Owner, "")
	log.Info().Str("module", "orch").Str("room", string(roomID)).Str("conn", string(t.Owner)).Msg("transcription open")
	return nil
}

// StopTranscription finalizes the room's upstream channel. Stopping a room
// without one is a no-op.
func (o *Orchestrator) StopTranscription(id core.ConnID, roomID domain.RoomID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, m, err := o.memberLocked(id, roomID)
	if err != nil {
		return err
	}
	if !m.User.IsTutor {
		return app.Errorf(app.CodeNotPresenter, "only a tutor can stop transcription")
	}
	if r.Transcription == nil {
		return nil
	}
	o.stopTranscriptionLocked(r, "")
	o.rooms.StopRoomIfIdle(r.ID)
	o.refreshGaugesLocked()
	return nil
}

func (o *Orchestrator) stopTranscriptionLocked(r *app.Room, reason string) {
	t := r.Transcription
	if t == nil {
		return
	}
	r.Transcription = nil
	if t.Stream != nil {
		t.Stream.Finish()
	}
	o.broadcastLocked(r, "", transcriptionMsg{Type: MsgTranscriptionStopped, RoomID: r.ID, Reason: reason})
	o.publish(core.EventTranscriptionClosed, r.ID, "", t.Owner, reason)
	log.Info().Str("module", "orch").Str("room", string(r.ID)).Str("reason", reason).Msg("transcription stopped")
}

// PushAudio forwards one linear16 frame upstream. Frames from anyone but the
// owner, or while the channel is not ready, are dropped.
func (o *Orchestrator) PushAudio(id core.ConnID, roomID domain.RoomID, frame core.Frame) {
	o.mu.Lock()
	if roomID == "" {
		roomID, _ = o.registry.RoomOf(id)
	}
	var stream core.TranscriptStream
	if r, ok := o.rooms.Get(roomID); ok && o.registry.Live(id) {
		if t := r.Transcription; t != nil && t.Owner == id && t.Phase == app.TranscriptionOpen {
			stream = t.Stream
		}
	}
	o.mu.Unlock()

	sampled := log.Logger.Sample(o.dropSampler)
	if stream == nil || !stream.Ready() {
		o.metrics.AudioFrames.WithLabelValues("dropped").Inc()
		sampled.Warn().Str("module", "orch").Str("room", string(roomID)).Str("conn", string(id)).
			Msg("transcription not ready, audio dropped")
		return
	}
	if err := stream.Send(frame); err != nil {
		o.metrics.AudioFrames.WithLabelValues("dropped").Inc()
		sampled.Warn().Str("module", "orch").Str("room", string(roomID)).Err(err).Msg("send audio upstream")
		return
	}
	o.metrics.AudioFrames.WithLabelValues("forwarded").Inc()
}

// TranscriptionPhase reports the phase of a room's transcription; zero
// means closed.
func (o *Orchestrator) TranscriptionPhase(roomID domain.RoomID) app.TranscriptionPhase {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rooms.Get(roomID)
	if !ok || r.Transcription == nil {
		return 0
	}
	return r.Transcription.Phase
}

func (o *Orchestrator) fanOutTranscript(roomID domain.RoomID, t *app.TranscriptionSession, tr core.Transcript) {
	if strings.TrimSpace(tr.Text) == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rooms.Get(roomID)
	if !ok || r.Transcription != t {
		return
	}
	at := tr.ReceivedAt
	if at.IsZero() {
		at = o.now()
	}
	o.broadcastLocked(r, "", subtitleMsg{
		Type:       MsgSubtitle,
		ID:         ulid.Make().String(),
		Text:       tr.Text,
		IsFinal:    tr.IsFinal,
		Timestamp:  at.UnixMilli(),
		Confidence: tr.Confidence,
	})
}

// upstreamEnded tears down a session the service closed or failed.
func (o *Orchestrator) upstreamEnded(roomID domain.RoomID, t *app.TranscriptionSession, reason string, cause error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rooms.Get(roomID)
	if !ok || r.Transcription != t {
		return
	}
	r.Transcription = nil

	msg := "transcription service closed the channel"
	if cause != nil {
		msg = cause.Error()
		o.metrics.UpstreamErrors.Inc()
	}
	log.Warn().Str("module", "orch").Str("room", string(roomID)).Str("reason", reason).Str("error", msg).
		Msg("transcription ended by upstream")

	o.sendLocked(t.Owner, transcriptionMsg{Type: MsgTranscriptionError, RoomID: roomID, Error: msg})
	o.broadcastLocked(r, "", transcriptionMsg{Type: MsgTranscriptionStopped, RoomID: roomID, Reason: reason})
	o.publish(core.EventTranscriptionClosed, roomID, "", t.Owner, reason)
	o.rooms.StopRoomIfIdle(roomID)
	o.refreshGaugesLocked()
}

// transcriptHandler binds upstream callbacks to one session. Callbacks for a
// session that is no longer the room's current one are ignored.
type transcriptHandler struct {
	o       *Orchestrator
	room    domain.RoomID
	session *app.TranscriptionSession
}

func (h *transcriptHandler) OnTranscript(tr core.Transcript) {
	h.o.fanOutTranscript(h.room, h.session, tr)
}

func (h *transcriptHandler) OnError(err error) {
	h.o.upstreamEnded(h.room, h.session, ReasonUpstreamError, err)
}

func (h *transcriptHandler) OnClose() {
	h.o.upstreamEnded(h.room, h.session, ReasonUpstreamClosed, nil)
}
