package orch

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Boardly/internal/app"
	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/domain"
	"github.com/rs/zerolog/log"
)

type leaveCause int

const (
	causeLeave leaveCause = iota
	causeSwitch
	causeDisconnect
	causeEvicted
	causeExpired
)

func (c leaveCause) String() string {
	switch c {
	case causeSwitch:
		return "switch"
	case causeDisconnect:
		return "disconnect"
	case causeEvicted:
		return "evicted"
	case causeExpired:
		return "expired"
	default:
		return "leave"
	}
}

// broadcastReason is the voice-broadcast-ended reason when the presenter goes
// away for this cause.
func (c leaveCause) broadcastReason() string {
	switch c {
	case causeDisconnect:
		return ReasonTutorDisconnected
	case causeEvicted:
		return ReasonTutorEvicted
	case causeExpired:
		return ReasonTutorTimeout
	default:
		return ReasonTutorLeft
	}
}

func (c leaveCause) eventKind() core.SessionEventKind {
	switch c {
	case causeEvicted:
		return core.EventEvicted
	case causeExpired:
		return core.EventExpired
	default:
		return core.EventLeft
	}
}

// Join admits the connection to roomID as user. A prior session of the same
// user from another device is evicted; one from the same device is taken
// over silently.
func (o *Orchestrator) Join(ctx context.Context, id core.ConnID, roomID domain.RoomID, user domain.User) error {
	if roomID == "" {
		return app.Errorf(app.CodeBadPayload, "roomId is required")
	}
	if err := user.Validate(); err != nil {
		return app.Errorf(app.CodeBadPayload, "%v", err)
	}

	o.mu.Lock()
	_, known := o.registry.Conn(id)
	live := o.registry.Live(id)
	o.mu.Unlock()
	if !known {
		return app.Errorf(app.CodeUnknownConn, "connection %s is not registered", id)
	}
	if !live {
		return nil
	}
	if !o.limiter.Allow(user.ID) {
		return app.Errorf(app.CodeRateLimited, "too many join attempts")
	}

	view, err := o.lookupView(ctx, roomID)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	// The lookup released the lock; the connection may be gone by now.
	if o.closed || !o.registry.Live(id) {
		return nil
	}
	now := o.now()
	r := o.rooms.GetOrCreate(roomID)
	if rec, ok := r.Session(user.ID); ok && rec.Conn == id {
		r.Touch(user.ID, id, now)
		return nil
	}
	if prev, ok := o.registry.RoomOf(id); ok {
		o.leaveRoomLocked(prev, id, causeSwitch)
		r = o.rooms.GetOrCreate(roomID)
	}

	fp, _ := o.registry.Fingerprint(id)
	pending := false
	if rec, ok := r.Session(user.ID); ok {
		if rec.Fingerprint == fp {
			o.takeoverLocked(r, rec.Conn, id)
		} else {
			o.evictLocked(r, rec.Conn)
			r = o.rooms.GetOrCreate(roomID)
			pending = o.cfg.EvictionGrace > 0
		}
	}

	m := &app.Membership{
		Conn:        id,
		User:        user,
		Fingerprint: fp,
		Pending:     pending,
		JoinedAt:    now,
	}
	r.Admit(m, now)
	o.registry.UpdateRoom(id, roomID)
	o.sendLocked(id, roomJoinedMsg{Type: MsgRoomJoined, RoomID: roomID, SocketID: id})
	o.publish(core.EventJoined, roomID, user.ID, id, "")

	if pending {
		m.SetAdmitTimer(time.AfterFunc(o.cfg.EvictionGrace, func() {
			o.activate(roomID, m, view)
		}))
	} else {
		o.announceLocked(r, m, view)
	}
	o.refreshGaugesLocked()

	log.Info().Str("module", "orch").Str("conn", string(id)).Str("room", string(roomID)).
		Str("user", string(user.ID)).Bool("tutor", user.IsTutor).Bool("pending", pending).Msg("joined room")
	return nil
}

// activate ends the pending state of m once the eviction grace elapsed.
func (o *Orchestrator) activate(roomID domain.RoomID, m *app.Membership, view string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	r, ok := o.rooms.Get(roomID)
	if !ok {
		return
	}
	if cur, ok := r.Member(m.Conn); !ok || cur != m || !m.Pending {
		return
	}
	m.Pending = false
	m.SetAdmitTimer(nil)
	o.announceLocked(r, m, view)
}

// announceLocked runs the visible part of an admission: view sync, presence
// broadcast and the deferred broadcast status push.
func (o *Orchestrator) announceLocked(r *app.Room, m *app.Membership, view string) {
	if view != "" {
		o.sendLocked(m.Conn, changeViewMsg{Type: MsgChangeView, View: view})
	}
	o.broadcastStatsLocked(r)

	if o.cfg.StatusDelay <= 0 {
		o.pushStatusLocked(r, m)
		return
	}
	roomID := r.ID
	m.SetStatusTimer(time.AfterFunc(o.cfg.StatusDelay, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.closed {
			return
		}
		r, ok := o.rooms.Get(roomID)
		if !ok {
			return
		}
		if cur, ok := r.Member(m.Conn); ok && cur == m {
			o.pushStatusLocked(r, m)
		}
	}))
}

// pushStatusLocked tells a late joiner about a broadcast in progress.
func (o *Orchestrator) pushStatusLocked(r *app.Room, m *app.Membership) {
	b := r.Broadcast
	if !b.IsActive() || b.Presenter == m.Conn {
		return
	}
	o.sendLocked(m.Conn, broadcastStartedMsg{
		Type:          MsgBroadcastStarted,
		RoomID:        r.ID,
		TutorSocketID: b.Presenter,
	})
}

// takeoverLocked hands the session of old to id without notifying anyone.
// The old connection is presumed to be closing already.
func (o *Orchestrator) takeoverLocked(r *app.Room, old, id core.ConnID) {
	r.RemoveMember(old)
	o.registry.RemoveRoom(old)
	if b := r.Broadcast; b != nil && b.Presenter == old {
		b.Presenter = id
	}
	if t := r.Transcription; t != nil && t.Owner == old {
		t.Owner = id
	}
	log.Info().Str("module", "orch").Str("room", string(r.ID)).Str("from", string(old)).
		Str("to", string(id)).Msg("session taken over by same device")
}

// evictLocked drops a session held by another device.
func (o *Orchestrator) evictLocked(r *app.Room, old core.ConnID) {
	o.sendLocked(old, forceDisconnectMsg{
		Type:    MsgForceDisconnect,
		Reason:  "multi_device_login",
		Message: "You have been signed in to this room from another device.",
		Code:    CodeMultiDevice,
	})
	o.registry.MarkClosing(old)
	o.leaveRoomLocked(r.ID, old, causeEvicted)
	if conn, ok := o.registry.Conn(old); ok {
		conn.Close()
	}
	o.metrics.Evictions.Inc()
	log.Warn().Str("module", "orch").Str("room", string(r.ID)).Str("conn", string(old)).
		Msg("evicted by login from another device")
}

// Leave removes the connection from its room. A roomID naming another room
// than the current one is ignored.
func (o *Orchestrator) Leave(id core.ConnID, roomID domain.RoomID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cur, ok := o.registry.RoomOf(id)
	if !ok || (roomID != "" && roomID != cur) {
		return
	}
	o.leaveRoomLocked(cur, id, causeLeave)
	o.refreshGaugesLocked()
}

func (o *Orchestrator) leaveRoomLocked(roomID domain.RoomID, id core.ConnID, cause leaveCause) {
	o.registry.RemoveRoom(id)
	r, ok := o.rooms.Get(roomID)
	if !ok {
		return
	}
	m, ok := r.RemoveMember(id)
	if !ok {
		o.rooms.StopRoomIfIdle(roomID)
		return
	}

	if b := r.Broadcast; b.IsActive() && b.Presenter == id {
		o.endBroadcastLocked(r, id, cause.broadcastReason())
	}
	if t := r.Transcription; t != nil && t.Owner == id {
		o.stopTranscriptionLocked(r, ReasonOwnerDisconnected)
	}

	o.publish(cause.eventKind(), roomID, m.User.ID, id, cause.String())
	if cause != causeEvicted {
		o.broadcastStatsLocked(r)
	}
	o.rooms.StopRoomIfIdle(roomID)

	log.Info().Str("module", "orch").Str("conn", string(id)).Str("room", string(roomID)).
		Str("user", string(m.User.ID)).Str("cause", cause.String()).Msg("left room")
}

// Heartbeat refreshes the user's session only when id owns it.
func (o *Orchestrator) Heartbeat(id core.ConnID, uid domain.UserID, roomID domain.RoomID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if roomID == "" {
		roomID, _ = o.registry.RoomOf(id)
	}
	r, ok := o.rooms.Get(roomID)
	if !ok {
		return
	}
	if !r.Touch(uid, id, o.now()) {
		log.Debug().Str("module", "orch").Str("conn", string(id)).Str("room", string(roomID)).
			Str("user", string(uid)).Msg("heartbeat ignored")
	}
}

func (o *Orchestrator) Stats(roomID domain.RoomID) app.RoomStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, _ := o.rooms.Get(roomID)
	return app.Stats(r)
}

func (o *Orchestrator) Rooms() []app.RoomInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rooms.List()
}

// SessionOf returns the session record of a user in a room.
func (o *Orchestrator) SessionOf(roomID domain.RoomID, uid domain.UserID) (app.SessionRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.rooms.Get(roomID)
	if !ok {
		return app.SessionRecord{}, false
	}
	rec, ok := r.Session(uid)
	if !ok {
		return app.SessionRecord{}, false
	}
	return *rec, true
}

func (o *Orchestrator) broadcastStatsLocked(r *app.Room) {
	o.broadcastLocked(r, "", statsMsg{Type: MsgRoomStats, RoomStats: app.Stats(r)})
}

func (o *Orchestrator) lookupView(ctx context.Context, roomID domain.RoomID) (string, error) {
	if o.lookup == nil {
		return "", nil
	}
	if o.cfg.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.LookupTimeout)
		defer cancel()
	}
	room, err := o.lookup.LookupRoom(ctx, roomID)
	switch {
	case errors.Is(err, core.ErrRoomNotFound):
		return "", app.Errorf(app.CodeRoomNotFound, "room %s does not exist", roomID)
	case err != nil:
		log.Warn().Str("module", "orch").Str("room", string(roomID)).Err(err).
			Msg("room lookup failed, joining without view sync")
		return "", nil
	}
	return room.CurrentView, nil
}

// memberLocked resolves the active membership of id in roomID.
func (o *Orchestrator) memberLocked(id core.ConnID, roomID domain.RoomID) (*app.Room, *app.Membership, error) {
	if !o.registry.Live(id) {
		return nil, nil, app.Errorf(app.CodeUnknownConn, "connection is closing")
	}
	if cur, ok := o.registry.RoomOf(id); !ok || (roomID != "" && cur != roomID) {
		return nil, nil, app.Errorf(app.CodeNotInRoom, "not a member of room %s", roomID)
	}
	if roomID == "" {
		roomID, _ = o.registry.RoomOf(id)
	}
	r, ok := o.rooms.Get(roomID)
	if !ok {
		return nil, nil, app.Errorf(app.CodeNotInRoom, "not a member of room %s", roomID)
	}
	m, ok := r.Member(id)
	if !ok || m.Pending {
		return nil, nil, app.Errorf(app.CodeNotInRoom, "not a member of room %s", roomID)
	}
	return r, m, nil
}
