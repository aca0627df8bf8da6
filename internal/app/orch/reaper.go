package orch

import (
	"context"
	"time"

	"github.com/dkeye/Boardly/internal/app"
	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/domain"
	"github.com/rs/zerolog/log"
)

type staleSession struct {
	room domain.RoomID
	user domain.UserID
	conn core.ConnID
}

// Sweep expires every session whose last heartbeat is older than the
// session timeout and returns how many were expired.
func (o *Orchestrator) Sweep() int {
	o.limiter.Prune()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.cfg.SessionTimeout <= 0 {
		return 0
	}
	deadline := o.now().Add(-o.cfg.SessionTimeout)

	var stale []staleSession
	o.rooms.Each(func(r *app.Room) {
		for uid, rec := range r.Sessions() {
			if rec.LastSeen.Before(deadline) {
				stale = append(stale, staleSession{room: r.ID, user: uid, conn: rec.Conn})
			}
		}
	})

	expired := 0
	for _, s := range stale {
		// An earlier expiry in this sweep may have changed the room.
		r, ok := o.rooms.Get(s.room)
		if !ok {
			continue
		}
		rec, ok := r.Session(s.user)
		if !ok || rec.Conn != s.conn || !rec.LastSeen.Before(deadline) {
			continue
		}
		o.expireLocked(s.room, s.conn)
		expired++
	}
	if expired > 0 {
		o.refreshGaugesLocked()
		log.Info().Str("module", "reaper").Int("expired", expired).Msg("stale sessions expired")
	}
	return expired
}

func (o *Orchestrator) expireLocked(roomID domain.RoomID, id core.ConnID) {
	o.sendLocked(id, forceDisconnectMsg{
		Type:    MsgForceDisconnect,
		Reason:  "session_timeout",
		Message: "Your session expired due to inactivity.",
		Code:    CodeSessionExpired,
	})
	o.registry.MarkClosing(id)
	o.leaveRoomLocked(roomID, id, causeExpired)
	if conn, ok := o.registry.Conn(id); ok {
		conn.Close()
	}
	o.metrics.Expirations.Inc()
	log.Warn().Str("module", "reaper").Str("room", string(roomID)).Str("conn", string(id)).Msg("session expired")
}

// RunReaper sweeps on every SweepInterval until ctx is done.
func (o *Orchestrator) RunReaper(ctx context.Context) {
	if o.cfg.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(o.cfg.SweepInterval)
	defer ticker.Stop()
	log.Info().Str("module", "reaper").Dur("interval", o.cfg.SweepInterval).
		Dur("timeout", o.cfg.SessionTimeout).Msg("started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "reaper").Msg("stopped")
			return
		case <-ticker.C:
			o.Sweep()
		}
	}
}
