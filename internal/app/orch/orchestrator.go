package orch

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Boardly/internal/app"
	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/domain"
	"github.com/dkeye/Boardly/internal/metrics"
	"github.com/pion/webrtc/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	SessionTimeout time.Duration
	SweepInterval  time.Duration
	EvictionGrace  time.Duration
	BroadcastGrace time.Duration
	StatusDelay    time.Duration
	OpenTimeout    time.Duration
	LookupTimeout  time.Duration

	ICEServers    []webrtc.ICEServer
	Transcription core.TranscriptionConfig
}

func DefaultConfig() Config {
	return Config{
		SessionTimeout: 30 * time.Minute,
		SweepInterval:  5 * time.Minute,
		EvictionGrace:  200 * time.Millisecond,
		BroadcastGrace: 5 * time.Second,
		StatusDelay:    time.Second,
		OpenTimeout:    10 * time.Second,
		LookupTimeout:  3 * time.Second,
		Transcription:  core.DefaultTranscriptionConfig(),
	}
}

// Deps are the collaborators of the orchestrator. Everything but Rooms and
// Transcriber has a working default.
type Deps struct {
	Rooms       core.RoomLookup
	Transcriber core.Transcriber
	Events      core.EventPublisher
	Metrics     *metrics.Metrics
	Policy      app.Policy
	Limiter     *app.RoomRateLimiter
	Clock       func() time.Time
}

// Orchestrator is the single writer of all session state. Every exported
// method takes mu; nothing blocking happens while it is held.
type Orchestrator struct {
	mu sync.Mutex

	cfg      Config
	registry *app.Registry
	rooms    *app.RoomManager

	lookup      core.RoomLookup
	transcriber core.Transcriber
	events      core.EventPublisher
	metrics     *metrics.Metrics
	policy      app.Policy
	limiter     *app.RoomRateLimiter
	now         func() time.Time
	dropSampler zerolog.Sampler

	closed bool
}

func New(cfg Config, deps Deps) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		registry:    app.NewRegistry(),
		rooms:       app.NewRoomManager(),
		lookup:      deps.Rooms,
		transcriber: deps.Transcriber,
		events:      deps.Events,
		metrics:     deps.Metrics,
		policy:      deps.Policy,
		limiter:     deps.Limiter,
		now:         deps.Clock,
		dropSampler: &zerolog.BurstSampler{Burst: 5, Period: time.Second},
	}
	if o.events == nil {
		o.events = core.NopPublisher{}
	}
	if o.metrics == nil {
		o.metrics = metrics.New(prometheus.NewRegistry())
	}
	if o.policy == nil {
		o.policy = app.SimplePolicy{}
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Connect registers a freshly accepted connection and greets it.
func (o *Orchestrator) Connect(conn core.SignalConnection, meta domain.DeviceMeta) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		conn.Close()
		return
	}
	o.registry.Bind(conn, meta, o.now())
	o.sendLocked(conn.ID(), connectedMsg{
		Type:       MsgConnected,
		SocketID:   conn.ID(),
		ICEServers: o.iceServers(),
	})
	o.refreshGaugesLocked()
	log.Info().Str("module", "orch").Str("conn", string(conn.ID())).
		Str("fingerprint", string(meta.Fingerprint())).Msg("connected")
}

// Disconnect unwinds everything the connection took part in. It is safe to
// call more than once.
func (o *Orchestrator) Disconnect(id core.ConnID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.registry.Conn(id); !ok {
		return
	}
	if roomID, ok := o.registry.RoomOf(id); ok {
		o.leaveRoomLocked(roomID, id, causeDisconnect)
	}
	o.registry.Unbind(id)
	o.refreshGaugesLocked()
	log.Info().Str("module", "orch").Str("conn", string(id)).Msg("disconnected")
}

// Reject reports a client protocol error to the originating connection.
func (o *Orchestrator) Reject(id core.ConnID, err error) {
	var perr *app.ProtocolError
	if !errors.As(err, &perr) {
		perr = app.Errorf(app.CodeBadPayload, "%v", err)
	}
	o.metrics.ProtocolErrors.WithLabelValues(perr.Code).Inc()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.sendLocked(id, errorMsg{Type: "error", Code: perr.Code, Error: perr.Message})
}

// Pong answers a transport-level ping.
func (o *Orchestrator) Pong(id core.ConnID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sendLocked(id, pongMsg{Type: "pong", Timestamp: o.now().UnixMilli()})
}

// Close stops all timers and finishes open upstream channels. Connections
// stay with the transport, which closes them on shutdown.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.rooms.Each(func(r *app.Room) {
		for _, m := range r.Members() {
			m.StopTimers()
		}
		if r.Broadcast != nil {
			r.Broadcast.StopGrace()
		}
		if t := r.Transcription; t != nil {
			r.Transcription = nil
			if t.Stream != nil {
				t.Stream.Finish()
			}
		}
	})
	log.Info().Str("module", "orch").Msg("closed")
}

func (o *Orchestrator) iceServers() []webrtc.ICEServer {
	if o.cfg.ICEServers == nil {
		return []webrtc.ICEServer{}
	}
	return o.cfg.ICEServers
}

// sendLocked marshals v and queues it on one connection. Closing
// connections are skipped.
func (o *Orchestrator) sendLocked(id core.ConnID, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Str("module", "orch").Err(err).Msg("marshal outbound message")
		return
	}
	o.sendFrameLocked("", id, data)
}

func (o *Orchestrator) sendFrameLocked(roomID domain.RoomID, id core.ConnID, data core.Frame) {
	if !o.registry.Live(id) {
		return
	}
	conn, _ := o.registry.Conn(id)
	err := conn.TrySend(data)
	if err == nil {
		return
	}
	if !errors.Is(err, core.ErrBackpressure) {
		log.Debug().Str("module", "orch").Str("conn", string(id)).Err(err).Msg("send failed")
		return
	}
	o.metrics.Backpressure.Inc()
	switch o.policy.OnBackPressure(roomID, id) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("conn", string(id)).Str("room", string(roomID)).
			Msg("outbound buffer full, dropping connection")
		o.registry.MarkClosing(id)
		conn.Close()
	case app.DropMessage:
	}
}

// broadcastLocked fans v out to the active members of r, except one
// connection when except is set.
func (o *Orchestrator) broadcastLocked(r *app.Room, except core.ConnID, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Str("module", "orch").Err(err).Msg("marshal outbound message")
		return
	}
	for _, m := range r.ActiveMembers() {
		if m.Conn == except {
			continue
		}
		o.sendFrameLocked(r.ID, m.Conn, data)
	}
}

func (o *Orchestrator) publish(kind core.SessionEventKind, room domain.RoomID, user domain.UserID, conn core.ConnID, reason string) {
	o.events.Publish(core.SessionEvent{
		Kind:   kind,
		Room:   room,
		User:   user,
		Conn:   conn,
		Reason: reason,
		At:     o.now(),
	})
}

func (o *Orchestrator) refreshGaugesLocked() {
	var sessions, broadcasts, transcriptions int
	o.rooms.Each(func(r *app.Room) {
		sessions += r.SessionCount()
		if r.Broadcast.IsActive() {
			broadcasts++
		}
		if r.Transcription != nil {
			transcriptions++
		}
	})
	o.metrics.Connections.Set(float64(o.registry.Len()))
	o.metrics.Rooms.Set(float64(o.rooms.Len()))
	o.metrics.Sessions.Set(float64(sessions))
	o.metrics.Broadcasts.Set(float64(broadcasts))
	o.metrics.Transcriptions.Set(float64(transcriptions))
}
