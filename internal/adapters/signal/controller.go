package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dkeye/Boardly/internal/app"
	"github.com/dkeye/Boardly/internal/app/orch"
	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// DeviceTokenKey is the gin context key holding the per-browser device token.
const DeviceTokenKey = "device_token"

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:  64 << 10,
		PingPeriod: 54 * time.Second,
		SendBuffer: 64,
	}
}

type SignalWSController struct {
	Orch     *orch.Orchestrator
	opts     Options
	validate *validator.Validate
}

func NewSignalWSController(o *orch.Orchestrator, opts Options) *SignalWSController {
	def := DefaultOptions()
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = def.ReadLimit
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = def.PingPeriod
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	return &SignalWSController{
		Orch:     o,
		opts:     opts,
		validate: validator.New(),
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until either
// side closes it or ctx is done.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	// Upgrade writes its own handshake; carry over the device cookie.
	var header http.Header
	if cookies := c.Writer.Header().Values("Set-Cookie"); len(cookies) > 0 {
		header = http.Header{"Set-Cookie": cookies}
	}
	ws, err := upgrader.Upgrade(c.Writer, c.Request, header)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := newWsSignalConn(core.ConnID(uuid.NewString()), ws, ctl.opts.SendBuffer)
	meta := domain.DeviceMeta{
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.ClientIP(),
		DeviceToken: c.GetString(DeviceTokenKey),
	}
	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Str("remote", meta.RemoteAddr).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Connect(conn, meta)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}

type envelope struct {
	Type string `json:"type"`
}

// handleMessage dispatches one text frame. Failures are reported to the
// sender only; a panic never leaves this frame.
func (ctl *SignalWSController) handleMessage(ctx context.Context, c *WsSignalConn, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "signal").Str("conn", string(c.id)).Interface("panic", r).Msg("handler panic")
		}
	}()

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		ctl.Orch.Reject(c.id, app.Errorf(app.CodeBadPayload, "invalid json"))
		return
	}

	var err error
	switch env.Type {
	case "join-room":
		err = ctl.handleJoin(ctx, c, data)
	case "leave-room":
		err = ctl.handleLeave(c, data)
	case "heartbeat":
		err = ctl.handleHeartbeat(c, data)
	case "ping":
		ctl.Orch.Pong(c.id)
	case "voice-broadcast-started":
		err = ctl.handleBroadcastStart(c, data)
	case "voice-broadcast-ended":
		err = ctl.handleBroadcastEnd(c, data)
	case "voice-offer":
		err = ctl.handleOffer(c, data)
	case "voice-answer":
		err = ctl.handleAnswer(c, data)
	case "voice-ice-candidate":
		err = ctl.handleCandidate(c, data)
	case "student-join-broadcast", "request-broadcast-status":
		err = ctl.handleStatusRequest(c, data)
	case "voice-connection-quality":
		err = ctl.handleQuality(c, data)
	case "start-transcription":
		err = ctl.handleStartTranscription(ctx, c, data)
	case "stop-transcription":
		err = ctl.handleStopTranscription(c, data)
	case "audio-data":
		err = ctl.handleAudioData(c, data)
	case "subtitle-settings-update":
		err = ctl.handleSubtitleSettings(c, data)
	case "clear-subtitles":
		err = ctl.handleClearSubtitles(c, data)
	default:
		err = app.Errorf(app.CodeUnknownType, "unknown event %q", env.Type)
	}
	if err != nil {
		log.Debug().Str("module", "signal").Str("conn", string(c.id)).Str("type", env.Type).Err(err).Msg("rejected")
		ctl.Orch.Reject(c.id, err)
	}
}

// bind decodes and validates a payload.
func (ctl *SignalWSController) bind(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return app.Errorf(app.CodeBadPayload, "invalid payload: %v", err)
	}
	if err := ctl.validate.Struct(v); err != nil {
		return app.Errorf(app.CodeBadPayload, "%v", err)
	}
	return nil
}
