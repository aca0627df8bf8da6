package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Boardly/internal/app/orch"
	"github.com/dkeye/Boardly/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStream struct {
	mu     sync.Mutex
	frames []core.Frame
}

func (s *recordingStream) Ready() bool { return true }

func (s *recordingStream) Send(f core.Frame) error {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	return nil
}

func (s *recordingStream) Finish() {}

func (s *recordingStream) received() []core.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Frame(nil), s.frames...)
}

type stubTranscriber struct {
	stream *recordingStream
}

func (t *stubTranscriber) Open(context.Context, core.TranscriptionConfig, core.TranscriptHandler) (core.TranscriptStream, error) {
	return t.stream, nil
}

type testServer struct {
	url    string
	stream *recordingStream
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	stream := &recordingStream{}
	cfg := orch.DefaultConfig()
	cfg.EvictionGrace = 0
	cfg.StatusDelay = 0
	cfg.BroadcastGrace = 0
	o := orch.New(cfg, orch.Deps{Transcriber: &stubTranscriber{stream: stream}})
	t.Cleanup(o.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ctl := NewSignalWSController(o, Options{PingPeriod: time.Second})

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set(DeviceTokenKey, c.Query("device"))
		ctl.HandleSignal(ctx, c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", stream: stream}
}

type client struct {
	t  *testing.T
	ws *websocket.Conn
	id string
}

func (s *testServer) dial(t *testing.T, device string) *client {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(s.url+"?device="+device, http.Header{"User-Agent": {"test/" + device}})
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	c := &client{t: t, ws: ws}
	hello := c.expect("connected")
	c.id = hello["socketId"].(string)
	require.NotEmpty(t, c.id)
	return c
}

func (c *client) send(v any) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteJSON(v))
}

// expect reads until a message of the given type arrives.
func (c *client) expect(typ string) map[string]any {
	c.t.Helper()
	require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var m map[string]any
		err := c.ws.ReadJSON(&m)
		require.NoError(c.t, err, "waiting for %s", typ)
		if m["type"] == typ {
			return m
		}
	}
}

func (c *client) join(room, user string, tutor bool) {
	c.t.Helper()
	c.send(map[string]any{
		"type":   "join-room",
		"roomId": room,
		"user":   map[string]any{"id": user, "name": user, "isTutor": tutor},
	})
	c.expect("room-joined")
}

func TestJoinAndStats(t *testing.T) {
	s := newTestServer(t)
	a := s.dial(t, "a")
	b := s.dial(t, "b")

	a.join("R1", "tutor-1", true)
	b.join("R1", "student-1", false)

	stats := a.expect("room-stats-update")
	if stats["totalUsers"] == 1.0 {
		stats = a.expect("room-stats-update")
	}
	assert.Equal(t, 2.0, stats["totalUsers"])
	assert.Equal(t, 1.0, stats["tutors"])
	assert.Equal(t, 1.0, stats["students"])
}

func TestProtocolErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  any
		code string
	}{
		{"missing user id", map[string]any{"type": "join-room", "roomId": "R1", "user": map[string]any{"name": "x"}}, "bad_payload"},
		{"unknown type", map[string]any{"type": "draw-line"}, "unknown_type"},
		{"not in room", map[string]any{"type": "voice-broadcast-started", "roomId": "R1"}, "not_in_room"},
		{"bad offer", map[string]any{"type": "voice-offer", "roomId": "R1", "offer": map[string]any{"type": "offer", "sdp": "junk"}}, "bad_payload"},
	}
	s := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := s.dial(t, "x")
			c.send(tt.msg)
			e := c.expect("error")
			assert.Equal(t, tt.code, e["code"])
			assert.NotEmpty(t, e["error"])
		})
	}
}

func TestPing(t *testing.T) {
	s := newTestServer(t)
	c := s.dial(t, "a")
	c.send(map[string]any{"type": "ping"})
	pong := c.expect("pong")
	assert.NotZero(t, pong["timestamp"])
}

func TestMultiDeviceEvictionClosesOldSocket(t *testing.T) {
	s := newTestServer(t)
	laptop := s.dial(t, "laptop")
	phone := s.dial(t, "phone")

	laptop.join("R1", "alice", false)
	phone.join("R1", "alice", false)

	forced := laptop.expect("force-disconnect")
	assert.Equal(t, "MULTI_DEVICE_ACCESS", forced["code"])

	require.NoError(t, laptop.ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := laptop.ws.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
			break
		}
	}
}

func TestSignalingRelay(t *testing.T) {
	s := newTestServer(t)
	tutor := s.dial(t, "tutor")
	viewer := s.dial(t, "viewer")
	tutor.join("R1", "t", true)
	viewer.join("R1", "v", false)

	tutor.send(map[string]any{"type": "voice-broadcast-started", "roomId": "R1"})
	started := viewer.expect("voice-broadcast-started")
	assert.Equal(t, tutor.id, started["tutorSocketId"])

	viewer.send(map[string]any{"type": "request-broadcast-status", "roomId": "R1", "studentSocketId": "spoofed"})
	ask := tutor.expect("student-join-broadcast")
	assert.Equal(t, viewer.id, ask["studentSocketId"])

	sdp := "v=0\r\no=- 1 2 IN IP4 127.0.0.1\r\ns=-\r\nt=0 0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\nc=IN IP4 0.0.0.0\r\na=rtpmap:111 opus/48000/2\r\n"
	tutor.send(map[string]any{
		"type": "voice-offer", "roomId": "R1", "targetStudentId": viewer.id,
		"offer": map[string]any{"type": "offer", "sdp": sdp},
	})
	offer := viewer.expect("voice-offer")
	assert.Equal(t, tutor.id, offer["tutorSocketId"])

	viewer.send(map[string]any{
		"type": "voice-answer", "roomId": "R1", "socketId": viewer.id,
		"answer": map[string]any{"type": "answer", "sdp": sdp},
	})
	ans := tutor.expect("voice-answer")
	assert.Equal(t, viewer.id, ans["studentSocketId"])

	viewer.send(map[string]any{
		"type": "voice-ice-candidate", "roomId": "R1",
		"candidate": map[string]any{"candidate": "candidate:1 1 udp 2122260223 10.0.0.9 50000 typ host", "sdpMid": "0"},
	})
	cand := tutor.expect("voice-ice-candidate")
	assert.Equal(t, viewer.id, cand["fromSocketId"])

	tutor.send(map[string]any{"type": "voice-broadcast-ended", "roomId": "R1"})
	viewer.expect("voice-broadcast-ended")
}

func TestAudioPaths(t *testing.T) {
	s := newTestServer(t)
	tutor := s.dial(t, "tutor")
	tutor.join("R1", "t", true)
	tutor.send(map[string]any{"type": "start-transcription", "roomId": "R1"})
	tutor.expect("transcription-started")

	raw, err := json.Marshal(map[string]any{"type": "audio-data", "roomId": "R1", "audioData": []byte{1, 0, 2, 0}})
	require.NoError(t, err)
	require.NoError(t, tutor.ws.WriteMessage(websocket.TextMessage, raw))

	pkt := rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 1}, Payload: []byte{0x00, 0x01, 0x00, 0x02}}
	bin, err := pkt.Marshal()
	require.NoError(t, err)
	require.NoError(t, tutor.ws.WriteMessage(websocket.BinaryMessage, bin))

	require.Eventually(t, func() bool { return len(s.stream.received()) == 2 }, 2*time.Second, 10*time.Millisecond)
	frames := s.stream.received()
	assert.Equal(t, core.Frame{1, 0, 2, 0}, frames[0])
	assert.Equal(t, core.Frame{1, 0, 2, 0}, frames[1])
}
