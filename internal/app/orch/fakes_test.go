package orch

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Boardly/internal/app"
	"github.com/dkeye/Boardly/internal/core"
	"github.com/dkeye/Boardly/internal/domain"
	"github.com/dkeye/Boardly/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id core.ConnID

	mu     sync.Mutex
	frames []core.Frame
	closed bool
	full   bool
}

func (c *fakeConn) ID() core.ConnID { return c.id }

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, append(core.Frame(nil), f...))
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) setFull(full bool) {
	c.mu.Lock()
	c.full = full
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// messages decodes every frame of the given type.
func (c *fakeConn) messages(typ string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, f := range c.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			continue
		}
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) count(typ string) int { return len(c.messages(typ)) }

func (c *fakeConn) last(typ string) map[string]any {
	msgs := c.messages(typ)
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeLookup struct {
	rooms map[domain.RoomID]domain.Room
	err   error
	// hang blocks lookups until the caller's context is done.
	hang bool
}

func (l *fakeLookup) LookupRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	if l.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if l.err != nil {
		return nil, l.err
	}
	r, ok := l.rooms[id]
	if !ok {
		return nil, core.ErrRoomNotFound
	}
	return &r, nil
}

type fakeStream struct {
	mu       sync.Mutex
	frames   []core.Frame
	finished int
	notReady bool
}

func (s *fakeStream) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.notReady
}

func (s *fakeStream) Send(f core.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeStream) Finish() {
	s.mu.Lock()
	s.finished++
	s.mu.Unlock()
}

func (s *fakeStream) finishCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *fakeStream) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type fakeTranscriber struct {
	mu       sync.Mutex
	opens    int
	err      error
	gate     chan struct{}
	streams  []*fakeStream
	handlers []core.TranscriptHandler
}

func (f *fakeTranscriber) Open(ctx context.Context, _ core.TranscriptionConfig, h core.TranscriptHandler) (core.TranscriptStream, error) {
	f.mu.Lock()
	f.opens++
	gate, err := f.gate, f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	s := &fakeStream{}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.handlers = append(f.handlers, h)
	f.mu.Unlock()
	return s, nil
}

func (f *fakeTranscriber) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeTranscriber) stream(i int) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[i]
}

func (f *fakeTranscriber) handler(i int) core.TranscriptHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[i]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []core.SessionEvent
}

func (p *fakePublisher) Publish(e core.SessionEvent) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

func (p *fakePublisher) kinds() []core.SessionEventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.SessionEventKind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

type harness struct {
	t     *testing.T
	o     *Orchestrator
	clock *fakeClock
	stt   *fakeTranscriber
	pub   *fakePublisher
	m     *metrics.Metrics
}

// newHarness builds an orchestrator with every delay disabled unless cfg
// sets one.
func newHarness(t *testing.T, tweak func(*Config, *Deps)) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		clock: newFakeClock(),
		stt:   &fakeTranscriber{},
		pub:   &fakePublisher{},
		m:     metrics.New(prometheus.NewRegistry()),
	}
	cfg := DefaultConfig()
	cfg.EvictionGrace = 0
	cfg.StatusDelay = 0
	cfg.BroadcastGrace = 0
	cfg.OpenTimeout = time.Second
	deps := Deps{
		Transcriber: h.stt,
		Events:      h.pub,
		Metrics:     h.m,
		Clock:       h.clock.Now,
	}
	if tweak != nil {
		tweak(&cfg, &deps)
	}
	h.o = New(cfg, deps)
	t.Cleanup(h.o.Close)
	return h
}

// connect registers a connection; device selects the user agent and so the
// fingerprint.
func (h *harness) connect(id, device string) *fakeConn {
	c := &fakeConn{id: core.ConnID(id)}
	h.o.Connect(c, domain.DeviceMeta{UserAgent: device, RemoteAddr: "10.0.0.7"})
	return c
}

func (h *harness) join(c *fakeConn, room string, user domain.User) {
	h.t.Helper()
	require.NoError(h.t, h.o.Join(context.Background(), c.id, domain.RoomID(room), user))
}

func student(id string) domain.User {
	return domain.User{ID: domain.UserID(id), Name: "student " + id}
}

func tutor(id string) domain.User {
	return domain.User{ID: domain.UserID(id), Name: "tutor " + id, IsTutor: true}
}

// requireCode asserts err is a protocol error with the given code.
func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var perr *app.ProtocolError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, code, perr.Code)
}
