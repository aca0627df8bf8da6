package deepgram

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Boardly/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait = 5 * time.Second
	// closeWait bounds how long a finished stream waits for the service to
	// flush final results.
	closeWait = 5 * time.Second
)

var (
	keepAliveMsg   = []byte(`{"type":"KeepAlive"}`)
	closeStreamMsg = []byte(`{"type":"CloseStream"}`)
)

type stream struct {
	conn      *websocket.Conn
	h         core.TranscriptHandler
	keepAlive time.Duration

	send       chan core.Frame
	finish     chan struct{}
	finishOnce sync.Once
	done       chan struct{}
	ready      atomic.Bool
	finishing  atomic.Bool
}

func newStream(conn *websocket.Conn, h core.TranscriptHandler, buffer int, keepAlive time.Duration) *stream {
	s := &stream{
		conn:      conn,
		h:         h,
		keepAlive: keepAlive,
		send:      make(chan core.Frame, buffer),
		finish:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.ready.Store(true)
	return s
}

func (s *stream) Ready() bool { return s.ready.Load() }

func (s *stream) Send(f core.Frame) error {
	if !s.ready.Load() {
		return ErrNotReady
	}
	select {
	case s.send <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (s *stream) Finish() {
	s.finishOnce.Do(func() {
		s.ready.Store(false)
		s.finishing.Store(true)
		close(s.finish)
	})
}

func (s *stream) write(kind int, data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(kind, data)
}

// writeLoop is the only writer of conn.
func (s *stream) writeLoop() {
	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case f := <-s.send:
			if err := s.write(websocket.BinaryMessage, f); err != nil {
				log.Debug().Str("module", "deepgram").Err(err).Msg("audio write failed")
				_ = s.conn.Close()
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.TextMessage, keepAliveMsg); err != nil {
				_ = s.conn.Close()
				return
			}
		case <-s.finish:
			s.flush()
			if err := s.write(websocket.TextMessage, closeStreamMsg); err != nil {
				_ = s.conn.Close()
				return
			}
			select {
			case <-s.done:
			case <-time.After(closeWait):
				log.Warn().Str("module", "deepgram").Msg("no close from service, dropping stream")
				_ = s.conn.Close()
			}
			return
		case <-s.done:
			return
		}
	}
}

// flush writes audio queued before Finish.
func (s *stream) flush() {
	for {
		select {
		case f := <-s.send:
			if err := s.write(websocket.BinaryMessage, f); err != nil {
				return
			}
		default:
			return
		}
	}
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type message struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool   `json:"is_final"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func (s *stream) readLoop() {
	defer close(s.done)
	defer s.ready.Store(false)
	defer s.conn.Close()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.ended(err)
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Str("module", "deepgram").Err(err).Msg("undecodable message")
			continue
		}
		switch msg.Type {
		case "Results":
			if len(msg.Channel.Alternatives) == 0 {
				continue
			}
			alt := msg.Channel.Alternatives[0]
			s.h.OnTranscript(core.Transcript{
				Text:       alt.Transcript,
				IsFinal:    msg.IsFinal,
				Confidence: alt.Confidence,
				ReceivedAt: time.Now(),
			})
		case "Error":
			desc := msg.Description
			if desc == "" {
				desc = msg.Message
			}
			s.h.OnError(fmt.Errorf("deepgram: %s", desc))
			s.h.OnClose()
			return
		case "Metadata", "SpeechStarted", "UtteranceEnd":
		default:
			log.Debug().Str("module", "deepgram").Str("type", msg.Type).Msg("ignored message")
		}
	}
}

// ended reports the end of the read side. A close the client asked for, or
// a normal close frame, is not an error.
func (s *stream) ended(err error) {
	var ce *websocket.CloseError
	if s.finishing.Load() || (errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure) {
		s.h.OnClose()
		return
	}
	s.h.OnError(fmt.Errorf("deepgram: %w", err))
	s.h.OnClose()
}
