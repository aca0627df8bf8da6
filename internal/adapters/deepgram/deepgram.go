// Package deepgram streams audio to a Deepgram-compatible live
// transcription endpoint over a websocket.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dkeye/Boardly/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const DefaultURL = "wss://api.deepgram.com/v1/listen"

var ErrNotReady = errors.New("deepgram: stream not ready")

type Options struct {
	APIKey    string
	URL       string
	KeepAlive time.Duration
	// SendBuffer is the number of audio frames queued before Send reports
	// backpressure.
	SendBuffer int
	Dialer     *websocket.Dialer
}

type Transcriber struct {
	opts Options
}

func New(opts Options) *Transcriber {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 8 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 128
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &Transcriber{opts: opts}
}

// ListenURL adds the recognition settings to base as query parameters.
func ListenURL(base string, cfg core.TranscriptionConfig) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("deepgram: bad url: %w", err)
	}
	q := u.Query()
	q.Set("model", cfg.Model)
	q.Set("language", cfg.Language)
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("utterance_end_ms", "1000")
	q.Set("vad_events", "true")
	q.Set("endpointing", "300")
	q.Set("encoding", cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("channels", strconv.Itoa(cfg.Channels))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Open dials the service. It returns once the websocket handshake is
// accepted; h is driven from the stream's reader goroutine afterwards.
func (t *Transcriber) Open(ctx context.Context, cfg core.TranscriptionConfig, h core.TranscriptHandler) (core.TranscriptStream, error) {
	target, err := ListenURL(t.opts.URL, cfg)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Token "+t.opts.APIKey)

	conn, resp, err := t.opts.Dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("deepgram: dial: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	log.Debug().Str("module", "deepgram").Str("model", cfg.Model).Str("language", cfg.Language).Msg("stream opened")

	s := newStream(conn, h, t.opts.SendBuffer, t.opts.KeepAlive)
	go s.writeLoop()
	go s.readLoop()
	return s, nil
}
