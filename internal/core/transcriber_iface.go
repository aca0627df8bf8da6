package core

import (
	"context"
	"time"
)

// TranscriptionConfig is the audio format and recognition setup sent upstream.
type TranscriptionConfig struct {
	Model      string
	Language   string
	Encoding   string
	SampleRate int
	Channels   int
}

// DefaultTranscriptionConfig is mono 16 kHz 16-bit linear PCM.
func DefaultTranscriptionConfig() TranscriptionConfig {
	return TranscriptionConfig{
		Model:      "nova-3",
		Language:   "en-US",
		Encoding:   "linear16",
		SampleRate: 16000,
		Channels:   1,
	}
}

type Transcript struct {
	Text       string
	IsFinal    bool
	Confidence float64
	ReceivedAt time.Time
}

// TranscriptHandler receives upstream events. Calls are sequential and in
// arrival order. OnClose is called at most once, after which nothing else is.
type TranscriptHandler interface {
	OnTranscript(Transcript)
	// OnError reports a mid-stream failure; OnClose follows.
	OnError(error)
	OnClose()
}

// TranscriptStream is one open upstream speech-to-text channel.
type TranscriptStream interface {
	// Ready reports whether the channel currently accepts audio.
	Ready() bool
	Send(Frame) error
	// Finish asks upstream to flush and close. It must not block.
	Finish()
}

// Transcriber opens upstream channels. Open returns once the channel is
// acknowledged by the service; when it fails the handler is never called.
type Transcriber interface {
	Open(ctx context.Context, cfg TranscriptionConfig, h TranscriptHandler) (TranscriptStream, error)
}
