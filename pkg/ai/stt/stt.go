// Package stt provides interfaces and types for speech-to-text providers.
// Recognition is streaming: audio frames are pushed and transcripts arrive
// as interim and final SpeechEvents.
package stt

import (
	"context"

	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

// StreamConfig contains configuration for STT streams.
type StreamConfig struct {
	SampleRate  int
	NumChannels int
	Language    string
}

// SpeechEvent represents a speech recognition event containing transcription results or errors.
type SpeechEvent struct {
	Type       SpeechEventType
	Text       string
	IsFinal    bool
	Language   string
	Confidence float64
	Timestamp  int64 // milliseconds since epoch
	Error      error
}

type SpeechEventType int

const (
	SpeechEventInterim SpeechEventType = iota
	SpeechEventFinal
	SpeechEventError
)

func (t SpeechEventType) String() string {
	switch t {
	case SpeechEventInterim:
		return "interim"
	case SpeechEventFinal:
		return "final"
	case SpeechEventError:
		return "error"
	default:
		return "unknown"
	}
}

// Capabilities describes an STT provider.
type Capabilities struct {
	Streaming      bool
	InterimResults bool
	// SampleRate is the input rate the provider prefers.
	SampleRate int
}

// STT is the main interface for speech-to-text providers.
type STT interface {
	// NewStream opens a recognition stream. The stream ends when ctx is
	// cancelled or CloseSend has flushed the final results.
	NewStream(ctx context.Context, cfg StreamConfig) (Stream, error)

	Capabilities() Capabilities
}

// Stream represents an active STT streaming session.
type Stream interface {
	// Push sends an audio frame for processing.
	Push(frame rtc.AudioFrame) error

	// Events is closed after the last result of the stream.
	Events() <-chan SpeechEvent

	// CloseSend signals that no more audio will be sent and flushes any pending data.
	CloseSend() error
}
