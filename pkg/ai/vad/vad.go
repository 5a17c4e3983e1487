// Package vad defines voice activity detection over audio frame streams.
package vad

import (
	"context"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

type EventType int

const (
	EventSpeechStart EventType = iota
	EventSpeechEnd
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event represents a voice activity transition.
type Event struct {
	Type      EventType
	Timestamp time.Time

	// SpeechDuration is set on EventSpeechEnd.
	SpeechDuration time.Duration
	Probability    float64
	Error          error
}

// Capabilities describes the detection profile of a VAD.
type Capabilities struct {
	SampleRate          int
	MinSpeechDuration   time.Duration
	MinSilenceDuration  time.Duration
	ActivationThreshold float64
}

// VAD is the main interface for voice activity detection providers.
type VAD interface {
	// Detect processes audio frames and returns VAD events.
	// The returned channel will be closed when the input channel is closed or context is cancelled.
	Detect(ctx context.Context, frames <-chan rtc.AudioFrame) (<-chan Event, error)

	Capabilities() Capabilities
}
