package fake

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

const (
	// InterimResultFrameInterval controls how often interim results are sent
	InterimResultFrameInterval = 10
	// DefaultTranscript is used when no transcript is provided
	DefaultTranscript = "This is a fake transcript from the fake STT provider."
)

var errStreamClosed = errors.New("stream is closed")

// FakeSTT hands each new stream the next scripted transcript. The final result
// is emitted on CloseSend. An empty transcript produces no final result.
type FakeSTT struct {
	mu          sync.Mutex
	transcripts []string
	streams     int
	frames      int
}

// NewFakeSTT creates a fake STT. Transcripts are consumed one per stream and the last one repeats.
func NewFakeSTT(transcripts ...string) *FakeSTT {
	if len(transcripts) == 0 {
		transcripts = []string{DefaultTranscript}
	}
	return &FakeSTT{transcripts: transcripts}
}

func (f *FakeSTT) NewStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	f.mu.Lock()
	idx := min(f.streams, len(f.transcripts)-1)
	f.streams++
	transcript := f.transcripts[idx]
	f.mu.Unlock()

	return &FakeSTTStream{
		parent:     f,
		transcript: transcript,
		language:   cfg.Language,
		events:     make(chan stt.SpeechEvent, 16),
		ctx:        ctx,
	}, nil
}

func (f *FakeSTT) Capabilities() stt.Capabilities {
	return stt.Capabilities{Streaming: true, InterimResults: true, SampleRate: 16000}
}

// Streams returns the number of streams opened.
func (f *FakeSTT) Streams() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams
}

// Frames returns the number of frames pushed across all streams.
func (f *FakeSTT) Frames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

// FakeSTTStream is a fake STT stream implementation.
type FakeSTTStream struct {
	parent     *FakeSTT
	transcript string
	language   string
	events     chan stt.SpeechEvent
	ctx        context.Context

	mu         sync.Mutex
	frameCount int
	closed     bool
}

// Push counts frames and emits an interim result every InterimResultFrameInterval frames.
func (s *FakeSTTStream) Push(frame rtc.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStreamClosed
	}

	s.frameCount++
	s.parent.mu.Lock()
	s.parent.frames++
	s.parent.mu.Unlock()

	if s.transcript != "" && s.frameCount%InterimResultFrameInterval == 0 {
		select {
		case s.events <- s.event(stt.SpeechEventInterim, s.transcript[:min(len(s.transcript), s.frameCount/2)]):
		case <-s.ctx.Done():
			return s.ctx.Err()
		default:
			// drop interims nobody reads
		}
	}
	return nil
}

func (s *FakeSTTStream) Events() <-chan stt.SpeechEvent {
	return s.events
}

// CloseSend emits the final result and closes Events.
func (s *FakeSTTStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	defer close(s.events)

	if s.transcript == "" {
		return nil
	}
	select {
	case s.events <- s.event(stt.SpeechEventFinal, s.transcript):
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *FakeSTTStream) event(t stt.SpeechEventType, text string) stt.SpeechEvent {
	return stt.SpeechEvent{
		Type:      t,
		Text:      text,
		IsFinal:   t == stt.SpeechEventFinal,
		Language:  s.language,
		Timestamp: time.Now().UnixMilli(),
	}
}
