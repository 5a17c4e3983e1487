package fake

import (
	"context"
	"sync"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

const (
	SampleRate = 24000

	// DefaultFrames is the number of 10 ms frames synthesized per request.
	DefaultFrames = 20
)

// FakeTTS synthesizes a 440 Hz tone for every request and records the texts.
type FakeTTS struct {
	// Frames per request; DefaultFrames when zero.
	Frames int
	// Pace, when set, sleeps between frames to imitate a streaming provider.
	Pace time.Duration
	// Err, when set, fails each stream after FailAfter frames.
	Err       error
	FailAfter int

	mu       sync.Mutex
	requests []tts.SynthesizeRequest
}

func NewFakeTTS() *FakeTTS {
	return &FakeTTS{}
}

func (f *FakeTTS) Synthesize(ctx context.Context, req tts.SynthesizeRequest) (<-chan rtc.AudioFrame, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	frames := f.Frames
	if frames <= 0 {
		frames = DefaultFrames
	}

	output := make(chan rtc.AudioFrame, 10)
	go func() {
		defer close(output)
		for i := 0; i < frames; i++ {
			if f.Err != nil && i == f.FailAfter {
				req.Fail(f.Err)
				return
			}
			select {
			case output <- rtc.Tone(SampleRate, 440, 0.3, i):
			case <-ctx.Done():
				return
			}
			if f.Pace > 0 {
				time.Sleep(f.Pace)
			}
		}
	}()
	return output, nil
}

func (f *FakeTTS) Capabilities() tts.Capabilities {
	return tts.Capabilities{Streaming: true, SampleRate: SampleRate}
}

// Texts returns the text of every request in order.
func (f *FakeTTS) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	texts := make([]string, len(f.requests))
	for i, r := range f.requests {
		texts[i] = r.Text
	}
	return texts
}

// Requests returns every synthesis request received.
func (f *FakeTTS) Requests() []tts.SynthesizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tts.SynthesizeRequest(nil), f.requests...)
}
