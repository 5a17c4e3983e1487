package tts

import (
	"context"

	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

// SynthesizeRequest contains parameters for text-to-speech synthesis.
type SynthesizeRequest struct {
	Text     string
	Voice    string
	Language string
	Speed    float32

	// OnError, when set, is called once if the stream fails after Synthesize
	// has returned. It runs before the frame channel is closed.
	OnError func(error)
}

// Fail reports err through r.OnError, if set.
func (r SynthesizeRequest) Fail(err error) {
	if r.OnError != nil && err != nil {
		r.OnError(err)
	}
}

// Capabilities describes a TTS provider.
type Capabilities struct {
	Streaming  bool
	SampleRate int
}

// TTS is the main interface for text-to-speech providers.
type TTS interface {
	// Synthesize converts text to audio frames. The returned channel is closed
	// when synthesis completes or ctx is cancelled.
	Synthesize(ctx context.Context, req SynthesizeRequest) (<-chan rtc.AudioFrame, error)

	Capabilities() Capabilities
}
