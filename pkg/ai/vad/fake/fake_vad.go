package fake

import (
	"context"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/vad"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

const (
	// DefaultThreshold is the RMS level above which a frame counts as speech.
	DefaultThreshold = 500
	// DefaultStartFrames of consecutive speech open a segment.
	DefaultStartFrames = 2
	// DefaultEndFrames of consecutive silence close a segment.
	DefaultEndFrames = 5
)

// FakeVAD is a deterministic level detector: loud frames are speech, quiet frames are not.
type FakeVAD struct {
	Threshold   float64
	StartFrames int
	EndFrames   int
}

func NewFakeVAD() *FakeVAD {
	return &FakeVAD{
		Threshold:   DefaultThreshold,
		StartFrames: DefaultStartFrames,
		EndFrames:   DefaultEndFrames,
	}
}

func (f *FakeVAD) Detect(ctx context.Context, frames <-chan rtc.AudioFrame) (<-chan vad.Event, error) {
	output := make(chan vad.Event, 10)

	go func() {
		defer close(output)

		emit := func(ev vad.Event) bool {
			select {
			case output <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var speaking bool
		var voiced, silent int
		var started time.Time

		for {
			select {
			case frame, ok := <-frames:
				if !ok {
					if speaking {
						emit(vad.Event{Type: vad.EventSpeechEnd, Timestamp: time.Now(), SpeechDuration: time.Since(started)})
					}
					return
				}

				if rtc.RMS(frame.Samples()) > f.Threshold {
					voiced++
					silent = 0
				} else {
					silent++
					voiced = 0
				}

				switch {
				case !speaking && voiced >= f.StartFrames:
					speaking = true
					started = time.Now()
					if !emit(vad.Event{Type: vad.EventSpeechStart, Timestamp: started, Probability: 1}) {
						return
					}
				case speaking && silent >= f.EndFrames:
					speaking = false
					if !emit(vad.Event{Type: vad.EventSpeechEnd, Timestamp: time.Now(), SpeechDuration: time.Since(started)}) {
						return
					}
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	return output, nil
}

func (f *FakeVAD) Capabilities() vad.Capabilities {
	return vad.Capabilities{
		SampleRate:          16000,
		MinSpeechDuration:   time.Duration(f.StartFrames) * rtc.FrameDuration,
		MinSilenceDuration:  time.Duration(f.EndFrames) * rtc.FrameDuration,
		ActivationThreshold: f.Threshold,
	}
}
