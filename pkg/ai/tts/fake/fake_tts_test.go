package fake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
)

func TestFakeTTSSynthesize(t *testing.T) {
	is := is.New(t)

	provider := &FakeTTS{Frames: 5}
	frames, err := provider.Synthesize(context.Background(), tts.SynthesizeRequest{Text: "hello", Voice: "v1"})
	is.NoErr(err)

	count := 0
	for f := range frames {
		is.Equal(f.SampleRate, SampleRate)
		is.Equal(f.Timestamp, time.Duration(count)*10*time.Millisecond) // contiguous timestamps
		count++
	}
	is.Equal(count, 5)
	is.Equal(provider.Texts(), []string{"hello"})
	is.Equal(provider.Requests()[0].Voice, "v1")
}

func TestFakeTTSCancel(t *testing.T) {
	provider := &FakeTTS{Frames: 1000, Pace: time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())

	frames, err := provider.Synthesize(ctx, tts.SynthesizeRequest{Text: "long"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	<-frames
	cancel()

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel should close after cancel")
		}
	}
}

func TestFakeTTSFailure(t *testing.T) {
	is := is.New(t)

	boom := errors.New("voice unavailable")
	provider := &FakeTTS{Frames: 10, Err: boom, FailAfter: 4}

	var got error
	frames, err := provider.Synthesize(context.Background(), tts.SynthesizeRequest{
		Text:    "hello",
		OnError: func(err error) { got = err },
	})
	is.NoErr(err) // failure happens mid-stream

	count := 0
	for range frames {
		count++
	}
	is.Equal(count, 4)
	is.Equal(got, boom) // reported before the channel closed
}
