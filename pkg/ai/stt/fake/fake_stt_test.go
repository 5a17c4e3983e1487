package fake

import (
	"context"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

func TestFakeSTTStream(t *testing.T) {
	is := is.New(t)

	provider := NewFakeSTT("hello world")
	stream, err := provider.NewStream(context.Background(), stt.StreamConfig{SampleRate: 16000, NumChannels: 1, Language: "ja"})
	is.NoErr(err)

	for i := 0; i < InterimResultFrameInterval; i++ {
		is.NoErr(stream.Push(rtc.Silence(16000, 1)))
	}
	is.NoErr(stream.CloseSend())

	var events []stt.SpeechEvent
	for ev := range stream.Events() {
		events = append(events, ev)
	}

	is.Equal(len(events), 2) // one interim then the final
	is.Equal(events[0].Type, stt.SpeechEventInterim)
	is.Equal(events[1].Text, "hello world")
	is.True(events[1].IsFinal)
	is.Equal(events[1].Language, "ja") // language from stream config
	is.Equal(provider.Frames(), InterimResultFrameInterval)

	is.True(stream.Push(rtc.Silence(16000, 1)) != nil) // push after close fails
	is.NoErr(stream.CloseSend())                       // second close is a no-op
}

func TestFakeSTTScriptedTranscripts(t *testing.T) {
	tests := []struct {
		name        string
		transcripts []string
		streams     int
		wantFinals  []string
	}{
		{name: "default", streams: 1, wantFinals: []string{DefaultTranscript}},
		{name: "in order", transcripts: []string{"one", "two"}, streams: 2, wantFinals: []string{"one", "two"}},
		{name: "last repeats", transcripts: []string{"one", "two"}, streams: 3, wantFinals: []string{"one", "two", "two"}},
		{name: "empty means no final", transcripts: []string{""}, streams: 1, wantFinals: []string{""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewFakeSTT(tt.transcripts...)
			for i := 0; i < tt.streams; i++ {
				stream, _ := provider.NewStream(context.Background(), stt.StreamConfig{})
				_ = stream.CloseSend()

				var final string
				for ev := range stream.Events() {
					if ev.IsFinal {
						final = ev.Text
					}
				}
				if final != tt.wantFinals[i] {
					t.Errorf("stream %d: final = %q, want %q", i, final, tt.wantFinals[i])
				}
			}
			if provider.Streams() != tt.streams {
				t.Errorf("expected %d streams, got %d", tt.streams, provider.Streams())
			}
		})
	}
}
