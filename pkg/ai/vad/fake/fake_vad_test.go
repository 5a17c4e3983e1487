package fake

import (
	"context"
	"testing"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/vad"
	"github.com/chriscow/livekit-voice-agent/pkg/rtc"
)

func TestFakeVADSegments(t *testing.T) {
	tests := []struct {
		name   string
		script []bool // true = loud frame
		want   []vad.EventType
	}{
		{
			name:   "silence only",
			script: []bool{false, false, false},
		},
		{
			name:   "single blip is ignored",
			script: []bool{true, false, false, false, false, false},
		},
		{
			name:   "one utterance",
			script: []bool{true, true, true, false, false, false, false, false},
			want:   []vad.EventType{vad.EventSpeechStart, vad.EventSpeechEnd},
		},
		{
			name:   "speech until input closes",
			script: []bool{true, true, true},
			want:   []vad.EventType{vad.EventSpeechStart, vad.EventSpeechEnd},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			frames := make(chan rtc.AudioFrame, len(tt.script))
			for i, loud := range tt.script {
				if loud {
					frames <- rtc.Tone(16000, 300, 0.5, i)
				} else {
					frames <- rtc.Silence(16000, 1)
				}
			}
			close(frames)

			events, err := NewFakeVAD().Detect(ctx, frames)
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}

			var got []vad.EventType
			for ev := range events {
				got = append(got, ev.Type)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got events %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("event %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}
