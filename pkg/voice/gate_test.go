package voice

import (
	"sync"
	"testing"
)

func TestAudioGate(t *testing.T) {
	tests := []struct {
		name     string
		allow    bool
		speaking bool
		want     bool
	}{
		{name: "idle, interruptions allowed", allow: true, speaking: false, want: false},
		{name: "idle, interruptions disallowed", allow: false, speaking: false, want: false},
		{name: "speaking, interruptions allowed", allow: true, speaking: true, want: false},
		{name: "speaking, interruptions disallowed", allow: false, speaking: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewAudioGate(tt.allow)
			g.SetSpeaking(tt.speaking)
			if got := g.Discard(); got != tt.want {
				t.Errorf("Discard() = %v, want %v", got, tt.want)
			}
			if g.Speaking() != tt.speaking {
				t.Errorf("Speaking() = %v, want %v", g.Speaking(), tt.speaking)
			}
		})
	}
}

func TestAudioGate_PolicyChange(t *testing.T) {
	g := NewAudioGate(true)
	g.SetSpeaking(true)
	if g.Discard() {
		t.Fatal("gate should stay open while interruptions are allowed")
	}
	g.SetAllowInterruptions(false)
	if !g.Discard() {
		t.Fatal("gate should close once interruptions are disallowed")
	}
}

func TestAudioGateConcurrency(t *testing.T) {
	g := NewAudioGate(false)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(speaking bool) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				g.SetSpeaking(speaking)
			}
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = g.Discard()
			}
		}()
	}
	wg.Wait()
}
