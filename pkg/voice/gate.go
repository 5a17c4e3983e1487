// Package voice holds the microphone gate used while the agent speaks.
package voice

import "sync/atomic"

// AudioGate decides whether microphone frames reach speech detection.
// While the agent is speaking and interruptions are disallowed, user audio
// is discarded so it can neither interrupt nor start a new turn.
type AudioGate struct {
	speaking           atomic.Bool
	allowInterruptions atomic.Bool
}

// NewAudioGate returns an open gate.
func NewAudioGate(allowInterruptions bool) *AudioGate {
	g := &AudioGate{}
	g.allowInterruptions.Store(allowInterruptions)
	return g
}

// SetSpeaking records whether agent audio is playing.
func (g *AudioGate) SetSpeaking(speaking bool) {
	g.speaking.Store(speaking)
}

// SetAllowInterruptions changes the interruption policy, e.g. when the agent persona changes.
func (g *AudioGate) SetAllowInterruptions(allow bool) {
	g.allowInterruptions.Store(allow)
}

func (g *AudioGate) Speaking() bool {
	return g.speaking.Load()
}

// Discard reports whether a microphone frame should be dropped.
func (g *AudioGate) Discard() bool {
	return g.speaking.Load() && !g.allowInterruptions.Load()
}
