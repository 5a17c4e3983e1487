package fake

import (
	"context"
	"sync"

	"github.com/chriscow/livekit-voice-agent/pkg/turn"
)

// FakeTurnDetector returns a fixed probability and threshold and records every input.
type FakeTurnDetector struct {
	Probability float64
	Threshold   float64
	Err         error

	mu     sync.Mutex
	inputs []turn.Input
}

// NewFakeTurnDetector returns a detector that always reports end of turn.
func NewFakeTurnDetector() *FakeTurnDetector {
	return &FakeTurnDetector{Probability: 0.85, Threshold: 0.5}
}

// NewFakeTurnDetectorWithValues creates a fake detector with specific values.
func NewFakeTurnDetectorWithValues(probability, threshold float64) *FakeTurnDetector {
	return &FakeTurnDetector{Probability: probability, Threshold: threshold}
}

func (f *FakeTurnDetector) UnlikelyThreshold(language string) (float64, error) {
	return f.Threshold, nil
}

func (f *FakeTurnDetector) SupportsLanguage(language string) bool {
	return true
}

func (f *FakeTurnDetector) PredictEndOfTurn(ctx context.Context, in turn.Input) (float64, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	return f.Probability, nil
}

// Inputs returns every prediction input received.
func (f *FakeTurnDetector) Inputs() []turn.Input {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]turn.Input(nil), f.inputs...)
}
