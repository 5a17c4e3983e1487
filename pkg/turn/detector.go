// Package turn decides whether a user has finished their turn, using the
// LiveKit end-of-utterance models run locally through ONNX Runtime or a
// remote inference endpoint.
package turn

import (
	"context"
	"errors"
	"strings"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
)

var ErrUnsupportedLanguage = errors.New("unsupported language")

// Detector predicts end of utterance from recent conversation.
type Detector interface {
	// UnlikelyThreshold returns the probability below which the turn is
	// considered unfinished for the given language.
	UnlikelyThreshold(language string) (float64, error)

	SupportsLanguage(language string) bool

	// PredictEndOfTurn returns the probability (0-1) that the user has finished speaking.
	PredictEndOfTurn(ctx context.Context, in Input) (float64, error)
}

// Input is the conversation excerpt a prediction is made on.
type Input struct {
	Messages []llm.Message `json:"messages"`
	Language string        `json:"language,omitempty"`
}

// Decision is the outcome of Decide.
type Decision struct {
	EndOfTurn   bool
	Probability float64
	Threshold   float64
}

// Decide consults d and reports whether the turn is over. Unsupported
// languages always end the turn; prediction errors are returned with
// EndOfTurn set so callers can carry on.
func Decide(ctx context.Context, d Detector, in Input) (Decision, error) {
	if d == nil || !d.SupportsLanguage(in.Language) {
		return Decision{EndOfTurn: true, Probability: 1}, nil
	}

	threshold, err := d.UnlikelyThreshold(in.Language)
	if err != nil {
		return Decision{EndOfTurn: true, Probability: 1}, err
	}

	p, err := d.PredictEndOfTurn(ctx, in)
	if err != nil {
		return Decision{EndOfTurn: true, Probability: 1, Threshold: threshold}, err
	}

	return Decision{EndOfTurn: p >= threshold, Probability: p, Threshold: threshold}, nil
}

// languageKeys returns the lookup keys for a language code: the lowercased
// code, then its base language ("ja-JP" -> "ja").
func languageKeys(language string) []string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		return nil
	}
	keys := []string{lang}
	if base, _, ok := strings.Cut(lang, "-"); ok && base != "" {
		keys = append(keys, base)
	}
	return keys
}
