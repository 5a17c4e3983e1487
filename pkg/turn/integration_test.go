//go:build integration

package turn

import (
	"context"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
)

// TestPredictEndOfTurnIntegration runs the multilingual model from LK_MODEL_PATH.
func TestPredictEndOfTurnIntegration(t *testing.T) {
	is := is.New(t)

	detector, err := NewONNXDetector("multilingual", "")
	is.NoErr(err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	prob, err := detector.PredictEndOfTurn(ctx, Input{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "こんにちは、元気ですか？"}},
		Language: "ja",
	})
	if err != nil {
		t.Skipf("Skipping integration test, ONNX runtime or model not available: %v", err)
	}
	is.True(prob >= 0 && prob <= 1) // probability in range
}
