// Package fake registers the in-memory providers under the name "fake" so
// that "fake/<anything>" model strings resolve in tests and local runs.
package fake

import (
	llmfake "github.com/chriscow/livekit-voice-agent/pkg/ai/llm/fake"
	sttfake "github.com/chriscow/livekit-voice-agent/pkg/ai/stt/fake"
	ttsfake "github.com/chriscow/livekit-voice-agent/pkg/ai/tts/fake"
	vadfake "github.com/chriscow/livekit-voice-agent/pkg/ai/vad/fake"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
	turnfake "github.com/chriscow/livekit-voice-agent/pkg/turn/fake"
)

const Name = "fake"

func newFakeSTT(cfg map[string]any) (any, error) {
	var transcripts []string
	if t, ok := cfg["transcript"].(string); ok {
		transcripts = append(transcripts, t)
	}
	if t, ok := cfg["transcripts"].([]string); ok {
		transcripts = append(transcripts, t...)
	}
	return sttfake.NewFakeSTT(transcripts...), nil
}

func newFakeTTS(cfg map[string]any) (any, error) {
	f := ttsfake.NewFakeTTS()
	if n, ok := cfg["frames"].(int); ok {
		f.Frames = n
	}
	return f, nil
}

func newFakeLLM(cfg map[string]any) (any, error) {
	responses, _ := cfg["responses"].([]string)
	return llmfake.NewFakeLLM(responses...), nil
}

func newFakeVAD(cfg map[string]any) (any, error) {
	v := vadfake.NewFakeVAD()
	if t, ok := cfg["threshold"].(float64); ok {
		v.Threshold = t
	}
	return v, nil
}

func newFakeTurn(cfg map[string]any) (any, error) {
	d := turnfake.NewFakeTurnDetector()
	if p, ok := cfg["probability"].(float64); ok {
		d.Probability = p
	}
	return d, nil
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSTT,
		Name:        Name,
		Factory:     newFakeSTT,
		Description: "Scripted transcripts, one per stream",
		Version:     "1.0.0",
		Config:      map[string]any{"transcript": "", "transcripts": []string{}},
	})
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTTS,
		Name:        Name,
		Factory:     newFakeTTS,
		Description: "440 Hz tone per request",
		Version:     "1.0.0",
		Config:      map[string]any{"frames": ttsfake.DefaultFrames},
	})
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindLLM,
		Name:        Name,
		Factory:     newFakeLLM,
		Description: "Scripted chat responses",
		Version:     "1.0.0",
		Config:      map[string]any{"responses": []string{}},
	})
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindVAD,
		Name:        Name,
		Factory:     newFakeVAD,
		Description: "Level threshold detector",
		Version:     "1.0.0",
		Config:      map[string]any{"threshold": float64(vadfake.DefaultThreshold)},
	})
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindTurn,
		Name:        Name,
		Factory:     newFakeTurn,
		Description: "Fixed end-of-turn probability",
		Version:     "1.0.0",
		Config:      map[string]any{"probability": 0.85},
	})
}
