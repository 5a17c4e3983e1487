package silero

import (
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
)

func newVAD(cfg map[string]any) (any, error) {
	var opts []Option
	if th, ok := cfg["threshold"].(float64); ok {
		opts = append(opts, WithActivationThreshold(th))
	}
	if ms, ok := cfg["minSpeechMs"].(int); ok {
		opts = append(opts, WithMinSpeechDuration(time.Duration(ms)*time.Millisecond))
	}
	if ms, ok := cfg["minSilenceMs"].(int); ok {
		opts = append(opts, WithMinSilenceDuration(time.Duration(ms)*time.Millisecond))
	}
	if rate, ok := cfg["sampleRate"].(int); ok {
		opts = append(opts, WithSampleRate(rate))
	}
	if path, ok := cfg["modelPath"].(string); ok && path != "" {
		opts = append(opts, WithModelPath(path))
	}
	return Load(opts...), nil
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindVAD,
		Name:        "silero",
		Factory:     newVAD,
		Description: "Silero VAD with energy fallback",
		Version:     "5.1",
		Config: map[string]any{
			"threshold":    DefaultThreshold,
			"minSpeechMs":  int(DefaultMinSpeechDuration / time.Millisecond),
			"minSilenceMs": int(DefaultMinSilenceDuration / time.Millisecond),
			"sampleRate":   DefaultSampleRate,
			"modelPath":    "",
		},
		Downloader: NewDownloader(),
	})
}
