// Package inference resolves "provider/model" strings to speech and language
// model clients. Providers register with the plugin registry from init.
package inference

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin"
)

var (
	ErrInvalidModel    = errors.New("model must be in provider/model form")
	ErrUnknownProvider = errors.New("unknown inference provider")
	ErrMissingAPIKey   = errors.New("missing API key")
)

// SpeechToText is a resolved STT model.
type SpeechToText interface {
	stt.STT
	Model() string
	Language() string
}

// TextToSpeech is a resolved TTS model and voice.
type TextToSpeech interface {
	tts.TTS
	Model() string
	Voice() string
}

// STT resolves a streaming recognizer such as "deepgram/nova-2".
func STT(model, language string) (SpeechToText, error) {
	provider, name, err := ParseModel(model)
	if err != nil {
		return nil, err
	}
	return build[SpeechToText](plugin.KindSTT, provider, map[string]any{
		"model":    name,
		"language": language,
	})
}

// LLM resolves a chat model such as "openai/gpt-4.1-mini".
func LLM(model string) (llm.LLM, error) {
	provider, name, err := ParseModel(model)
	if err != nil {
		return nil, err
	}
	return build[llm.LLM](plugin.KindLLM, provider, map[string]any{"model": name})
}

// TTS resolves a synthesizer such as "cartesia/sonic-3" speaking with voice.
func TTS(model, voice string) (TextToSpeech, error) {
	provider, name, err := ParseModel(model)
	if err != nil {
		return nil, err
	}
	return build[TextToSpeech](plugin.KindTTS, provider, map[string]any{
		"model": name,
		"voice": voice,
	})
}

// ParseModel splits "provider/model". The model part may itself contain slashes.
func ParseModel(s string) (provider, model string, err error) {
	provider, model, ok := strings.Cut(s, "/")
	if !ok || provider == "" || model == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidModel, s)
	}
	return strings.ToLower(provider), model, nil
}

func build[T any](kind, provider string, cfg map[string]any) (T, error) {
	if _, ok := plugin.Get(kind, provider); !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s %q", ErrUnknownProvider, kind, provider)
	}
	return plugin.New[T](kind, provider, cfg)
}

func cfgString(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return s
}

// apiKey prefers an explicit key and falls back to the environment.
func apiKey(explicit, env string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if key := os.Getenv(env); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("%w: set %s", ErrMissingAPIKey, env)
}
