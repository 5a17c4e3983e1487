package agents

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/chriscow/livekit-voice-agent/pkg/ai/llm"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/stt"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/tts"
	"github.com/chriscow/livekit-voice-agent/pkg/ai/vad"
	"github.com/chriscow/livekit-voice-agent/pkg/inference"
	"github.com/chriscow/livekit-voice-agent/pkg/plugin/silero"
	"github.com/chriscow/livekit-voice-agent/pkg/session"
	"github.com/chriscow/livekit-voice-agent/pkg/turn"
)

// Pipeline is the literal configuration of the dialogue session.
type Pipeline struct {
	STTModel string
	Language string
	LLMModel string
	TTSModel string
	Voice    string

	PreemptiveGeneration     bool
	ResumeFalseInterruption  bool
	FalseInterruptionTimeout time.Duration

	// ModelPath is the directory holding the VAD and turn detector models.
	// Empty means LK_MODEL_PATH, then ~/.livekit/models.
	ModelPath string

	// Components replaces the inference-backed slots when set.
	Components *Components
}

// Components are prebuilt pipeline slots.
type Components struct {
	STT          stt.STT
	LLM          llm.LLM
	TTS          tts.TTS
	VAD          vad.VAD
	TurnDetector turn.Detector
}

// DefaultPipeline is the Japanese dialogue pipeline.
func DefaultPipeline() Pipeline {
	return Pipeline{
		STTModel:                 "deepgram/nova-2",
		Language:                 "ja",
		LLMModel:                 "openai/gpt-4.1-mini",
		TTSModel:                 "cartesia/sonic-3",
		Voice:                    "59d4fd2f-f5eb-4410-8105-58db7661144f",
		PreemptiveGeneration:     true,
		ResumeFalseInterruption:  true,
		FalseInterruptionTimeout: time.Second,
	}
}

// BuildSession resolves the pipeline slots and returns an unstarted session.
func BuildSession(p Pipeline, logger *slog.Logger) (*session.AgentSession, error) {
	c := p.Components
	if c == nil {
		var err error
		if c, err = p.resolve(); err != nil {
			return nil, err
		}
	}

	return session.New(session.Options{
		STT:                      c.STT,
		LLM:                      c.LLM,
		TTS:                      c.TTS,
		VAD:                      c.VAD,
		TurnDetector:             c.TurnDetector,
		PreemptiveGeneration:     p.PreemptiveGeneration,
		ResumeFalseInterruption:  p.ResumeFalseInterruption,
		FalseInterruptionTimeout: p.FalseInterruptionTimeout,
		Language:                 p.Language,
		Logger:                   logger,
	})
}

func (p Pipeline) resolve() (*Components, error) {
	s, err := inference.STT(p.STTModel, p.Language)
	if err != nil {
		return nil, fmt.Errorf("stt %s: %w", p.STTModel, err)
	}
	l, err := inference.LLM(p.LLMModel)
	if err != nil {
		return nil, fmt.Errorf("llm %s: %w", p.LLMModel, err)
	}
	t, err := inference.TTS(p.TTSModel, p.Voice)
	if err != nil {
		return nil, fmt.Errorf("tts %s: %w", p.TTSModel, err)
	}
	td, err := turn.NewDetector(turn.Config{Model: "multilingual", ModelPath: p.ModelPath})
	if err != nil {
		return nil, fmt.Errorf("turn detector: %w", err)
	}
	return &Components{
		STT:          s,
		LLM:          l,
		TTS:          t,
		VAD:          silero.Load(silero.WithModelDir(p.ModelPath)),
		TurnDetector: td,
	}, nil
}
